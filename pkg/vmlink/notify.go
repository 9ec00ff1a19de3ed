package vmlink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

// Notifier provides generic notification sending
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier provides toast notifications for Windows and desktop notifications on Linux
type ToastNotifier struct {
	logger *zap.SugaredLogger
}

func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	tn := &ToastNotifier{logger: logger}

	logger.Debug("Created toast notifier instance")

	return tn, nil
}

// Notify sends a toast notification (or equivalent) and logs any failure
func (tn *ToastNotifier) Notify(title string, message string) {
	// the icon has to live on disk for the notification to pick it up
	appIconPath := filepath.Join(os.TempDir(), "vmlink.ico")

	if !util.FileExists(appIconPath) {
		tn.logger.Debugw("vmlink icon file missing, creating", "path", appIconPath)

		if err := os.WriteFile(appIconPath, VMLinkLogoIconData, 0644); err != nil {
			tn.logger.Errorw("Failed to create toast notification icon", "error", err)
		}
	}

	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, appIconPath); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", fmt.Errorf("beeep notify: %w", err))
	}
}
