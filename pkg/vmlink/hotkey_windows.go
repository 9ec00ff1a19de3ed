package vmlink

import (
	"fmt"
	"runtime"

	"github.com/lxn/win"
	"go.uber.org/zap"
	"golang.org/x/sys/windows"
)

const (
	wmHotkey = 0x0312
	hotkeyID = 1
)

var (
	user32                 = windows.NewLazySystemDLL("user32.dll")
	procRegisterHotKey     = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey   = user32.NewProc("UnregisterHotKey")
	procPostThreadMessageW = user32.NewProc("PostThreadMessageW")
)

type hotkeyListener struct {
	logger   *zap.SugaredLogger
	threadID uint32
	done     chan struct{}
}

// startHotkeyListener registers a global hotkey on a dedicated, locked thread and runs
// its message loop until stopped. onPress runs on its own goroutine
func startHotkeyListener(logger *zap.SugaredLogger, hk Hotkey, onPress func()) (*hotkeyListener, error) {
	logger = logger.Named("hotkey")

	hl := &hotkeyListener{
		logger: logger,
		done:   make(chan struct{}),
	}

	ready := make(chan error)

	go func() {
		// hotkey messages go to the thread that registered it
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(hl.done)

		hl.threadID = windows.GetCurrentThreadId()

		r, _, err := procRegisterHotKey.Call(0, hotkeyID, uintptr(hk.Modifiers|modNoRepeat), uintptr(hk.Key))
		if r == 0 {
			ready <- fmt.Errorf("register hotkey %s: %w", hk, err)
			return
		}
		defer procUnregisterHotKey.Call(0, hotkeyID)

		ready <- nil

		var msg win.MSG
		for win.GetMessage(&msg, 0, 0, 0) > 0 {
			if msg.Message == wmHotkey && msg.WParam == hotkeyID {
				logger.Debugw("Hotkey pressed", "hotkey", hk.String())
				go onPress()
			}
		}

		logger.Debug("Hotkey message loop exited")
	}()

	if err := <-ready; err != nil {
		logger.Warnw("Failed to register hotkey", "hotkey", hk.String(), "error", err)
		return nil, err
	}

	logger.Infow("Registered hotkey", "hotkey", hk.String())

	return hl, nil
}

func (hl *hotkeyListener) Stop() {
	r, _, err := procPostThreadMessageW.Call(uintptr(hl.threadID), uintptr(win.WM_QUIT), 0, 0)
	if r == 0 {
		hl.logger.Warnw("Failed to post quit message to hotkey thread", "error", err)
		return
	}

	<-hl.done
}
