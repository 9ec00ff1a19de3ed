package vmlink

import (
	"time"

	"go.uber.org/zap"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

// SoundPlayer plays short audio cues without blocking the caller
type SoundPlayer interface {
	Play(path string, delay time.Duration)
}

type cuePlayer struct {
	logger *zap.SugaredLogger
}

func NewSoundPlayer(logger *zap.SugaredLogger) SoundPlayer {
	logger = logger.Named("sound")

	logger.Debug("Created sound player instance")

	return &cuePlayer{logger: logger}
}

func (p *cuePlayer) Play(path string, delay time.Duration) {
	go func() {
		if delay > 0 {
			<-time.After(delay)
		}

		if !util.FileExists(path) {
			p.logger.Warnw("Sound file not found", "path", path)
			return
		}

		if err := playSoundFile(path); err != nil {
			p.logger.Warnw("Failed to play sound", "path", path, "error", err)
			return
		}

		p.logger.Debugw("Played sound", "path", path)
	}()
}
