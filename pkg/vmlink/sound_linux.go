package vmlink

import (
	"fmt"

	"github.com/gen2brain/beeep"
)

// there's no dependable file player on every desktop, so the cue falls back to a beep
func playSoundFile(_ string) error {
	if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
		return fmt.Errorf("beep: %w", err)
	}

	return nil
}
