package vmlink

import (
	"fmt"
	"math"
)

// DefaultChangeThreshold absorbs jitter from repeated dB <-> percent conversions
const DefaultChangeThreshold = 1.0

// ChannelState is the last known volume/mute of one side
type ChannelState struct {
	VolumePercent float64 `yaml:"volume"`
	Muted         bool    `yaml:"muted"`
}

func (s ChannelState) String() string {
	return fmt.Sprintf("%.2f%% (muted: %t)", s.VolumePercent, s.Muted)
}

// ChangeDetector decides whether a fresh reading differs significantly from a cached one
type ChangeDetector struct {
	Threshold float64
}

// Changed is true when the volume moved by more than the threshold or the mute flag flipped
func (d ChangeDetector) Changed(next, cached ChannelState) bool {
	if next.Muted != cached.Muted {
		return true
	}

	return d.volumeChanged(next, cached)
}

func (d ChangeDetector) volumeChanged(next, cached ChannelState) bool {
	return math.Abs(next.VolumePercent-cached.VolumePercent) > d.Threshold
}

// AudioEndpoint is one side of the mirror
type AudioEndpoint interface {
	Key() string

	GetVolume() (float64, error)
	SetVolume(percent float64) error

	GetMute() (bool, error)
	SetMute(muted bool) error

	// Changed reports whether something may have changed since the last call.
	// Endpoints without change tracking always return true
	Changed() (bool, error)

	Release()
}

func readState(endpoint AudioEndpoint) (ChannelState, error) {
	volume, err := endpoint.GetVolume()
	if err != nil {
		return ChannelState{}, fmt.Errorf("get %s volume: %w", endpoint.Key(), err)
	}

	muted, err := endpoint.GetMute()
	if err != nil {
		return ChannelState{}, fmt.Errorf("get %s mute: %w", endpoint.Key(), err)
	}

	return ChannelState{VolumePercent: volume, Muted: muted}, nil
}
