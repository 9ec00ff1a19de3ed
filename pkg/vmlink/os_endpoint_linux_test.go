package vmlink

import (
	"testing"

	"github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/assert"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

const volumeNorm = uint32(proto.VolumeNorm)

func TestParseChannelVolumes(t *testing.T) {
	assert.Equal(t, 0.0, parseChannelVolumes(nil))
	assert.Equal(t, 1.0, parseChannelVolumes([]uint32{volumeNorm}))

	// channels are averaged
	assert.Equal(t, 0.75, parseChannelVolumes([]uint32{volumeNorm, volumeNorm / 2}))

	// boosted sinks go past 1 and are clamped on the way to percent
	assert.Equal(t, 100.0, util.ScalarToPercent(parseChannelVolumes([]uint32{volumeNorm * 3 / 2})))
}

func TestCreateChannelVolumes(t *testing.T) {
	assert.Empty(t, createChannelVolumes(0, 0.5))
	assert.Equal(t, []uint32{volumeNorm / 2, volumeNorm / 2}, createChannelVolumes(2, 0.5))
	assert.Equal(t, []uint32{0, 0, 0}, createChannelVolumes(3, 0))

	for _, percent := range []float64{0, 12.5, 40, 73.21, 100} {
		volumes := createChannelVolumes(2, util.PercentToScalar(percent))
		back := util.Round2(util.ScalarToPercent(parseChannelVolumes(volumes)))

		assert.InDelta(t, percent, back, 0.01, "percent=%v", percent)
	}
}
