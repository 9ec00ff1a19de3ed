package vmlink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannelType(t *testing.T) {
	for _, name := range []string{"input", "Strip", " IN "} {
		channelType, err := ParseChannelType(name)
		require.NoError(t, err, name)
		assert.Equal(t, ChannelInput, channelType, name)
	}

	for _, name := range []string{"output", "BUS", "out"} {
		channelType, err := ParseChannelType(name)
		require.NoError(t, err, name)
		assert.Equal(t, ChannelOutput, channelType, name)
	}

	_, err := ParseChannelType("aux")
	assert.ErrorIs(t, err, ErrInvalidChannelType)
}

func TestChannelRefParams(t *testing.T) {
	strip := ChannelRef{Type: ChannelInput, Index: 0}
	bus := ChannelRef{Type: ChannelOutput, Index: 3}

	assert.Equal(t, "Strip[0]", strip.String())
	assert.Equal(t, "Strip[0].Gain", strip.GainParam())
	assert.Equal(t, "Bus[3].Mute", bus.MuteParam())
}

func TestVariantLimits(t *testing.T) {
	for variant, expected := range map[Variant][2]uint{
		VariantStandard: {3, 2},
		VariantBanana:   {5, 5},
		VariantPotato:   {8, 8},
	} {
		strips, buses, ok := variant.Limits()
		require.True(t, ok, variant.String())
		assert.Equal(t, expected, [2]uint{strips, buses}, variant.String())
	}

	_, _, ok := VariantUnknown.Limits()
	assert.False(t, ok)
	assert.False(t, Variant(4).Valid())
}

func TestLoginStatus(t *testing.T) {
	assert.True(t, LoginOK.LoggedIn())
	assert.True(t, LoginAlreadyLoggedIn.LoggedIn())
	assert.False(t, LoginOKNotLaunched.LoggedIn())
	assert.False(t, LoginNoClient.LoggedIn())
}

func TestChangeDetector(t *testing.T) {
	d := ChangeDetector{Threshold: 1}
	cached := ChannelState{VolumePercent: 40}

	assert.False(t, d.Changed(ChannelState{VolumePercent: 40}, cached))
	assert.False(t, d.Changed(ChannelState{VolumePercent: 41}, cached))
	assert.False(t, d.Changed(ChannelState{VolumePercent: 39.5}, cached))
	assert.True(t, d.Changed(ChannelState{VolumePercent: 41.01}, cached))
	assert.True(t, d.Changed(ChannelState{VolumePercent: 38}, cached))

	// a mute flip counts no matter the volume
	assert.True(t, d.Changed(ChannelState{VolumePercent: 40, Muted: true}, cached))

	exact := ChangeDetector{}
	assert.True(t, exact.Changed(ChannelState{VolumePercent: 40.01}, cached))
}

func TestEngineChannelEndpoint(t *testing.T) {
	engine := newFakeEngine(VariantStandard)
	m := newTestSession(t, engine, false)
	require.NoError(t, m.Initialize(context.Background()))

	_, err := newEngineChannel(m, ChannelRef{Type: ChannelOutput, Index: 2})
	assert.ErrorIs(t, err, ErrInvalidChannel)

	channel, err := newEngineChannel(m, ChannelRef{Type: ChannelOutput, Index: 1})
	require.NoError(t, err)
	assert.Equal(t, "engine.Bus[1]", channel.Key())

	// initialization consumed the dirty flag
	changed, err := channel.Changed()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, channel.SetVolume(55))
	assert.Contains(t, engine.setParams(), "Bus[1].Gain=-20.4")

	changed, err = channel.Changed()
	require.NoError(t, err)
	assert.True(t, changed)

	volume, err := channel.GetVolume()
	require.NoError(t, err)
	assert.Equal(t, 55.0, volume)
}
