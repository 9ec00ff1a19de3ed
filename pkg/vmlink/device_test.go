package vmlink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type nopListener struct{}

func (nopListener) OnDeviceAdded(string)                     {}
func (nopListener) OnDeviceRemoved(string)                   {}
func (nopListener) OnDeviceStateChanged(string, DeviceState) {}

func TestListenerSet(t *testing.T) {
	var ls listenerSet

	first := ls.add(nopListener{})
	second := ls.add(nopListener{})

	assert.NotEqual(t, first, second)
	assert.Len(t, ls.snapshot(), 2)

	assert.True(t, ls.remove(first))
	assert.False(t, ls.remove(first))
	assert.Len(t, ls.snapshot(), 1)

	// tokens are never reused
	third := ls.add(nopListener{})
	assert.NotEqual(t, second, third)
	assert.NotEqual(t, first, third)
}

func TestDeviceStateString(t *testing.T) {
	assert.Equal(t, "active", DeviceActive.String())
	assert.Equal(t, "unplugged", DeviceUnplugged.String())
	assert.Equal(t, "unknown (0x10)", DeviceState(0x10).String())
}
