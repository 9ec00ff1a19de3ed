package vmlink

import (
	"errors"
	"sync"
	"testing"

	"github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) record(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
}

func (l *recordingListener) OnDeviceAdded(deviceID string)   { l.record("added " + deviceID) }
func (l *recordingListener) OnDeviceRemoved(deviceID string) { l.record("removed " + deviceID) }

func (l *recordingListener) OnDeviceStateChanged(deviceID string, state DeviceState) {
	l.record("state " + deviceID + " " + state.String())
}

func (l *recordingListener) recorded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.events...)
}

func newTestPANotifier(t *testing.T, names map[deviceKey]string,
	lookup func(deviceKey) (string, error)) (*paDeviceNotifier, *recordingListener) {
	t.Helper()

	dn := &paDeviceNotifier{
		logger: zaptest.NewLogger(t).Sugar(),
		names:  names,
		lookup: lookup,
	}

	listener := &recordingListener{}
	_, err := dn.Subscribe(listener)
	require.NoError(t, err)

	return dn, listener
}

func TestPANotifierReportsNewDeviceByName(t *testing.T) {
	headset := deviceKey{facility: proto.EventSink, index: 7}

	dn, listener := newTestPANotifier(t, map[deviceKey]string{}, func(key deviceKey) (string, error) {
		assert.Equal(t, headset, key)
		return "alsa_output.usb-headset.analog-stereo", nil
	})

	dn.handle(deviceEvent{key: headset})

	assert.Equal(t, []string{"added alsa_output.usb-headset.analog-stereo"}, listener.recorded())
	assert.Equal(t, "alsa_output.usb-headset.analog-stereo", dn.names[headset])
}

func TestPANotifierRemovalUsesRememberedName(t *testing.T) {
	mic := deviceKey{facility: proto.EventSource, index: 3}
	speakers := deviceKey{facility: proto.EventSink, index: 3}

	dn, listener := newTestPANotifier(t, map[deviceKey]string{
		mic:      "alsa_input.usb-headset.mono",
		speakers: "alsa_output.pci.analog-stereo",
	}, func(deviceKey) (string, error) {
		t.Fatal("removals must not query the server")
		return "", nil
	})

	dn.handle(deviceEvent{key: mic, removed: true})

	assert.Equal(t, []string{"removed alsa_input.usb-headset.mono"}, listener.recorded())
	assert.NotContains(t, dn.names, mic)

	// same index on the other facility is a different device
	assert.Equal(t, "alsa_output.pci.analog-stereo", dn.names[speakers])

	// a second removal of the same device is unknown by now
	dn.handle(deviceEvent{key: mic, removed: true})
	assert.Len(t, listener.recorded(), 1)
}

func TestPANotifierSkipsDeviceItCannotName(t *testing.T) {
	key := deviceKey{facility: proto.EventSink, index: 9}

	dn, listener := newTestPANotifier(t, map[deviceKey]string{}, func(deviceKey) (string, error) {
		return "", errors.New("no such entity")
	})

	dn.handle(deviceEvent{key: key})

	assert.Empty(t, listener.recorded())
	assert.Empty(t, dn.names)
}

func TestDescribeDevice(t *testing.T) {
	props := proto.PropList{"device.description": proto.PropListString("USB Headset Analog Stereo")}

	assert.Equal(t, "USB Headset Analog Stereo", describe(props, "alsa_output.usb"))
	assert.Equal(t, "alsa_output.usb", describe(proto.PropList{}, "alsa_output.usb"))
	assert.Equal(t, "alsa_output.usb", describe(nil, "alsa_output.usb"))
}
