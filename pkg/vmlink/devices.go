package vmlink

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ListDevices returns the active devices, outputs first, each group sorted by name
func ListDevices(notifier DeviceNotifier) ([]DeviceInfo, error) {
	devices, err := notifier.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].Flow != devices[j].Flow {
			return devices[i].Flow == DeviceOutput
		}

		return devices[i].Name < devices[j].Name
	})

	return devices, nil
}

// deviceEventWriter prints one line per device notification
type deviceEventWriter struct {
	lock sync.Mutex
	out  io.Writer
	now  func() time.Time
}

func (w *deviceEventWriter) write(kind string, deviceID string) {
	w.lock.Lock()
	defer w.lock.Unlock()

	fmt.Fprintf(w.out, "%s  %-24s %s\n", w.now().Format("15:04:05.000"), kind, deviceID)
}

func (w *deviceEventWriter) OnDeviceAdded(deviceID string) {
	w.write("added", deviceID)
}

func (w *deviceEventWriter) OnDeviceRemoved(deviceID string) {
	w.write("removed", deviceID)
}

func (w *deviceEventWriter) OnDeviceStateChanged(deviceID string, state DeviceState) {
	w.write("state: "+state.String(), deviceID)
}

// WatchDevices prints every device notification to out until ctx is done
func WatchDevices(ctx context.Context, notifier DeviceNotifier, out io.Writer) error {
	writer := &deviceEventWriter{out: out, now: time.Now}

	token, err := notifier.Subscribe(writer)
	if err != nil {
		return fmt.Errorf("subscribe to device notifications: %w", err)
	}

	<-ctx.Done()

	if err := notifier.Unsubscribe(token); err != nil {
		return fmt.Errorf("unsubscribe from device notifications: %w", err)
	}

	return nil
}

// ReadOSVolume opens the OS endpoint the mirror would use, reads it once and releases it
func ReadOSVolume(logger *zap.SugaredLogger, deviceID string) (string, ChannelState, error) {
	endpoint, err := NewOSEndpoint(logger, deviceID)
	if err != nil {
		return "", ChannelState{}, fmt.Errorf("open OS endpoint: %w", err)
	}
	defer endpoint.Release()

	state, err := readState(endpoint)
	if err != nil {
		return "", ChannelState{}, err
	}

	return endpoint.Key(), state, nil
}
