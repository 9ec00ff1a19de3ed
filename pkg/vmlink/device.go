package vmlink

import "fmt"

// DeviceState mirrors the OS device states reported with state-change notifications
type DeviceState uint32

const (
	DeviceActive     DeviceState = 0x1
	DeviceDisabled   DeviceState = 0x2
	DeviceNotPresent DeviceState = 0x4
	DeviceUnplugged  DeviceState = 0x8
)

func (s DeviceState) String() string {
	switch s {
	case DeviceActive:
		return "active"
	case DeviceDisabled:
		return "disabled"
	case DeviceNotPresent:
		return "not present"
	case DeviceUnplugged:
		return "unplugged"
	default:
		return fmt.Sprintf("unknown (%#x)", uint32(s))
	}
}

// DeviceFlow tells playback devices from recording devices
type DeviceFlow string

const (
	DeviceOutput DeviceFlow = "output"
	DeviceInput  DeviceFlow = "input"
)

// DeviceInfo describes one active device. ID is the value hotplug.device_id and mirror.device expect
type DeviceInfo struct {
	ID   string     `yaml:"id"`
	Name string     `yaml:"name"`
	Flow DeviceFlow `yaml:"flow"`
}

// DeviceListener receives device notifications. Calls arrive on a thread owned by the OS
// notification machinery and must return quickly
type DeviceListener interface {
	OnDeviceAdded(deviceID string)
	OnDeviceRemoved(deviceID string)
	OnDeviceStateChanged(deviceID string, state DeviceState)
}

// SubscriptionToken identifies one DeviceNotifier subscription
type SubscriptionToken uint64

// DeviceNotifier delivers device arrival/removal notifications
type DeviceNotifier interface {
	Subscribe(listener DeviceListener) (SubscriptionToken, error)
	Unsubscribe(token SubscriptionToken) error

	// IsPresent reports whether the device with the given id is currently active
	IsPresent(deviceID string) (bool, error)

	// Devices lists the currently active devices
	Devices() ([]DeviceInfo, error)

	Release() error
}

// listenerSet is the subscription bookkeeping shared by the platform notifiers
type listenerSet struct {
	nextToken SubscriptionToken
	listeners map[SubscriptionToken]DeviceListener
}

func (ls *listenerSet) add(listener DeviceListener) SubscriptionToken {
	if ls.listeners == nil {
		ls.listeners = make(map[SubscriptionToken]DeviceListener)
	}

	ls.nextToken++
	ls.listeners[ls.nextToken] = listener

	return ls.nextToken
}

func (ls *listenerSet) remove(token SubscriptionToken) bool {
	if _, ok := ls.listeners[token]; !ok {
		return false
	}

	delete(ls.listeners, token)
	return true
}

func (ls *listenerSet) snapshot() []DeviceListener {
	result := make([]DeviceListener, 0, len(ls.listeners))
	for _, listener := range ls.listeners {
		result = append(result, listener)
	}

	return result
}
