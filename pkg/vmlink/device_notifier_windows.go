package vmlink

import (
	"errors"
	"fmt"
	"sync"

	"github.com/diegosz/go-wca/pkg/wca"
	"github.com/go-ole/go-ole"
	"go.uber.org/zap"
)

// HRESULT_FROM_WIN32(ERROR_NOT_FOUND), returned by GetDevice for ids the system doesn't know
const eNotFound = 0x80070490

type wcaDeviceNotifier struct {
	logger *zap.SugaredLogger

	mmDeviceEnumerator   *wca.IMMDeviceEnumerator
	mmNotificationClient *wca.IMMNotificationClient

	lock      sync.Mutex
	listeners listenerSet
}

// NewDeviceNotifier creates a notifier backed by the MM device enumerator
func NewDeviceNotifier(logger *zap.SugaredLogger) (DeviceNotifier, error) {
	logger = logger.Named("devices")

	enumerator, err := newDeviceEnumerator(logger)
	if err != nil {
		return nil, err
	}

	dn := &wcaDeviceNotifier{
		logger:             logger,
		mmDeviceEnumerator: enumerator,
	}

	logger.Debug("Created WCA device notifier instance")

	return dn, nil
}

func (dn *wcaDeviceNotifier) Subscribe(listener DeviceListener) (SubscriptionToken, error) {
	dn.lock.Lock()
	defer dn.lock.Unlock()

	// register with the OS on the first subscription only
	if dn.mmNotificationClient == nil {
		if err := dn.registerCallbackLocked(); err != nil {
			return 0, err
		}
	}

	token := dn.listeners.add(listener)
	dn.logger.Debugw("Added device listener", "token", token)

	return token, nil
}

func (dn *wcaDeviceNotifier) Unsubscribe(token SubscriptionToken) error {
	dn.lock.Lock()
	defer dn.lock.Unlock()

	if !dn.listeners.remove(token) {
		return fmt.Errorf("unknown subscription token %d", token)
	}

	if len(dn.listeners.listeners) == 0 {
		return dn.unregisterCallbackLocked()
	}

	return nil
}

func (dn *wcaDeviceNotifier) IsPresent(deviceID string) (bool, error) {
	var device *wca.IMMDevice

	if err := dn.mmDeviceEnumerator.GetDevice(deviceID, &device); err != nil {
		// the device was never attached
		if isDeviceNotFound(err) {
			dn.logger.Debugw("Device not found", "deviceID", deviceID)
			return false, nil
		}

		dn.logger.Warnw("Failed to get device", "deviceID", deviceID, "error", err)
		return false, fmt.Errorf("get device %s: %w", deviceID, err)
	}
	defer device.Release()

	var state uint32
	if err := device.GetState(&state); err != nil {
		dn.logger.Warnw("Failed to get device state", "deviceID", deviceID, "error", err)
		return false, fmt.Errorf("get device state: %w", err)
	}

	return state == wca.DEVICE_STATE_ACTIVE, nil
}

func (dn *wcaDeviceNotifier) Devices() ([]DeviceInfo, error) {
	var deviceCollection *wca.IMMDeviceCollection

	if err := dn.mmDeviceEnumerator.EnumAudioEndpoints(wca.EAll, wca.DEVICE_STATE_ACTIVE, &deviceCollection); err != nil {
		dn.logger.Warnw("Failed to enumerate active audio endpoints", "error", err)
		return nil, fmt.Errorf("enumerate active audio endpoints: %w", err)
	}
	defer deviceCollection.Release()

	var deviceCount uint32

	if err := deviceCollection.GetCount(&deviceCount); err != nil {
		dn.logger.Warnw("Failed to get device count from device collection", "error", err)
		return nil, fmt.Errorf("get device count from device collection: %w", err)
	}

	devices := make([]DeviceInfo, 0, deviceCount)

	for deviceIdx := uint32(0); deviceIdx < deviceCount; deviceIdx++ {
		info, err := dn.describeDevice(deviceCollection, deviceIdx)
		if err != nil {
			return nil, err
		}

		devices = append(devices, info)
	}

	return devices, nil
}

func (dn *wcaDeviceNotifier) describeDevice(deviceCollection *wca.IMMDeviceCollection, deviceIdx uint32) (DeviceInfo, error) {
	var endpoint *wca.IMMDevice

	if err := deviceCollection.Item(deviceIdx, &endpoint); err != nil {
		dn.logger.Warnw("Failed to get device from device collection", "deviceIdx", deviceIdx, "error", err)
		return DeviceInfo{}, fmt.Errorf("get device %d from device collection: %w", deviceIdx, err)
	}
	defer endpoint.Release()

	var endpointID string
	if err := endpoint.GetId(&endpointID); err != nil {
		return DeviceInfo{}, fmt.Errorf("get device %d id: %w", deviceIdx, err)
	}

	dispatch, err := endpoint.QueryInterface(wca.IID_IMMEndpoint)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("query device %d IMMEndpoint: %w", deviceIdx, err)
	}

	endpointType := (*wca.IMMEndpoint)(dispatch)
	defer endpointType.Release()

	var dataFlow uint32
	if err := endpointType.GetDataFlow(&dataFlow); err != nil {
		return DeviceInfo{}, fmt.Errorf("get device %d data flow: %w", deviceIdx, err)
	}

	var propertyStore *wca.IPropertyStore
	if err := endpoint.OpenPropertyStore(wca.STGM_READ, &propertyStore); err != nil {
		return DeviceInfo{}, fmt.Errorf("open device %d property store: %w", deviceIdx, err)
	}
	defer propertyStore.Release()

	// friendly name i.e. "Headphones (Realtek Audio)"
	value := &wca.PROPVARIANT{}
	if err := propertyStore.GetValue(&wca.PKEY_Device_FriendlyName, value); err != nil {
		return DeviceInfo{}, fmt.Errorf("get device %d friendly name: %w", deviceIdx, err)
	}

	flow := DeviceInput
	if dataFlow == wca.ERender {
		flow = DeviceOutput
	}

	return DeviceInfo{ID: endpointID, Name: value.String(), Flow: flow}, nil
}

func isDeviceNotFound(err error) bool {
	oleError := &ole.OleError{}
	return errors.As(err, &oleError) && uint32(oleError.Code()) == eNotFound
}

func (dn *wcaDeviceNotifier) Release() error {
	dn.lock.Lock()
	defer dn.lock.Unlock()

	if err := dn.unregisterCallbackLocked(); err != nil {
		dn.logger.Warnw("Failed to unregister notification client during release", "error", err)
	}

	if dn.mmDeviceEnumerator != nil {
		dn.mmDeviceEnumerator.Release()
		dn.mmDeviceEnumerator = nil
	}

	ole.CoUninitialize()

	dn.logger.Debug("Released WCA device notifier instance")
	return nil
}

func (dn *wcaDeviceNotifier) registerCallbackLocked() error {
	callback := wca.IMMNotificationClientCallback{
		OnDeviceAdded:        dn.deviceAddedCallback,
		OnDeviceRemoved:      dn.deviceRemovedCallback,
		OnDeviceStateChanged: dn.deviceStateChangedCallback,
	}

	client := wca.NewIMMNotificationClient(callback)

	if err := dn.mmDeviceEnumerator.RegisterEndpointNotificationCallback(client); err != nil {
		dn.logger.Warnw("Failed to call RegisterEndpointNotificationCallback", "error", err)
		return fmt.Errorf("call RegisterEndpointNotificationCallback: %w", err)
	}

	dn.mmNotificationClient = client

	return nil
}

func (dn *wcaDeviceNotifier) unregisterCallbackLocked() error {
	if dn.mmNotificationClient == nil {
		return nil
	}

	err := dn.mmDeviceEnumerator.UnregisterEndpointNotificationCallback(dn.mmNotificationClient)
	dn.mmNotificationClient = nil

	if err != nil {
		return fmt.Errorf("call UnregisterEndpointNotificationCallback: %w", err)
	}

	return nil
}

func (dn *wcaDeviceNotifier) currentListeners() []DeviceListener {
	dn.lock.Lock()
	defer dn.lock.Unlock()

	return dn.listeners.snapshot()
}

// the callbacks never return errors, otherwise we won't get any more notifications
func (dn *wcaDeviceNotifier) deviceAddedCallback(pwstrDeviceId string) error {
	for _, listener := range dn.currentListeners() {
		listener.OnDeviceAdded(pwstrDeviceId)
	}

	return nil
}

func (dn *wcaDeviceNotifier) deviceRemovedCallback(pwstrDeviceId string) error {
	for _, listener := range dn.currentListeners() {
		listener.OnDeviceRemoved(pwstrDeviceId)
	}

	return nil
}

func (dn *wcaDeviceNotifier) deviceStateChangedCallback(pwstrDeviceId string, dwNewState uint32) error {
	for _, listener := range dn.currentListeners() {
		listener.OnDeviceStateChanged(pwstrDeviceId, DeviceState(dwNewState))
	}

	return nil
}
