package vmlink

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

type deviceKey struct {
	facility proto.SubscriptionEventType
	index    uint32
}

type deviceEvent struct {
	key     deviceKey
	removed bool
}

// paDeviceNotifier reports sinks and sources appearing and disappearing, keyed by name
type paDeviceNotifier struct {
	logger *zap.SugaredLogger

	client *proto.Client
	conn   net.Conn

	lock      sync.Mutex
	listeners listenerSet
	names     map[deviceKey]string

	// lookup resolves the name of a device that was just added
	lookup func(deviceKey) (string, error)

	events chan deviceEvent
	stop   chan struct{}
}

// NewDeviceNotifier creates a notifier backed by a PulseAudio subscription
func NewDeviceNotifier(logger *zap.SugaredLogger) (DeviceNotifier, error) {
	logger = logger.Named("devices")

	client, conn, err := connectPulse(logger)
	if err != nil {
		return nil, err
	}

	dn := &paDeviceNotifier{
		logger: logger,
		client: client,
		conn:   conn,
		names:  make(map[deviceKey]string),
		events: make(chan deviceEvent, 16),
		stop:   make(chan struct{}),
	}
	dn.lookup = dn.lookupName

	// removal events only carry the index, so remember names up front
	if err := dn.indexDevices(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	// requests can't be made from inside the callback, it runs on the connection's reader
	client.Callback = func(msg interface{}) {
		event, ok := msg.(*proto.SubscribeEvent)
		if !ok {
			return
		}

		facility := event.Event & proto.EventFacilityMask
		if facility != proto.EventSink && facility != proto.EventSource {
			return
		}

		key := deviceKey{facility: facility, index: event.Index}

		switch event.Event.GetType() {
		case proto.EventNew:
			dn.enqueue(deviceEvent{key: key})
		case proto.EventRemove:
			dn.enqueue(deviceEvent{key: key, removed: true})
		}
	}

	if err := client.Request(&proto.Subscribe{Mask: proto.SubscriptionMaskSink | proto.SubscriptionMaskSource}, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe to PulseAudio device events: %w", err)
	}

	go dn.dispatch()

	logger.Debug("Created PA device notifier instance")

	return dn, nil
}

func (dn *paDeviceNotifier) enqueue(event deviceEvent) {
	select {
	case dn.events <- event:
	default:
		dn.logger.Warnw("Device event queue full, dropping event", "index", event.key.index)
	}
}

func (dn *paDeviceNotifier) dispatch() {
	for {
		select {
		case <-dn.stop:
			return
		case event := <-dn.events:
			dn.handle(event)
		}
	}
}

func (dn *paDeviceNotifier) handle(event deviceEvent) {
	if event.removed {
		dn.lock.Lock()
		name, ok := dn.names[event.key]
		delete(dn.names, event.key)
		dn.lock.Unlock()

		if !ok {
			dn.logger.Debugw("Removal of a device we never saw", "index", event.key.index)
			return
		}

		for _, listener := range dn.currentListeners() {
			listener.OnDeviceRemoved(name)
		}

		return
	}

	name, err := dn.lookup(event.key)
	if err != nil {
		dn.logger.Warnw("Failed to look up new device", "index", event.key.index, "error", err)
		return
	}

	dn.lock.Lock()
	dn.names[event.key] = name
	dn.lock.Unlock()

	for _, listener := range dn.currentListeners() {
		listener.OnDeviceAdded(name)
	}
}

func (dn *paDeviceNotifier) lookupName(key deviceKey) (string, error) {
	if key.facility == proto.EventSink {
		reply := proto.GetSinkInfoReply{}
		if err := dn.client.Request(&proto.GetSinkInfo{SinkIndex: key.index}, &reply); err != nil {
			return "", fmt.Errorf("get sink info: %w", err)
		}

		return reply.SinkName, nil
	}

	reply := proto.GetSourceInfoReply{}
	if err := dn.client.Request(&proto.GetSourceInfo{SourceIndex: key.index}, &reply); err != nil {
		return "", fmt.Errorf("get source info: %w", err)
	}

	return reply.SourceName, nil
}

func (dn *paDeviceNotifier) indexDevices() error {
	sinks := proto.GetSinkInfoListReply{}
	if err := dn.client.Request(&proto.GetSinkInfoList{}, &sinks); err != nil {
		dn.logger.Warnw("Failed to get sink list", "error", err)
		return fmt.Errorf("get sink list: %w", err)
	}

	sources := proto.GetSourceInfoListReply{}
	if err := dn.client.Request(&proto.GetSourceInfoList{}, &sources); err != nil {
		dn.logger.Warnw("Failed to get source list", "error", err)
		return fmt.Errorf("get source list: %w", err)
	}

	names := make(map[deviceKey]string, len(sinks)+len(sources))
	for _, sink := range sinks {
		names[deviceKey{facility: proto.EventSink, index: sink.SinkIndex}] = sink.SinkName
	}
	for _, source := range sources {
		names[deviceKey{facility: proto.EventSource, index: source.SourceIndex}] = source.SourceName
	}

	dn.lock.Lock()
	dn.names = names
	dn.lock.Unlock()

	return nil
}

func (dn *paDeviceNotifier) Subscribe(listener DeviceListener) (SubscriptionToken, error) {
	dn.lock.Lock()
	defer dn.lock.Unlock()

	token := dn.listeners.add(listener)
	dn.logger.Debugw("Added device listener", "token", token)

	return token, nil
}

func (dn *paDeviceNotifier) Unsubscribe(token SubscriptionToken) error {
	dn.lock.Lock()
	defer dn.lock.Unlock()

	if !dn.listeners.remove(token) {
		return fmt.Errorf("unknown subscription token %d", token)
	}

	return nil
}

func (dn *paDeviceNotifier) IsPresent(deviceID string) (bool, error) {
	if err := dn.indexDevices(); err != nil {
		return false, err
	}

	dn.lock.Lock()
	defer dn.lock.Unlock()

	for _, name := range dn.names {
		if name == deviceID {
			return true, nil
		}
	}

	return false, nil
}

func (dn *paDeviceNotifier) Devices() ([]DeviceInfo, error) {
	sinks := proto.GetSinkInfoListReply{}
	if err := dn.client.Request(&proto.GetSinkInfoList{}, &sinks); err != nil {
		dn.logger.Warnw("Failed to get sink list", "error", err)
		return nil, fmt.Errorf("get sink list: %w", err)
	}

	sources := proto.GetSourceInfoListReply{}
	if err := dn.client.Request(&proto.GetSourceInfoList{}, &sources); err != nil {
		dn.logger.Warnw("Failed to get source list", "error", err)
		return nil, fmt.Errorf("get source list: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(sinks)+len(sources))
	for _, sink := range sinks {
		devices = append(devices, DeviceInfo{
			ID:   sink.SinkName,
			Name: describe(sink.Properties, sink.SinkName),
			Flow: DeviceOutput,
		})
	}
	for _, source := range sources {
		devices = append(devices, DeviceInfo{
			ID:   source.SourceName,
			Name: describe(source.Properties, source.SourceName),
			Flow: DeviceInput,
		})
	}

	return devices, nil
}

// describe prefers the human readable description and falls back to the device name
func describe(props proto.PropList, fallback string) string {
	if description, ok := props["device.description"]; ok {
		if value := strings.TrimRight(description.String(), "\x00"); value != "" {
			return value
		}
	}

	return fallback
}

func (dn *paDeviceNotifier) currentListeners() []DeviceListener {
	dn.lock.Lock()
	defer dn.lock.Unlock()

	return dn.listeners.snapshot()
}

func (dn *paDeviceNotifier) Release() error {
	close(dn.stop)

	if err := dn.conn.Close(); err != nil {
		dn.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}

	dn.logger.Debug("Released PA device notifier instance")

	return nil
}
