package vmlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultHotplugDebounce drops repeated notifications of the same kind for the watched device
const DefaultHotplugDebounce = 250 * time.Millisecond

// Presence is the hotplug monitor's view of the watched device
type Presence int

const (
	PresenceUnknown Presence = iota
	PresencePresent
	PresenceAbsent
)

func (p Presence) String() string {
	switch p {
	case PresencePresent:
		return "present"
	case PresenceAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// ToggleConfig names the two channels that swap mute state when the device comes and goes
type ToggleConfig struct {
	Type   ChannelType
	Index1 uint
	Index2 uint
}

func (t ToggleConfig) refs() (ChannelRef, ChannelRef) {
	return ChannelRef{Type: t.Type, Index: t.Index1}, ChannelRef{Type: t.Type, Index: t.Index2}
}

func (t ToggleConfig) String() string {
	first, second := t.refs()
	return fmt.Sprintf("%s/%s", first, second)
}

// Router is what routing changes need from the engine session
type Router interface {
	Restart(ctx context.Context) error
	SetMute(ref ChannelRef, muted bool) error
}

// ApplyRouting restarts the engine (present only, when asked to) and swaps the mute state of
// the toggle pair. A failure on one channel doesn't stop the other
func ApplyRouting(ctx context.Context, logger *zap.SugaredLogger, router Router, toggle ToggleConfig,
	present bool, restart bool) error {
	first, second := toggle.refs()

	var failed []string

	if present && restart {
		if err := router.Restart(ctx); err != nil {
			logger.Warnw("Failed to restart engine before rerouting", "error", err)
			failed = append(failed, "restart")
		}
	}

	// present: first channel plays, second is muted. absent: the inverse
	for _, change := range []struct {
		ref   ChannelRef
		muted bool
	}{
		{first, !present},
		{second, present},
	} {
		if err := router.SetMute(change.ref, change.muted); err != nil {
			logger.Warnw("Failed to toggle channel mute",
				"channel", change.ref.String(),
				"muted", change.muted,
				"error", err)

			failed = append(failed, change.ref.String())
			continue
		}

		logger.Debugw("Toggled channel mute", "channel", change.ref.String(), "muted", change.muted)
	}

	if len(failed) > 0 {
		return fmt.Errorf("apply routing: %d step(s) failed: %v", len(failed), failed)
	}

	return nil
}

// HotplugParams configures the hotplug monitor
type HotplugParams struct {
	DeviceID string
	Toggle   ToggleConfig
	Debounce time.Duration

	// Sound is played after every applied transition, if set
	Sound      string
	SoundDelay time.Duration

	// Verbose logs every device notification, including the ones for other devices
	Verbose bool
}

// HotplugMonitor watches one device and reroutes mute state when it's attached or removed
type HotplugMonitor struct {
	logger   *zap.SugaredLogger
	notifier DeviceNotifier
	router   Router
	sound    SoundPlayer
	params   HotplugParams

	now func() time.Time

	// receiveLock guards the duplicate filter, which runs on the notification thread
	receiveLock  sync.Mutex
	lastReceived Presence
	lastReceive  time.Time

	// transitionLock serializes transitions
	transitionLock sync.Mutex
	presence       Presence

	events      chan Presence
	token       SubscriptionToken
	subscribed  bool
	ctx         context.Context
	cancel      context.CancelFunc
	stopChannel chan struct{}
	wg          sync.WaitGroup
}

func NewHotplugMonitor(logger *zap.SugaredLogger, notifier DeviceNotifier, router Router, sound SoundPlayer,
	params HotplugParams) *HotplugMonitor {
	logger = logger.Named("hotplug")

	if params.Debounce <= 0 {
		params.Debounce = DefaultHotplugDebounce
	}

	hm := &HotplugMonitor{
		logger:   logger,
		notifier: notifier,
		router:   router,
		sound:    sound,
		params:   params,
		now:      time.Now,
		events:   make(chan Presence, 8),
	}

	logger.Debugw("Created hotplug monitor instance",
		"deviceID", params.DeviceID,
		"toggle", params.Toggle.String())

	return hm
}

// Start subscribes to notifications and then seeds the device's presence without side effects.
// A notification that arrives while the seed is read wins over the seed
func (hm *HotplugMonitor) Start() error {
	hm.ctx, hm.cancel = context.WithCancel(context.Background())
	hm.stopChannel = make(chan struct{})

	hm.wg.Add(1)
	go hm.run()

	token, err := hm.notifier.Subscribe(hm)
	if err != nil {
		hm.logger.Warnw("Failed to subscribe to device notifications", "error", err)
		hm.shutdownWorker()
		return fmt.Errorf("subscribe to device notifications: %w", err)
	}

	hm.token = token
	hm.subscribed = true

	present, err := hm.notifier.IsPresent(hm.params.DeviceID)
	if err != nil {
		hm.logger.Warnw("Failed to query watched device, starting in unknown state", "error", err)
	} else {
		hm.transitionLock.Lock()
		if hm.presence == PresenceUnknown {
			hm.presence = presenceOf(present)
		}
		hm.transitionLock.Unlock()
	}

	hm.logger.Infow("Watching device", "deviceID", hm.params.DeviceID, "presence", hm.Presence().String())

	return nil
}

// Stop unsubscribes and waits for an in-flight transition to finish
func (hm *HotplugMonitor) Stop() {
	if hm.subscribed {
		if err := hm.notifier.Unsubscribe(hm.token); err != nil {
			hm.logger.Warnw("Failed to unsubscribe from device notifications", "error", err)
		}
		hm.subscribed = false
	}

	hm.shutdownWorker()
}

func (hm *HotplugMonitor) shutdownWorker() {
	if hm.stopChannel == nil {
		return
	}

	hm.cancel()
	close(hm.stopChannel)
	hm.wg.Wait()
	hm.stopChannel = nil

	hm.logger.Debug("Hotplug worker stopped")
}

// Presence returns the current view of the watched device
func (hm *HotplugMonitor) Presence() Presence {
	hm.transitionLock.Lock()
	defer hm.transitionLock.Unlock()

	return hm.presence
}

func (hm *HotplugMonitor) OnDeviceAdded(deviceID string) {
	hm.receive(deviceID, PresencePresent, "added")
}

func (hm *HotplugMonitor) OnDeviceRemoved(deviceID string) {
	hm.receive(deviceID, PresenceAbsent, "removed")
}

func (hm *HotplugMonitor) OnDeviceStateChanged(deviceID string, state DeviceState) {
	switch state {
	case DeviceActive:
		hm.receive(deviceID, PresencePresent, "state changed")
	case DeviceDisabled, DeviceNotPresent, DeviceUnplugged:
		hm.receive(deviceID, PresenceAbsent, "state changed")
	default:
		hm.logger.Warnw("Ignoring device notification with unexpected state",
			"deviceID", deviceID,
			"state", state.String())
	}
}

// receive filters and hands notifications to the worker; it never blocks the caller
func (hm *HotplugMonitor) receive(deviceID string, target Presence, kind string) {
	if deviceID == "" {
		hm.logger.Warnw("Ignoring device notification without a device id", "kind", kind)
		return
	}

	if deviceID != hm.params.DeviceID {
		if hm.params.Verbose {
			hm.logger.Debugw("Ignoring notification for another device", "deviceID", deviceID, "kind", kind)
		}
		return
	}

	hm.receiveLock.Lock()
	now := hm.now()
	if target == hm.lastReceived && now.Sub(hm.lastReceive) < hm.params.Debounce {
		hm.receiveLock.Unlock()
		hm.logger.Debugw("Debounced repeated device notification", "kind", kind, "presence", target.String())
		return
	}
	hm.lastReceived = target
	hm.lastReceive = now
	hm.receiveLock.Unlock()

	hm.logger.Debugw("Watched device notification", "kind", kind, "presence", target.String())

	select {
	case hm.events <- target:
	default:
		hm.logger.Warnw("Hotplug event queue full, dropping notification", "presence", target.String())
	}
}

func (hm *HotplugMonitor) run() {
	defer hm.wg.Done()

	for {
		select {
		case <-hm.stopChannel:
			return
		case target := <-hm.events:
			hm.transition(hm.ctx, target)
		}
	}
}

// transition moves to the target presence, applying the routing change if it's a real change
func (hm *HotplugMonitor) transition(ctx context.Context, target Presence) {
	hm.transitionLock.Lock()
	defer hm.transitionLock.Unlock()

	if hm.presence == target {
		hm.logger.Debugw("Device already in target state", "presence", target.String())
		return
	}

	hm.applyLocked(ctx, target)
}

// Toggle flips the routing as if the device had been attached or removed
func (hm *HotplugMonitor) Toggle(ctx context.Context) Presence {
	hm.transitionLock.Lock()
	defer hm.transitionLock.Unlock()

	target := PresencePresent
	if hm.presence == PresencePresent {
		target = PresenceAbsent
	}

	hm.applyLocked(ctx, target)

	return target
}

func (hm *HotplugMonitor) applyLocked(ctx context.Context, target Presence) {
	previous := hm.presence
	present := target == PresencePresent

	hm.logger.Infow("Watched device changed state",
		"from", previous.String(),
		"to", target.String())

	if err := ApplyRouting(ctx, hm.logger, hm.router, hm.params.Toggle, present, true); err != nil {
		hm.logger.Warnw("Routing change was only partially applied", "error", err)
	}

	hm.presence = target

	if hm.sound != nil && hm.params.Sound != "" {
		hm.sound.Play(hm.params.Sound, hm.params.SoundDelay)
	}
}

func presenceOf(present bool) Presence {
	if present {
		return PresencePresent
	}

	return PresenceAbsent
}
