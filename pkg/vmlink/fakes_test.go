package vmlink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var errFake = errors.New("fake failure")

// fakeEngine records every call and answers from scripted values
type fakeEngine struct {
	mu sync.Mutex

	// loginStatuses are returned in order, the last one repeats
	loginStatuses []LoginStatus
	variant       Variant
	typeFailures  int
	dirtyFailures int
	dirty         bool
	launchErr     error
	setErr        map[string]error

	params       map[string]float32
	calls        []string
	restartTimes []time.Time
	released     bool
	logouts      int
	launches     int
	isDirtyCalls int
}

func newFakeEngine(variant Variant, statuses ...LoginStatus) *fakeEngine {
	if len(statuses) == 0 {
		statuses = []LoginStatus{LoginOK}
	}

	return &fakeEngine{
		loginStatuses: statuses,
		variant:       variant,
		params:        make(map[string]float32),
		setErr:        make(map[string]error),
	}
}

func (e *fakeEngine) record(call string) {
	e.calls = append(e.calls, call)
}

func (e *fakeEngine) Login() (LoginStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("Login")

	status := e.loginStatuses[0]
	if len(e.loginStatuses) > 1 {
		e.loginStatuses = e.loginStatuses[1:]
	}

	return status, nil
}

func (e *fakeEngine) Logout() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("Logout")
	e.logouts++

	return nil
}

func (e *fakeEngine) Launch(variant Variant, x64 bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record(fmt.Sprintf("Launch %d", int(variant)))
	e.launches++

	return e.launchErr
}

func (e *fakeEngine) Type() (Variant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("Type")

	if e.typeFailures > 0 {
		e.typeFailures--
		return VariantUnknown, errFake
	}

	return e.variant, nil
}

func (e *fakeEngine) IsDirty() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.isDirtyCalls++

	if e.dirtyFailures > 0 {
		e.dirtyFailures--
		return false, errFake
	}

	dirty := e.dirty
	e.dirty = false

	return dirty, nil
}

func (e *fakeEngine) GetParam(name string) (float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.params[name], nil
}

func (e *fakeEngine) SetParam(name string, value float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record(fmt.Sprintf("SetParam %s=%g", name, value))

	if err := e.setErr[name]; err != nil {
		return err
	}

	if name == paramRestart {
		e.restartTimes = append(e.restartTimes, time.Now())
	}

	e.params[name] = value
	e.dirty = true

	return nil
}

func (e *fakeEngine) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.record("Release")
	e.released = true

	return nil
}

func (e *fakeEngine) setParams() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result []string
	for _, call := range e.calls {
		if rest, ok := strings.CutPrefix(call, "SetParam "); ok {
			result = append(result, rest)
		}
	}

	return result
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.calls)
}

// fakeEndpoint is one side of the mirror
type fakeEndpoint struct {
	mu sync.Mutex

	key   string
	state ChannelState

	// alwaysChanged mimics polled endpoints, otherwise changes are tracked like a dirty flag
	alwaysChanged bool
	changed       bool

	setVolumeErr error
	setMuteErr   error

	volumeWrites []float64
	muteWrites   []bool
	released     bool
}

func newFakeEndpoint(key string, state ChannelState, alwaysChanged bool) *fakeEndpoint {
	return &fakeEndpoint{key: key, state: state, alwaysChanged: alwaysChanged}
}

func (f *fakeEndpoint) Key() string {
	return f.key
}

func (f *fakeEndpoint) GetVolume() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state.VolumePercent, nil
}

func (f *fakeEndpoint) SetVolume(percent float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setVolumeErr != nil {
		return f.setVolumeErr
	}

	f.state.VolumePercent = percent
	f.volumeWrites = append(f.volumeWrites, percent)
	f.changed = true

	return nil
}

func (f *fakeEndpoint) GetMute() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state.Muted, nil
}

func (f *fakeEndpoint) SetMute(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setMuteErr != nil {
		return f.setMuteErr
	}

	f.state.Muted = muted
	f.muteWrites = append(f.muteWrites, muted)
	f.changed = true

	return nil
}

func (f *fakeEndpoint) Changed() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.alwaysChanged {
		return true, nil
	}

	changed := f.changed
	f.changed = false

	return changed, nil
}

func (f *fakeEndpoint) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.released = true
}

// userSets simulates a change made outside of vmlink
func (f *fakeEndpoint) userSets(state ChannelState) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = state
	f.changed = true
}

func (f *fakeEndpoint) volumes() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]float64(nil), f.volumeWrites...)
}

func (f *fakeEndpoint) mutes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]bool(nil), f.muteWrites...)
}

func (f *fakeEndpoint) current() ChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

// fakeDeviceNotifier delivers notifications only when the test fires them
type fakeDeviceNotifier struct {
	mu sync.Mutex

	present    map[string]bool
	presentErr error
	devices    []DeviceInfo
	listeners  listenerSet
	released   bool

	// afterIsPresent runs once the answer has been read, outside the lock
	afterIsPresent func()
}

func newFakeDeviceNotifier() *fakeDeviceNotifier {
	return &fakeDeviceNotifier{present: make(map[string]bool)}
}

func (n *fakeDeviceNotifier) Subscribe(listener DeviceListener) (SubscriptionToken, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.listeners.add(listener), nil
}

func (n *fakeDeviceNotifier) Unsubscribe(token SubscriptionToken) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.listeners.remove(token) {
		return fmt.Errorf("unknown subscription token %d", token)
	}

	return nil
}

func (n *fakeDeviceNotifier) IsPresent(deviceID string) (bool, error) {
	n.mu.Lock()
	present, err := n.present[deviceID], n.presentErr
	hook := n.afterIsPresent
	n.mu.Unlock()

	if hook != nil {
		hook()
	}

	return present, err
}

func (n *fakeDeviceNotifier) Devices() ([]DeviceInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]DeviceInfo(nil), n.devices...), n.presentErr
}

func (n *fakeDeviceNotifier) Release() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.released = true
	return nil
}

func (n *fakeDeviceNotifier) subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.listeners.listeners)
}

func (n *fakeDeviceNotifier) fireAdded(deviceID string) {
	n.mu.Lock()
	listeners := n.listeners.snapshot()
	n.mu.Unlock()

	for _, listener := range listeners {
		listener.OnDeviceAdded(deviceID)
	}
}

func (n *fakeDeviceNotifier) fireStateChanged(deviceID string, state DeviceState) {
	n.mu.Lock()
	listeners := n.listeners.snapshot()
	n.mu.Unlock()

	for _, listener := range listeners {
		listener.OnDeviceStateChanged(deviceID, state)
	}
}

func (n *fakeDeviceNotifier) fireRemoved(deviceID string) {
	n.mu.Lock()
	listeners := n.listeners.snapshot()
	n.mu.Unlock()

	for _, listener := range listeners {
		listener.OnDeviceRemoved(deviceID)
	}
}

// fakeRouter records routing calls in order
type fakeRouter struct {
	mu sync.Mutex

	muteErr    map[ChannelRef]error
	restartErr error
	calls      []string
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{muteErr: make(map[ChannelRef]error)}
}

func (r *fakeRouter) Restart(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, "restart")
	return r.restartErr
}

func (r *fakeRouter) SetMute(ref ChannelRef, muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, fmt.Sprintf("mute %s=%t", ref, muted))
	return r.muteErr[ref]
}

func (r *fakeRouter) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

type fakeSound struct {
	mu    sync.Mutex
	plays []string
}

func (s *fakeSound) Play(path string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.plays = append(s.plays, path)
}

func (s *fakeSound) played() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.plays...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *fakeNotifier) Notify(title string, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.titles = append(n.titles, title)
}

func (n *fakeNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.titles...)
}
