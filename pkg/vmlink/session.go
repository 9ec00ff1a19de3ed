package vmlink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

// SessionState tracks the lifecycle of the engine login
type SessionState int

const (
	StateLoggedOut SessionState = iota
	StateLoggingIn
	StateConfirmed
)

func (s SessionState) String() string {
	switch s {
	case StateLoggingIn:
		return "logging in"
	case StateConfirmed:
		return "confirmed"
	default:
		return "logged out"
	}
}

// SessionParams configures login, launch and restart behaviour
type SessionParams struct {
	// LaunchVariant is started when no engine answers the login
	LaunchVariant Variant
	LaunchX64     bool
	LaunchSettle  time.Duration

	// ProcessNames are the executables that count as a running engine
	ProcessNames []string

	HealthRetries  int
	HealthInterval time.Duration

	RestartSettleBefore time.Duration
	RestartSettleAfter  time.Duration

	MinDB float64
	MaxDB float64
}

// ChannelSnapshot is one row of the channel state table
type ChannelSnapshot struct {
	Ref   ChannelRef   `yaml:"-"`
	Name  string       `yaml:"channel"`
	State ChannelState `yaml:",inline"`
}

// SessionManager owns the connection to the mixing engine and a cache of every channel's state
type SessionManager struct {
	logger *zap.SugaredLogger
	engine Engine
	params SessionParams

	processRunning func(names ...string) (bool, error)

	// connLock serializes engine calls and guards the session fields below
	connLock  sync.Mutex
	state     SessionState
	loggedIn  bool
	variant   Variant
	maxStrips uint
	maxBuses  uint

	cacheLock sync.Mutex
	cache     map[ChannelRef]ChannelState

	restartLock sync.Mutex
}

func NewSessionManager(logger *zap.SugaredLogger, engine Engine, params SessionParams) *SessionManager {
	logger = logger.Named("session")

	m := &SessionManager{
		logger:         logger,
		engine:         engine,
		params:         params,
		processRunning: util.ProcessRunning,
		cache:          make(map[ChannelRef]ChannelState),
	}

	logger.Debug("Created session manager instance")

	return m
}

// Initialize logs in (launching the engine if needed), waits for it to report running
// and fills the channel cache. Any error is fatal: nothing is left half-started
func (m *SessionManager) Initialize(ctx context.Context) error {
	m.setState(StateLoggingIn)

	variant, ok := m.login()
	if !ok {
		m.logger.Info("Engine not available, attempting to launch it")

		if err := m.launch(ctx); err != nil {
			m.setState(StateLoggedOut)
			return fmt.Errorf("launch engine: %w", err)
		}

		variant, ok = m.login()
		if !ok {
			m.setState(StateLoggedOut)
			m.logger.Warn("Engine still not available after launch")
			return fmt.Errorf("log in after launch: %w", ErrNotLoggedIn)
		}
	}

	if err := m.waitUntilRunning(ctx); err != nil {
		m.setState(StateLoggedOut)
		m.logger.Warnw("Engine never reported running", "error", err)
		return fmt.Errorf("wait for engine: %w", err)
	}

	strips, buses, known := variant.Limits()
	if !known {
		m.setState(StateLoggedOut)
		m.logger.Warnw("Engine reported an unknown variant", "variant", int(variant))
		return fmt.Errorf("determine channel limits: unknown variant %d", int(variant))
	}

	m.connLock.Lock()
	m.variant = variant
	m.maxStrips = strips
	m.maxBuses = buses
	m.state = StateConfirmed
	m.connLock.Unlock()

	m.logger.Infow("Logged in to engine",
		"variant", variant.String(),
		"strips", strips,
		"buses", buses)

	if err := m.populateCache(); err != nil {
		m.logger.Warnw("Failed to populate channel cache", "error", err)
		return fmt.Errorf("populate channel cache: %w", err)
	}

	return nil
}

// login performs a single login attempt and confirms it with a type query,
// since the API can claim success when no engine process exists
func (m *SessionManager) login() (Variant, bool) {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	status, err := m.engine.Login()
	if err != nil {
		m.logger.Warnw("Login call failed", "error", err)
		return VariantUnknown, false
	}

	if status.LoggedIn() || status == LoginOKNotLaunched {
		m.loggedIn = true
	}

	if !status.LoggedIn() {
		m.logger.Debugw("Login did not yield a usable session", "status", status.String())
		return VariantUnknown, false
	}

	variant, err := m.engine.Type()
	if err != nil {
		m.logger.Debugw("Login reported success but type query failed, treating as logged out",
			"status", status.String(),
			"error", err)

		return VariantUnknown, false
	}

	m.logger.Debugw("Login confirmed", "status", status.String(), "variant", variant.String())

	return variant, true
}

func (m *SessionManager) launch(ctx context.Context) error {
	running, err := m.processRunning(m.params.ProcessNames...)
	if err != nil {
		m.logger.Debugw("Failed to check for a running engine process", "error", err)
	}

	if running {
		m.logger.Infow("Engine process is already running, waiting for it to accept logins",
			"processNames", m.params.ProcessNames)
	} else {
		m.connLock.Lock()
		err = m.engine.Launch(m.params.LaunchVariant, m.params.LaunchX64)
		m.connLock.Unlock()

		if err != nil {
			m.logger.Warnw("Failed to launch engine", "variant", m.params.LaunchVariant.String(), "error", err)
			return fmt.Errorf("launch %s: %w", m.params.LaunchVariant, err)
		}

		m.logger.Infow("Requested engine launch", "variant", m.params.LaunchVariant.String())
	}

	return sleepContext(ctx, m.params.LaunchSettle)
}

func (m *SessionManager) waitUntilRunning(ctx context.Context) error {
	var lastErr error

	for attempt := 1; attempt <= m.params.HealthRetries; attempt++ {
		m.connLock.Lock()
		_, err := m.engine.IsDirty()
		m.connLock.Unlock()

		if err == nil {
			m.logger.Debugw("Engine reports running", "attempt", attempt)
			return nil
		}

		lastErr = err
		m.logger.Debugw("Engine not running yet", "attempt", attempt, "error", err)

		if attempt < m.params.HealthRetries {
			if err := sleepContext(ctx, m.params.HealthInterval); err != nil {
				return err
			}
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrHealthCheckFailed, m.params.HealthRetries, lastErr)
	}

	return ErrHealthCheckFailed
}

func (m *SessionManager) populateCache() error {
	strips, buses := m.Limits()

	refs := make([]ChannelRef, 0, strips+buses)
	for idx := uint(0); idx < strips; idx++ {
		refs = append(refs, ChannelRef{Type: ChannelInput, Index: idx})
	}
	for idx := uint(0); idx < buses; idx++ {
		refs = append(refs, ChannelRef{Type: ChannelOutput, Index: idx})
	}

	for _, ref := range refs {
		if _, err := m.Refresh(ref); err != nil {
			return err
		}
	}

	m.logger.Debugw("Populated channel cache", "channels", len(refs))

	return nil
}

// Shutdown logs out if logged in and always releases the engine binding
func (m *SessionManager) Shutdown() error {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	var logoutErr error
	if m.loggedIn {
		if err := m.engine.Logout(); err != nil {
			m.logger.Warnw("Failed to log out from engine", "error", err)
			logoutErr = fmt.Errorf("log out: %w", err)
		}
	}

	m.loggedIn = false
	m.state = StateLoggedOut

	if err := m.engine.Release(); err != nil {
		m.logger.Warnw("Failed to release engine binding", "error", err)
		if logoutErr == nil {
			return fmt.Errorf("release engine binding: %w", err)
		}
	}

	m.logger.Debug("Session shut down")

	return logoutErr
}

// Restart restarts the engine's audio processing. Concurrent calls run one after another
func (m *SessionManager) Restart(ctx context.Context) error {
	m.restartLock.Lock()
	defer m.restartLock.Unlock()

	m.logger.Info("Restarting audio engine")

	if err := sleepContext(ctx, m.params.RestartSettleBefore); err != nil {
		return err
	}

	if err := m.setParam(paramRestart, 1); err != nil {
		m.logger.Warnw("Failed to send restart command", "error", err)
		return fmt.Errorf("send restart command: %w", err)
	}

	if err := sleepContext(ctx, m.params.RestartSettleAfter); err != nil {
		return err
	}

	m.logger.Debug("Audio engine restarted")

	return nil
}

// State returns the current session state
func (m *SessionManager) State() SessionState {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	return m.state
}

// Variant returns the confirmed engine variant
func (m *SessionManager) Variant() Variant {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	return m.variant
}

// Limits returns the strip and bus counts of the confirmed variant
func (m *SessionManager) Limits() (strips uint, buses uint) {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	return m.maxStrips, m.maxBuses
}

// ValidateChannel rejects refs the confirmed variant doesn't have
func (m *SessionManager) ValidateChannel(ref ChannelRef) error {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	return m.validateLocked(ref)
}

func (m *SessionManager) validateLocked(ref ChannelRef) error {
	if m.state != StateConfirmed {
		return ErrNotLoggedIn
	}

	limit := m.maxStrips
	if ref.Type == ChannelOutput {
		limit = m.maxBuses
	}

	if ref.Index >= limit {
		return fmt.Errorf("%w: %s does not exist on %s (%d available)", ErrInvalidChannel, ref, m.variant, limit)
	}

	return nil
}

// Volume reads a channel's gain and returns it as percent of the configured dB range
func (m *SessionManager) Volume(ref ChannelRef) (float64, error) {
	gain, err := m.getChannelParam(ref, ref.GainParam())
	if err != nil {
		return 0, err
	}

	percent := util.DecibelToPercent(float64(gain), m.params.MinDB, m.params.MaxDB)
	m.updateCache(ref, func(state *ChannelState) { state.VolumePercent = percent })

	return percent, nil
}

// SetVolume writes a channel's gain from a percent of the configured dB range
func (m *SessionManager) SetVolume(ref ChannelRef, percent float64) error {
	gain := util.PercentToDecibel(percent, m.params.MinDB, m.params.MaxDB)

	if err := m.setChannelParam(ref, ref.GainParam(), float32(gain)); err != nil {
		return err
	}

	m.updateCache(ref, func(state *ChannelState) {
		state.VolumePercent = util.Clamp(percent, 0, 100)
	})

	return nil
}

// Mute reads a channel's mute state
func (m *SessionManager) Mute(ref ChannelRef) (bool, error) {
	value, err := m.getChannelParam(ref, ref.MuteParam())
	if err != nil {
		return false, err
	}

	muted := value >= 0.5
	m.updateCache(ref, func(state *ChannelState) { state.Muted = muted })

	return muted, nil
}

// SetMute mutes or unmutes a channel
func (m *SessionManager) SetMute(ref ChannelRef, muted bool) error {
	var value float32
	if muted {
		value = 1
	}

	if err := m.setChannelParam(ref, ref.MuteParam(), value); err != nil {
		return err
	}

	m.updateCache(ref, func(state *ChannelState) { state.Muted = muted })

	return nil
}

// Refresh re-reads a channel from the engine into the cache
func (m *SessionManager) Refresh(ref ChannelRef) (ChannelState, error) {
	volume, err := m.Volume(ref)
	if err != nil {
		return ChannelState{}, err
	}

	muted, err := m.Mute(ref)
	if err != nil {
		return ChannelState{}, err
	}

	return ChannelState{VolumePercent: volume, Muted: muted}, nil
}

// IsDirty reports whether the engine saw any parameter change since the last call
func (m *SessionManager) IsDirty() (bool, error) {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	if m.state != StateConfirmed {
		return false, ErrNotLoggedIn
	}

	return m.engine.IsDirty()
}

// Cached returns the last known state of a channel without touching the engine
func (m *SessionManager) Cached(ref ChannelRef) (ChannelState, bool) {
	m.cacheLock.Lock()
	defer m.cacheLock.Unlock()

	state, ok := m.cache[ref]
	return state, ok
}

// Channels returns the cached state table, strips first
func (m *SessionManager) Channels() []ChannelSnapshot {
	m.cacheLock.Lock()
	defer m.cacheLock.Unlock()

	snapshots := make([]ChannelSnapshot, 0, len(m.cache))
	for ref, state := range m.cache {
		snapshots = append(snapshots, ChannelSnapshot{Ref: ref, Name: ref.String(), State: state})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].Ref.Type != snapshots[j].Ref.Type {
			return snapshots[i].Ref.Type < snapshots[j].Ref.Type
		}

		return snapshots[i].Ref.Index < snapshots[j].Ref.Index
	})

	return snapshots
}

func (m *SessionManager) getChannelParam(ref ChannelRef, name string) (float32, error) {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	if err := m.validateLocked(ref); err != nil {
		m.logger.Errorw("Rejected channel read", "channel", ref.String(), "error", err)
		return 0, err
	}

	value, err := m.engine.GetParam(name)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", name, err)
	}

	return value, nil
}

func (m *SessionManager) setChannelParam(ref ChannelRef, name string, value float32) error {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	if err := m.validateLocked(ref); err != nil {
		m.logger.Errorw("Rejected channel write", "channel", ref.String(), "error", err)
		return err
	}

	if err := m.engine.SetParam(name, value); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}

	return nil
}

func (m *SessionManager) setParam(name string, value float32) error {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	if m.state != StateConfirmed {
		return ErrNotLoggedIn
	}

	return m.engine.SetParam(name, value)
}

func (m *SessionManager) updateCache(ref ChannelRef, update func(state *ChannelState)) {
	m.cacheLock.Lock()
	defer m.cacheLock.Unlock()

	state := m.cache[ref]
	update(&state)
	m.cache[ref] = state
}

func (m *SessionManager) setState(state SessionState) {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	m.state = state
}

func (m *SessionManager) String() string {
	m.connLock.Lock()
	defer m.connLock.Unlock()

	return fmt.Sprintf("<%s session, %s>", m.state, m.variant)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
