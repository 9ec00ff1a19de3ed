package vmlink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often each side of the mirror is observed
const DefaultPollInterval = 500 * time.Millisecond

type direction int

const (
	fromOS direction = iota
	fromEngine
)

func (d direction) opposite() direction {
	if d == fromOS {
		return fromEngine
	}

	return fromOS
}

func (d direction) String() string {
	if d == fromOS {
		return "os"
	}

	return "engine"
}

// SyncParams configures the mirror loops
type SyncParams struct {
	PollInterval time.Duration
	Detector     ChangeDetector

	// SyncOnStart pushes the OS state to the engine once when the mirror starts
	SyncOnStart bool

	// Verbose logs every observation, not only the ones that lead to a write
	Verbose bool
}

// SyncEngine mirrors volume and mute between an OS endpoint and an engine channel.
//
// Every write to a side arms that side's ignore flag; the next observation of that side
// consumes the flag instead of being forwarded, so the two sides never re-trigger each other.
type SyncEngine struct {
	logger *zap.SugaredLogger

	osSide     AudioEndpoint
	engineSide AudioEndpoint
	params     SyncParams

	// onOSWrite runs after the engine's state was applied to the OS side
	onOSWrite func()

	// lock guards the cached states and the echo flags
	lock                 sync.Mutex
	osState              ChannelState
	engineState          ChannelState
	ignoreNextFromOS     bool
	ignoreNextFromEngine bool

	stopChannel chan struct{}
	wg          sync.WaitGroup
	running     bool
}

func NewSyncEngine(logger *zap.SugaredLogger, osSide AudioEndpoint, engineSide AudioEndpoint, params SyncParams) *SyncEngine {
	logger = logger.Named("mirror")

	if params.PollInterval <= 0 {
		params.PollInterval = DefaultPollInterval
	}

	se := &SyncEngine{
		logger:     logger,
		osSide:     osSide,
		engineSide: engineSide,
		params:     params,
	}

	logger.Debugw("Created mirror instance",
		"os", osSide.Key(),
		"engine", engineSide.Key(),
		"pollInterval", params.PollInterval,
		"threshold", params.Detector.Threshold)

	return se
}

// OnOSWrite registers a hook that runs after each successful write to the OS side
func (se *SyncEngine) OnOSWrite(hook func()) {
	se.onOSWrite = hook
}

// Start reads both sides and launches the two observation loops
func (se *SyncEngine) Start() error {
	if err := se.prime(); err != nil {
		return err
	}

	se.stopChannel = make(chan struct{})
	se.running = true

	se.wg.Add(2)
	go se.loop(fromOS)
	go se.loop(fromEngine)

	se.logger.Info("Mirror started")

	return nil
}

// Stop ends both loops and waits for them; latency is bounded by one poll interval
func (se *SyncEngine) Stop() {
	if !se.running {
		return
	}

	close(se.stopChannel)
	se.wg.Wait()
	se.running = false

	se.logger.Info("Mirror stopped")
}

// States returns the cached OS and engine states
func (se *SyncEngine) States() (osState ChannelState, engineState ChannelState) {
	se.lock.Lock()
	defer se.lock.Unlock()

	return se.osState, se.engineState
}

func (se *SyncEngine) prime() error {
	// drop whatever the dirty flag accumulated before we started watching
	if _, err := se.engineSide.Changed(); err != nil {
		se.logger.Debugw("Failed to reset engine change flag", "error", err)
	}

	osState, err := readState(se.osSide)
	if err != nil {
		se.logger.Warnw("Failed to read initial OS state", "error", err)
		return fmt.Errorf("read initial os state: %w", err)
	}

	engineState, err := readState(se.engineSide)
	if err != nil {
		se.logger.Warnw("Failed to read initial engine state", "error", err)
		return fmt.Errorf("read initial engine state: %w", err)
	}

	se.lock.Lock()
	se.osState = osState
	se.engineState = engineState
	se.lock.Unlock()

	se.logger.Infow("Read initial state", "os", osState, "engine", engineState)

	if se.params.SyncOnStart && se.params.Detector.Changed(osState, engineState) {
		se.logger.Debug("Sides differ on start, pushing OS state to engine")
		se.apply(fromOS, osState, engineState)
	}

	return nil
}

func (se *SyncEngine) loop(dir direction) {
	defer se.wg.Done()

	ticker := time.NewTicker(se.params.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-se.stopChannel:
			se.logger.Debugw("Observation loop exiting", "side", dir.String())
			return
		case <-ticker.C:
			se.poll(dir)
		}
	}
}

// poll runs one observation of the given side
func (se *SyncEngine) poll(dir direction) {
	source := se.endpoint(dir)

	changed, err := source.Changed()
	if err != nil {
		se.logger.Debugw("Failed to check for changes", "side", dir.String(), "error", err)
		return
	}

	if !changed {
		if se.params.Verbose {
			se.logger.Debugw("Polled side, nothing changed", "side", dir.String())
		}
		return
	}

	next, err := readState(source)
	if err != nil {
		se.logger.Warnw("Failed to read state", "side", dir.String(), "error", err)
		return
	}

	if se.params.Verbose {
		se.logger.Debugw("Polled side", "side", dir.String(), "state", next)
	}

	se.lock.Lock()

	if *se.ignoreFlag(dir) {
		*se.ignoreFlag(dir) = false
		se.lock.Unlock()

		se.logger.Debugw("Suppressed echo of our own write", "side", dir.String(), "state", next)
		return
	}

	cached := *se.cachedState(dir)
	targetCached := *se.cachedState(dir.opposite())
	se.lock.Unlock()

	if !se.params.Detector.Changed(next, cached) {
		return
	}

	se.logger.Debugw("Detected change", "side", dir.String(), "from", cached, "to", next)

	se.apply(dir, next, targetCached)
}

// apply forwards state observed on one side to the other side
func (se *SyncEngine) apply(dir direction, next ChannelState, targetCached ChannelState) {
	target := se.endpoint(dir.opposite())

	se.lock.Lock()
	*se.ignoreFlag(dir.opposite()) = true
	se.lock.Unlock()

	wrote, err := se.write(target, next, targetCached)
	if err != nil || !wrote {
		// nothing reached the target, so there's no echo to wait for
		se.lock.Lock()
		*se.ignoreFlag(dir.opposite()) = false
		se.lock.Unlock()
	}

	if err != nil {
		se.logger.Warnw("Failed to apply change",
			"from", dir.String(),
			"to", dir.opposite().String(),
			"state", next,
			"error", err)

		return
	}

	se.lock.Lock()
	se.osState = next
	se.engineState = next
	se.lock.Unlock()

	if dir == fromEngine && se.onOSWrite != nil {
		se.onOSWrite()
	}
}

// write only touches the fields that actually differ on the target
func (se *SyncEngine) write(target AudioEndpoint, next ChannelState, targetCached ChannelState) (bool, error) {
	var errs []error
	wrote := false

	if next.Muted != targetCached.Muted {
		wrote = true
		if err := target.SetMute(next.Muted); err != nil {
			errs = append(errs, fmt.Errorf("set %s mute: %w", target.Key(), err))
		}
	}

	if se.params.Detector.volumeChanged(next, targetCached) {
		wrote = true
		if err := target.SetVolume(next.VolumePercent); err != nil {
			errs = append(errs, fmt.Errorf("set %s volume: %w", target.Key(), err))
		}
	}

	return wrote, errors.Join(errs...)
}

func (se *SyncEngine) endpoint(dir direction) AudioEndpoint {
	if dir == fromOS {
		return se.osSide
	}

	return se.engineSide
}

// ignoreFlag and cachedState must be called with lock held
func (se *SyncEngine) ignoreFlag(dir direction) *bool {
	if dir == fromOS {
		return &se.ignoreNextFromOS
	}

	return &se.ignoreNextFromEngine
}

func (se *SyncEngine) cachedState(dir direction) *ChannelState {
	if dir == fromOS {
		return &se.osState
	}

	return &se.engineState
}
