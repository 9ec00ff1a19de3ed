// Package vmlink keeps an OS audio endpoint and a virtual mixing engine channel in sync,
// and reroutes the engine when a watched audio device comes and goes
package vmlink

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

const (
	instanceMutexName = "vmlink"

	// the flyout is only shown again after this long without mirrored engine changes
	flyoutCooldown = 2 * time.Second
)

// VMLink is the main entity managing all subcomponents
type VMLink struct {
	logger    *zap.SugaredLogger
	notifier  Notifier
	configMan *ConfigManager
	sound     SoundPlayer

	engine   Engine
	sessions *SessionManager

	// componentsLock guards everything rebuilt on config reload
	componentsLock sync.Mutex
	params         Params
	osEndpoint     AudioEndpoint
	mirror         *SyncEngine
	devices        DeviceNotifier
	hotplug        *HotplugMonitor
	hotkey         *hotkeyListener

	// routeLock guards the manual routing state used when no device is watched
	routeLock     sync.Mutex
	routedPresent bool

	ctx    context.Context
	cancel context.CancelFunc

	runningWithTray bool
	stopChannel     chan bool
	version         string
	verbose         bool
}

func NewVMLink(logger *zap.SugaredLogger, configPath string, verbose bool) (*VMLink, error) {
	logger = logger.Named("vmlink")

	notifier, err := NewToastNotifier(logger)
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	config, err := NewConfig(logger, notifier, configPath)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	v := &VMLink{
		logger:      logger,
		notifier:    notifier,
		configMan:   config,
		sound:       NewSoundPlayer(logger),
		ctx:         ctx,
		cancel:      cancel,
		stopChannel: make(chan bool),
		verbose:     verbose,
	}

	logger.Debug("Created vmlink instance")

	return v, nil
}

// Connect loads the config and brings up the engine session. It's all the CLI commands need
func (v *VMLink) Connect(ctx context.Context) error {
	v.logger.Debug("Connecting")

	// load the config for the first time
	if err := v.configMan.Load(); err != nil {
		v.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	params, err := v.configMan.Current().Params()
	if err != nil {
		return err
	}

	v.componentsLock.Lock()
	v.params = params
	v.componentsLock.Unlock()

	engine, err := NewEngine(v.logger, params.DLLPath)
	if err != nil {
		v.logger.Errorw("Failed to bind to mixing engine", "error", err)
		return fmt.Errorf("bind to mixing engine: %w", err)
	}

	v.engine = engine
	v.sessions = NewSessionManager(v.logger, engine, params.Session)

	if err := v.sessions.Initialize(ctx); err != nil {
		v.logger.Errorw("Failed to initialize engine session", "error", err)
		_ = v.sessions.Shutdown()

		return fmt.Errorf("init engine session: %w", err)
	}

	return nil
}

// Initialize sets up components and starts to run in the background
func (v *VMLink) Initialize() error {
	v.logger.Debug("Initializing")

	if err := util.CreateMutex(instanceMutexName); err != nil {
		v.logger.Errorw("Failed to claim single instance lock", "error", err)
		v.notifier.Notify("vmlink is already running", "Only one instance can run at a time.")
		return fmt.Errorf("claim instance lock: %w", err)
	}

	if err := v.Connect(v.ctx); err != nil {
		v.notifier.Notify("Can't connect to the audio engine", "Please check vmlink's logs for more details.")
		return err
	}

	v.componentsLock.Lock()
	err := v.startComponentsLocked()
	v.componentsLock.Unlock()

	if err != nil {
		v.logger.Errorw("Failed to start components", "error", err)
		_ = v.sessions.Shutdown()
		return fmt.Errorf("start components: %w", err)
	}

	v.setupInterruptHandler()

	if v.params.DisableTray {
		v.logger.Debugw("Running without tray icon", "reason", "disabled in config")

		// run in main thread while waiting on ctrl+C
		v.run()
	} else {
		v.runningWithTray = true
		v.initializeTray(v.run)
	}

	return nil
}

// SetVersion causes vmlink to add a version string to its tray menu if called before Initialize
func (v *VMLink) SetVersion(version string) {
	v.version = version
}

// Verbose returns a boolean indicating whether vmlink is running in verbose mode
func (v *VMLink) Verbose() bool {
	return v.verbose
}

// Channels returns the cached strip and bus states
func (v *VMLink) Channels() []ChannelSnapshot {
	return v.sessions.Channels()
}

// Variant returns the connected engine variant
func (v *VMLink) Variant() Variant {
	return v.sessions.Variant()
}

// RestartEngine restarts the engine's audio processing
func (v *VMLink) RestartEngine(ctx context.Context) error {
	return v.sessions.Restart(ctx)
}

// Route applies the configured toggle pair as if the watched device were present or absent
func (v *VMLink) Route(ctx context.Context, present bool) error {
	v.componentsLock.Lock()
	toggle := v.params.Hotplug.Toggle
	v.componentsLock.Unlock()

	first, second := toggle.refs()
	for _, ref := range []ChannelRef{first, second} {
		if err := v.sessions.ValidateChannel(ref); err != nil {
			return fmt.Errorf("validate toggle channel: %w", err)
		}
	}

	return ApplyRouting(ctx, v.logger, v.sessions, toggle, present, true)
}

// Close ends the engine session opened by Connect
func (v *VMLink) Close() error {
	v.cancel()

	if v.sessions == nil {
		return nil
	}

	if err := v.sessions.Shutdown(); err != nil {
		v.logger.Warnw("Failed to shut down engine session", "error", err)
		return fmt.Errorf("shut down engine session: %w", err)
	}

	return nil
}

func (v *VMLink) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		v.logger.Debugw("Interrupted", "signal", signal)
		v.signalStop()
	}()
}

func (v *VMLink) run() {
	defer v.recoverFromPanic()

	v.logger.Info("Run loop starting")

	configReloaded := v.configMan.SubscribeToChanges()
	go v.configMan.WatchConfigFileChanges()

	for {
		select {
		case <-configReloaded:
			v.onConfigReloaded()

		case <-v.stopChannel:
			v.logger.Debug("Stop channel signaled, terminating")

			if err := v.stop(); err != nil {
				v.logger.Warnw("Failed to stop vmlink", "error", err)
				os.Exit(1)
			}

			os.Exit(0)
		}
	}
}

func (v *VMLink) signalStop() {
	v.logger.Debug("Signalling stop channel")
	v.stopChannel <- true
}

func (v *VMLink) stop() error {
	v.logger.Info("Stopping")

	v.configMan.StopWatchingConfigFile()

	// unblocks any restart wait still in flight
	v.cancel()

	v.componentsLock.Lock()
	v.stopComponentsLocked()
	v.componentsLock.Unlock()

	if err := v.sessions.Shutdown(); err != nil {
		v.logger.Errorw("Failed to shut down engine session", "error", err)
		return fmt.Errorf("shut down engine session: %w", err)
	}

	if v.runningWithTray {
		v.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = v.logger.Sync()

	return nil
}

func (v *VMLink) onConfigReloaded() {
	next, err := v.configMan.Current().Params()
	if err != nil {
		v.logger.Warnw("Reloaded config produced invalid parameters, keeping the running ones", "error", err)
		return
	}

	v.componentsLock.Lock()
	defer v.componentsLock.Unlock()

	if !reflect.DeepEqual(next.Session, v.params.Session) || next.DLLPath != v.params.DLLPath {
		v.logger.Info("Engine settings changed, they take effect after vmlink restarts")
	}

	v.logger.Debug("Rebuilding mirror and hotplug monitor with reloaded parameters")

	v.stopComponentsLocked()

	// the session keeps its original parameters
	next.Session = v.params.Session
	next.DLLPath = v.params.DLLPath
	v.params = next

	if err := v.startComponentsLocked(); err != nil {
		v.logger.Warnw("Failed to restart components after config reload", "error", err)
		v.notifier.Notify("Configuration not applied", err.Error())
	}
}

// startComponentsLocked builds the mirror, hotplug monitor and hotkey from the current params
func (v *VMLink) startComponentsLocked() error {
	params := v.params

	if params.MirrorEnabled {
		if err := v.startMirrorLocked(params); err != nil {
			v.stopComponentsLocked()
			return err
		}
	} else {
		v.logger.Debugw("Not mirroring volume", "reason", "disabled in config")
	}

	if params.HotplugEnabled {
		if err := v.startHotplugLocked(params); err != nil {
			v.stopComponentsLocked()
			return err
		}
	}

	if params.Hotkey != "" {
		v.startHotkeyLocked(params)
	}

	return nil
}

func (v *VMLink) startMirrorLocked(params Params) error {
	engineSide, err := newEngineChannel(v.sessions, params.MirrorChannel)
	if err != nil {
		v.logger.Errorw("Mirror channel doesn't exist on this engine",
			"channel", params.MirrorChannel.String(),
			"variant", v.sessions.Variant().String(),
			"error", err)

		return fmt.Errorf("open mirror channel: %w", err)
	}

	osSide, err := NewOSEndpoint(v.logger, params.MirrorDevice)
	if err != nil {
		v.logger.Errorw("Failed to open OS endpoint", "device", params.MirrorDevice, "error", err)
		return fmt.Errorf("open OS endpoint: %w", err)
	}

	syncParams := params.Sync
	syncParams.Verbose = v.Verbose()

	mirror := NewSyncEngine(v.logger, osSide, engineSide, syncParams)
	if params.AudioFlyout {
		mirror.OnOSWrite(v.flyoutHook())
	}

	if err := mirror.Start(); err != nil {
		osSide.Release()
		return fmt.Errorf("start mirror: %w", err)
	}

	v.osEndpoint = osSide
	v.mirror = mirror

	return nil
}

func (v *VMLink) startHotplugLocked(params Params) error {
	first, second := params.Hotplug.Toggle.refs()
	for _, ref := range []ChannelRef{first, second} {
		if err := v.sessions.ValidateChannel(ref); err != nil {
			v.logger.Errorw("Toggle channel doesn't exist on this engine", "channel", ref.String(), "error", err)
			return fmt.Errorf("validate toggle channel: %w", err)
		}
	}

	devices, err := NewDeviceNotifier(v.logger)
	if err != nil {
		v.logger.Errorw("Failed to create device notifier", "error", err)
		return fmt.Errorf("create device notifier: %w", err)
	}

	hotplugParams := params.Hotplug
	hotplugParams.Verbose = v.Verbose()

	monitor := NewHotplugMonitor(v.logger, devices, v.sessions, v.sound, hotplugParams)
	if err := monitor.Start(); err != nil {
		_ = devices.Release()
		return fmt.Errorf("start hotplug monitor: %w", err)
	}

	v.devices = devices
	v.hotplug = monitor

	return nil
}

// a hotkey that can't be registered isn't fatal
func (v *VMLink) startHotkeyLocked(params Params) {
	hk, err := parseHotkey(params.Hotkey)
	if err != nil {
		v.logger.Warnw("Ignoring invalid hotkey", "hotkey", params.Hotkey, "error", err)
		return
	}

	listener, err := startHotkeyListener(v.logger, hk, v.onHotkey)
	if err != nil {
		v.logger.Warnw("Hotkey not available", "hotkey", params.Hotkey, "error", err)
		return
	}

	v.hotkey = listener
}

// stopComponentsLocked tears down in reverse order of construction
func (v *VMLink) stopComponentsLocked() {
	if v.hotkey != nil {
		v.hotkey.Stop()
		v.hotkey = nil
	}

	if v.hotplug != nil {
		v.hotplug.Stop()
		v.hotplug = nil
	}

	if v.devices != nil {
		if err := v.devices.Release(); err != nil {
			v.logger.Warnw("Failed to release device notifier", "error", err)
		}
		v.devices = nil
	}

	if v.mirror != nil {
		v.mirror.Stop()
		v.mirror = nil
	}

	if v.osEndpoint != nil {
		v.osEndpoint.Release()
		v.osEndpoint = nil
	}
}

func (v *VMLink) onHotkey() {
	v.toggleRouting()

	v.componentsLock.Lock()
	sound := v.params.HotkeySound
	v.componentsLock.Unlock()

	if sound != "" {
		v.sound.Play(sound, 0)
	}
}

// toggleRouting flips the routing through the hotplug monitor if there is one, so its view stays
// consistent, and through a local flag otherwise
func (v *VMLink) toggleRouting() {
	v.componentsLock.Lock()
	monitor := v.hotplug
	toggle := v.params.Hotplug.Toggle
	v.componentsLock.Unlock()

	if monitor != nil {
		presence := monitor.Toggle(v.ctx)
		v.logger.Infow("Toggled routing", "presence", presence.String())
		return
	}

	v.routeLock.Lock()
	defer v.routeLock.Unlock()

	present := !v.routedPresent

	if err := ApplyRouting(v.ctx, v.logger, v.sessions, toggle, present, true); err != nil {
		v.logger.Warnw("Failed to toggle routing", "error", err)
	}

	v.routedPresent = present
	v.logger.Infow("Toggled routing", "presence", presenceOf(present).String())
}

// flyoutHook shows the OS volume flyout after the engine's state was mirrored to the OS
func (v *VMLink) flyoutHook() func() {
	var lastShown time.Time

	return func() {
		now := time.Now()
		if now.Sub(lastShown) < flyoutCooldown {
			return
		}
		lastShown = now

		if err := showAudioFlyout(v.logger); err != nil {
			v.logger.Debugw("Failed to show audio flyout", "error", err)
		}
	}
}
