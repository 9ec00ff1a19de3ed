package vmlink

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

type ConfigManager struct {
	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	filepath   string
	userConfig *viper.Viper

	current Config
}

type Config struct {
	DisableTray bool   `mapstructure:"disable_tray"`
	AudioFlyout bool   `mapstructure:"audio_flyout"`
	Hotkey      string `mapstructure:"hotkey"`
	HotkeySound string `mapstructure:"hotkey_sound"`

	Engine struct {
		Variant      int      `mapstructure:"variant"`
		LaunchX64    bool     `mapstructure:"launch_x64"`
		DLLPath      string   `mapstructure:"dll_path"`
		ProcessNames []string `mapstructure:"process_names"`

		LaunchSettle   time.Duration `mapstructure:"launch_settle"`
		HealthRetries  int           `mapstructure:"health_retries"`
		HealthInterval time.Duration `mapstructure:"health_interval"`

		RestartSettleBefore time.Duration `mapstructure:"restart_settle_before"`
		RestartSettleAfter  time.Duration `mapstructure:"restart_settle_after"`

		MinDB float64 `mapstructure:"min_db"`
		MaxDB float64 `mapstructure:"max_db"`
	} `mapstructure:"engine"`

	Mirror struct {
		Enabled         bool          `mapstructure:"enabled"`
		Device          string        `mapstructure:"device"`
		ChannelType     string        `mapstructure:"channel_type"`
		ChannelIndex    uint          `mapstructure:"channel_index"`
		PollInterval    time.Duration `mapstructure:"poll_interval"`
		ChangeThreshold float64       `mapstructure:"change_threshold"`
		SyncOnStart     bool          `mapstructure:"sync_on_start"`
	} `mapstructure:"mirror"`

	Hotplug struct {
		DeviceID    string        `mapstructure:"device_id"`
		ChannelType string        `mapstructure:"channel_type"`
		Index1      uint          `mapstructure:"index1"`
		Index2      uint          `mapstructure:"index2"`
		Debounce    time.Duration `mapstructure:"debounce"`
		Sound       string        `mapstructure:"sound"`
		SoundDelay  time.Duration `mapstructure:"sound_delay"`
	} `mapstructure:"hotplug"`
}

// Params is the validated, immutable parameter set the components are built from
type Params struct {
	DisableTray bool
	AudioFlyout bool
	Hotkey      string
	HotkeySound string

	DLLPath string
	Session SessionParams

	MirrorEnabled bool
	MirrorDevice  string
	MirrorChannel ChannelRef
	Sync          SyncParams

	HotplugEnabled bool
	Hotplug        HotplugParams
}

const (
	defaultConfigFilepath = "config.yaml"

	configType = "yaml"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

func NewConfig(logger *zap.SugaredLogger, notifier Notifier, filepath string) (*ConfigManager, error) {
	logger = logger.Named("config")

	if filepath == "" {
		filepath = defaultConfigFilepath
	}

	cc := &ConfigManager{
		logger:             logger,
		notifier:           notifier,
		filepath:           filepath,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
	}

	userConfig := viper.New()
	userConfig.SetConfigFile(filepath)
	userConfig.SetConfigType(configType)

	setDefaults(userConfig)

	cc.userConfig = userConfig

	logger.Debug("Created config instance")

	return cc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("disable_tray", false)
	v.SetDefault("audio_flyout", false)
	v.SetDefault("hotkey", "")
	v.SetDefault("hotkey_sound", "")

	v.SetDefault("engine.variant", int(VariantBanana))
	v.SetDefault("engine.launch_x64", true)
	v.SetDefault("engine.dll_path", "")
	v.SetDefault("engine.process_names", []string{
		"voicemeeter.exe", "voicemeeter_x64.exe",
		"voicemeeterpro.exe", "voicemeeterpro_x64.exe",
		"voicemeeter8.exe", "voicemeeter8x64.exe",
	})
	v.SetDefault("engine.launch_settle", "3s")
	v.SetDefault("engine.health_retries", 10)
	v.SetDefault("engine.health_interval", "500ms")
	v.SetDefault("engine.restart_settle_before", "0s")
	v.SetDefault("engine.restart_settle_after", "1s")
	v.SetDefault("engine.min_db", -60.0)
	v.SetDefault("engine.max_db", 12.0)

	v.SetDefault("mirror.enabled", true)
	v.SetDefault("mirror.device", "")
	v.SetDefault("mirror.channel_type", "output")
	v.SetDefault("mirror.channel_index", 0)
	v.SetDefault("mirror.poll_interval", DefaultPollInterval.String())
	v.SetDefault("mirror.change_threshold", DefaultChangeThreshold)
	v.SetDefault("mirror.sync_on_start", true)

	v.SetDefault("hotplug.device_id", "")
	v.SetDefault("hotplug.channel_type", "input")
	v.SetDefault("hotplug.index1", 0)
	v.SetDefault("hotplug.index2", 1)
	v.SetDefault("hotplug.debounce", DefaultHotplugDebounce.String())
	v.SetDefault("hotplug.sound", "")
	v.SetDefault("hotplug.sound_delay", "0s")
}

func (cc *ConfigManager) Load() error {
	cc.logger.Debugw("Loading config", "path", cc.filepath)

	// make sure it exists
	if !util.FileExists(cc.filepath) {
		cc.logger.Warnw("Config file not found", "path", cc.filepath)
		cc.notifier.Notify("Can't find configuration!",
			fmt.Sprintf("%s must be in the same directory as vmlink. Please re-launch", cc.filepath))

		return fmt.Errorf("config file doesn't exist: %s", cc.filepath)
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)

		// if the error is yaml-format-related, show a sensible error. otherwise, show 'em to the logs
		if strings.Contains(err.Error(), "yaml:") {
			cc.notifier.Notify("Invalid configuration!",
				fmt.Sprintf("Please make sure %s is in a valid YAML format.", cc.filepath))
		} else {
			cc.notifier.Notify("Error loading configuration!", "Please check vmlink's logs for more details.")
		}

		return fmt.Errorf("read user config: %w", err)
	}

	next, err := cc.populateFromViper()
	if err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		return fmt.Errorf("populate config fields: %w", err)
	}

	// an invalid file never replaces the last good config
	if _, err := next.Params(); err != nil {
		cc.logger.Warnw("Config failed validation", "error", err)
		cc.notifier.Notify("Invalid configuration!", err.Error())
		return err
	}

	cc.current = next

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"variant", cc.current.Engine.Variant,
		"mirrorChannel", fmt.Sprintf("%s[%d]", cc.current.Mirror.ChannelType, cc.current.Mirror.ChannelIndex),
		"hotplugDevice", cc.current.Hotplug.DeviceID)

	return nil
}

// Current returns a copy of the last successfully loaded config
func (cc *ConfigManager) Current() Config {
	return cc.current
}

// Path returns the user config file path
func (cc *ConfigManager) Path() string {
	return cc.filepath
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *ConfigManager) SubscribeToChanges() chan bool {
	c := make(chan bool)
	cc.reloadConsumers = append(cc.reloadConsumers, c)

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *ConfigManager) WatchConfigFileChanges() {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.filepath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.WatchConfig()
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write == fsnotify.Write {
			now := time.Now()

			// ... check if it's not a duplicate (many editors will write to a file twice)
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {
				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// wait a bit to let the editor actually flush the new file contents to disk
				<-time.After(delayBetweenEventAndReload)

				if err := cc.Load(); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else {
					cc.logger.Info("Reloaded config successfully")
					cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

					cc.onConfigReloaded()
				}

				lastAttemptedReload = now
			}
		}
	})

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(nil)
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *ConfigManager) StopWatchingConfigFile() {
	cc.stopWatcherChannel <- true
}

func (cc *ConfigManager) populateFromViper() (Config, error) {
	var next Config

	err := cc.userConfig.Unmarshal(&next, func(dConf *mapstructure.DecoderConfig) {
		dConf.WeaklyTypedInput = false
	})
	if err != nil {
		return Config{}, err
	}

	cc.logger.Debug("Populated config fields from viper")

	return next, nil
}

func (cc *ConfigManager) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	for _, consumer := range cc.reloadConsumers {
		consumer <- true
	}
}

// Params validates the config and converts it into component parameters.
// Channel indices are checked against the engine variant later, once it's known
func (c Config) Params() (Params, error) {
	invalid := func(format string, args ...any) (Params, error) {
		return Params{}, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	variant := Variant(c.Engine.Variant)
	if !variant.Valid() {
		return invalid("engine.variant must be 1, 2 or 3, got %d", c.Engine.Variant)
	}

	if c.Engine.MinDB >= c.Engine.MaxDB {
		return invalid("engine.min_db (%v) must be below engine.max_db (%v)", c.Engine.MinDB, c.Engine.MaxDB)
	}

	if c.Engine.HealthRetries < 1 {
		return invalid("engine.health_retries must be at least 1")
	}

	if c.Mirror.ChangeThreshold < 0 {
		return invalid("mirror.change_threshold must not be negative")
	}

	if c.Mirror.PollInterval <= 0 {
		return invalid("mirror.poll_interval must be positive")
	}

	mirrorType, err := ParseChannelType(c.Mirror.ChannelType)
	if err != nil {
		return invalid("mirror.channel_type: %v", err)
	}

	params := Params{
		DisableTray: c.DisableTray,
		AudioFlyout: c.AudioFlyout,
		Hotkey:      c.Hotkey,
		HotkeySound: c.HotkeySound,

		DLLPath: c.Engine.DLLPath,
		Session: SessionParams{
			LaunchVariant:       variant,
			LaunchX64:           c.Engine.LaunchX64,
			LaunchSettle:        c.Engine.LaunchSettle,
			ProcessNames:        c.Engine.ProcessNames,
			HealthRetries:       c.Engine.HealthRetries,
			HealthInterval:      c.Engine.HealthInterval,
			RestartSettleBefore: c.Engine.RestartSettleBefore,
			RestartSettleAfter:  c.Engine.RestartSettleAfter,
			MinDB:               c.Engine.MinDB,
			MaxDB:               c.Engine.MaxDB,
		},

		MirrorEnabled: c.Mirror.Enabled,
		MirrorDevice:  c.Mirror.Device,
		MirrorChannel: ChannelRef{Type: mirrorType, Index: c.Mirror.ChannelIndex},
		Sync: SyncParams{
			PollInterval: c.Mirror.PollInterval,
			Detector:     ChangeDetector{Threshold: c.Mirror.ChangeThreshold},
			SyncOnStart:  c.Mirror.SyncOnStart,
		},

		HotplugEnabled: c.Hotplug.DeviceID != "",
	}

	// the toggle pair is also used by manual routing, so it's validated even without a device
	toggleType, err := ParseChannelType(c.Hotplug.ChannelType)
	if err != nil {
		return invalid("hotplug.channel_type: %v", err)
	}

	if c.Hotplug.Index1 == c.Hotplug.Index2 {
		return invalid("hotplug.index1 and hotplug.index2 must differ")
	}

	params.Hotplug = HotplugParams{
		DeviceID: c.Hotplug.DeviceID,
		Toggle: ToggleConfig{
			Type:   toggleType,
			Index1: c.Hotplug.Index1,
			Index2: c.Hotplug.Index2,
		},
		Debounce:   c.Hotplug.Debounce,
		Sound:      c.Hotplug.Sound,
		SoundDelay: c.Hotplug.SoundDelay,
	}

	if c.Hotkey != "" {
		if _, err := parseHotkey(c.Hotkey); err != nil {
			return invalid("hotkey: %v", err)
		}
	}

	return params, nil
}
