package vmlink

import (
	"fmt"

	"github.com/diegosz/go-wca/pkg/wca"
	"github.com/go-ole/go-ole"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

// wcaEndpoint drives the master volume of one render device
type wcaEndpoint struct {
	logger *zap.SugaredLogger
	key    string

	enumerator *wca.IMMDeviceEnumerator
	device     *wca.IMMDevice
	volume     *wca.IAudioEndpointVolume

	// tags our own writes so other audio consumers can tell them apart
	eventCtx *ole.GUID
}

// NewOSEndpoint opens the render device with the given id, or the default one if id is empty
func NewOSEndpoint(logger *zap.SugaredLogger, deviceID string) (AudioEndpoint, error) {
	logger = logger.Named("os_endpoint")

	enumerator, err := newDeviceEnumerator(logger)
	if err != nil {
		return nil, err
	}

	var device *wca.IMMDevice

	if deviceID == "" {
		if err := enumerator.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &device); err != nil {
			logger.Warnw("Failed to call GetDefaultAudioEndpoint", "error", err)
			enumerator.Release()
			return nil, fmt.Errorf("call GetDefaultAudioEndpoint: %w", err)
		}
	} else if err := enumerator.GetDevice(deviceID, &device); err != nil {
		logger.Warnw("Failed to get MM device", "deviceID", deviceID, "error", err)
		enumerator.Release()
		return nil, fmt.Errorf("get device %s: %w", deviceID, err)
	}

	var endpointID string
	if err := device.GetId(&endpointID); err != nil {
		logger.Warnw("Failed to get endpointID", "error", err)
		device.Release()
		enumerator.Release()
		return nil, fmt.Errorf("get endpointID: %w", err)
	}

	var audioEndpointVolume *wca.IAudioEndpointVolume

	if err := device.Activate(wca.IID_IAudioEndpointVolume, wca.CLSCTX_ALL, nil, &audioEndpointVolume); err != nil {
		logger.Warnw("Failed to activate AudioEndpointVolume", "error", err)
		device.Release()
		enumerator.Release()
		return nil, fmt.Errorf("activate AudioEndpointVolume: %w", err)
	}

	e := &wcaEndpoint{
		logger:     logger,
		key:        "os." + endpointID,
		enumerator: enumerator,
		device:     device,
		volume:     audioEndpointVolume,
		eventCtx:   ole.NewGUID("{" + uuid.NewString() + "}"),
	}

	logger.Debugw("Created OS endpoint", "endpointID", endpointID)

	return e, nil
}

func (e *wcaEndpoint) Key() string {
	return e.key
}

func (e *wcaEndpoint) GetVolume() (float64, error) {
	var level float32

	if err := e.volume.GetMasterVolumeLevelScalar(&level); err != nil {
		return 0, fmt.Errorf("get master volume: %w", err)
	}

	return util.Round2(util.ScalarToPercent(float64(util.NormalizeScalar(level)))), nil
}

func (e *wcaEndpoint) SetVolume(percent float64) error {
	level := float32(util.PercentToScalar(percent))

	if err := e.volume.SetMasterVolumeLevelScalar(level, e.eventCtx); err != nil {
		e.logger.Warnw("Failed to set master volume", "percent", percent, "error", err)
		return fmt.Errorf("set master volume: %w", err)
	}

	return nil
}

func (e *wcaEndpoint) GetMute() (bool, error) {
	var muted bool

	if err := e.volume.GetMute(&muted); err != nil {
		return false, fmt.Errorf("get mute: %w", err)
	}

	return muted, nil
}

func (e *wcaEndpoint) SetMute(muted bool) error {
	if err := e.volume.SetMute(muted, e.eventCtx); err != nil {
		e.logger.Warnw("Failed to set mute", "muted", muted, "error", err)
		return fmt.Errorf("set mute: %w", err)
	}

	return nil
}

// Changed always reports true: the OS side is polled and compared against the cache
func (e *wcaEndpoint) Changed() (bool, error) {
	return true, nil
}

func (e *wcaEndpoint) Release() {
	e.volume.Release()
	e.device.Release()
	e.enumerator.Release()

	ole.CoUninitialize()

	e.logger.Debug("Released OS endpoint")
}
