package vmlink

import (
	"fmt"
	"net"
	"sync"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"

	"github.com/MixyLabs/vmlink/pkg/vmlink/util"
)

const defaultSinkName = "@DEFAULT_SINK@"

// paEndpoint drives the volume of one PulseAudio sink
type paEndpoint struct {
	logger *zap.SugaredLogger

	lock     sync.Mutex
	client   *proto.Client
	conn     net.Conn
	sinkName string
}

func connectPulse(logger *zap.SugaredLogger) (*proto.Client, net.Conn, error) {
	client, conn, err := proto.Connect("")
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("vmlink"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("set PulseAudio client name: %w", err)
	}

	return client, conn, nil
}

// NewOSEndpoint opens the sink with the given name, or the default sink if name is empty
func NewOSEndpoint(logger *zap.SugaredLogger, deviceID string) (AudioEndpoint, error) {
	logger = logger.Named("os_endpoint")

	client, conn, err := connectPulse(logger)
	if err != nil {
		return nil, err
	}

	sinkName := deviceID
	if sinkName == "" {
		sinkName = defaultSinkName
	}

	e := &paEndpoint{
		logger:   logger,
		client:   client,
		conn:     conn,
		sinkName: sinkName,
	}

	if _, err := e.sinkInfo(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Debugw("Created OS endpoint", "sink", sinkName)

	return e, nil
}

func (e *paEndpoint) Key() string {
	return "os." + e.sinkName
}

func (e *paEndpoint) sinkInfo() (*proto.GetSinkInfoReply, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	request := proto.GetSinkInfo{
		SinkIndex: proto.Undefined,
		SinkName:  e.sinkName,
	}
	reply := proto.GetSinkInfoReply{}

	if err := e.client.Request(&request, &reply); err != nil {
		return nil, fmt.Errorf("get sink info for %s: %w", e.sinkName, err)
	}

	return &reply, nil
}

func (e *paEndpoint) GetVolume() (float64, error) {
	info, err := e.sinkInfo()
	if err != nil {
		return 0, err
	}

	return util.Round2(util.ScalarToPercent(parseChannelVolumes(info.ChannelVolumes))), nil
}

func (e *paEndpoint) SetVolume(percent float64) error {
	info, err := e.sinkInfo()
	if err != nil {
		return err
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	request := proto.SetSinkVolume{
		SinkIndex:      proto.Undefined,
		SinkName:       e.sinkName,
		ChannelVolumes: createChannelVolumes(info.Channels, util.PercentToScalar(percent)),
	}

	if err := e.client.Request(&request, nil); err != nil {
		e.logger.Warnw("Failed to set sink volume", "percent", percent, "error", err)
		return fmt.Errorf("set sink volume: %w", err)
	}

	return nil
}

func (e *paEndpoint) GetMute() (bool, error) {
	info, err := e.sinkInfo()
	if err != nil {
		return false, err
	}

	return info.Mute, nil
}

func (e *paEndpoint) SetMute(muted bool) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	request := proto.SetSinkMute{
		SinkIndex: proto.Undefined,
		SinkName:  e.sinkName,
		Mute:      muted,
	}

	if err := e.client.Request(&request, nil); err != nil {
		e.logger.Warnw("Failed to set sink mute", "muted", muted, "error", err)
		return fmt.Errorf("set sink mute: %w", err)
	}

	return nil
}

// Changed always reports true: the OS side is polled and compared against the cache
func (e *paEndpoint) Changed() (bool, error) {
	return true, nil
}

func (e *paEndpoint) Release() {
	if err := e.conn.Close(); err != nil {
		e.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return
	}

	e.logger.Debug("Released OS endpoint")
}

func parseChannelVolumes(volumes []uint32) float64 {
	if len(volumes) == 0 {
		return 0
	}

	var level uint64
	for _, volume := range volumes {
		level += uint64(volume)
	}

	return float64(level) / float64(len(volumes)) / float64(proto.VolumeNorm)
}

func createChannelVolumes(channels byte, volume float64) []uint32 {
	volumes := make([]uint32, channels)

	for i := range volumes {
		volumes[i] = uint32(volume * float64(proto.VolumeNorm))
	}

	return volumes
}
