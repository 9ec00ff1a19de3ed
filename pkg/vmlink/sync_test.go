package vmlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestMirror(t *testing.T, osState, engineState ChannelState) (*SyncEngine, *fakeEndpoint, *fakeEndpoint) {
	t.Helper()

	osSide := newFakeEndpoint("os.test", osState, true)
	engineSide := newFakeEndpoint("engine.Bus[0]", engineState, false)

	se := NewSyncEngine(zaptest.NewLogger(t).Sugar(), osSide, engineSide, SyncParams{
		PollInterval: time.Hour,
		Detector:     ChangeDetector{Threshold: DefaultChangeThreshold},
	})
	require.NoError(t, se.prime())

	return se, osSide, engineSide
}

func TestMirrorForwardsOSChangeAndSuppressesEcho(t *testing.T) {
	se, osSide, engineSide := newTestMirror(t, ChannelState{VolumePercent: 40}, ChannelState{VolumePercent: 40})

	osSide.userSets(ChannelState{VolumePercent: 55})
	se.poll(fromOS)

	assert.Equal(t, []float64{55}, engineSide.volumes())

	// the engine's dirty flag fires for our own write, which must not bounce back
	se.poll(fromEngine)
	assert.Empty(t, osSide.volumes())

	se.poll(fromOS)
	se.poll(fromEngine)
	assert.Equal(t, []float64{55}, engineSide.volumes())
	assert.Empty(t, osSide.volumes())

	osState, engineState := se.States()
	assert.Equal(t, 55.0, osState.VolumePercent)
	assert.Equal(t, 55.0, engineState.VolumePercent)
}

func TestMirrorForwardsEngineChange(t *testing.T) {
	se, osSide, engineSide := newTestMirror(t, ChannelState{VolumePercent: 40}, ChannelState{VolumePercent: 40})

	hookCalls := 0
	se.OnOSWrite(func() { hookCalls++ })

	engineSide.userSets(ChannelState{VolumePercent: 30})
	se.poll(fromEngine)

	assert.Equal(t, []float64{30}, osSide.volumes())
	assert.Equal(t, 1, hookCalls)

	// the OS side is polled unconditionally, its first reading after our write is the echo
	se.poll(fromOS)
	se.poll(fromOS)
	assert.Empty(t, engineSide.volumes())
	assert.Equal(t, 1, hookCalls)
}

func TestMirrorForwardsRapidChanges(t *testing.T) {
	se, osSide, engineSide := newTestMirror(t, ChannelState{VolumePercent: 40}, ChannelState{VolumePercent: 40})

	osSide.userSets(ChannelState{VolumePercent: 55})
	se.poll(fromOS)

	osSide.userSets(ChannelState{VolumePercent: 70})
	se.poll(fromOS)

	assert.Equal(t, []float64{55, 70}, engineSide.volumes())

	se.poll(fromEngine)
	assert.Empty(t, osSide.volumes())
	assert.Equal(t, 70.0, engineSide.current().VolumePercent)
}

func TestMirrorIgnoresJitterBelowThreshold(t *testing.T) {
	se, osSide, engineSide := newTestMirror(t, ChannelState{VolumePercent: 40}, ChannelState{VolumePercent: 40})

	osSide.userSets(ChannelState{VolumePercent: 40.8})
	se.poll(fromOS)

	osSide.userSets(ChannelState{VolumePercent: 41})
	se.poll(fromOS)

	assert.Empty(t, engineSide.volumes())
}

func TestMirrorForwardsMuteOnly(t *testing.T) {
	se, osSide, engineSide := newTestMirror(t, ChannelState{VolumePercent: 40}, ChannelState{VolumePercent: 40})

	osSide.userSets(ChannelState{VolumePercent: 40, Muted: true})
	se.poll(fromOS)

	assert.Equal(t, []bool{true}, engineSide.mutes())
	assert.Empty(t, engineSide.volumes())
	assert.True(t, engineSide.current().Muted)
}

func TestMirrorWriteFailureLeavesCaches(t *testing.T) {
	se, osSide, engineSide := newTestMirror(t, ChannelState{VolumePercent: 40}, ChannelState{VolumePercent: 40})

	engineSide.mu.Lock()
	engineSide.setVolumeErr = errFake
	engineSide.mu.Unlock()

	osSide.userSets(ChannelState{VolumePercent: 55})
	se.poll(fromOS)

	osState, engineState := se.States()
	assert.Equal(t, 40.0, osState.VolumePercent)
	assert.Equal(t, 40.0, engineState.VolumePercent)

	se.lock.Lock()
	assert.False(t, se.ignoreNextFromEngine)
	se.lock.Unlock()

	engineSide.mu.Lock()
	engineSide.setVolumeErr = nil
	engineSide.mu.Unlock()

	// the next tick detects the same change again
	se.poll(fromOS)
	assert.Equal(t, []float64{55}, engineSide.volumes())
}

func TestMirrorPushesOSStateOnStart(t *testing.T) {
	osSide := newFakeEndpoint("os.test", ChannelState{VolumePercent: 40}, true)
	engineSide := newFakeEndpoint("engine.Bus[0]", ChannelState{VolumePercent: 60, Muted: true}, false)

	se := NewSyncEngine(zaptest.NewLogger(t).Sugar(), osSide, engineSide, SyncParams{
		PollInterval: time.Hour,
		Detector:     ChangeDetector{Threshold: DefaultChangeThreshold},
		SyncOnStart:  true,
	})
	require.NoError(t, se.prime())

	assert.Equal(t, []float64{40}, engineSide.volumes())
	assert.Equal(t, []bool{false}, engineSide.mutes())

	se.poll(fromEngine)
	assert.Empty(t, osSide.volumes())
}

func TestMirrorLoops(t *testing.T) {
	osSide := newFakeEndpoint("os.test", ChannelState{VolumePercent: 40}, true)
	engineSide := newFakeEndpoint("engine.Bus[0]", ChannelState{VolumePercent: 40}, false)

	se := NewSyncEngine(zaptest.NewLogger(t).Sugar(), osSide, engineSide, SyncParams{
		PollInterval: 5 * time.Millisecond,
		Detector:     ChangeDetector{Threshold: DefaultChangeThreshold},
	})
	require.NoError(t, se.Start())
	defer se.Stop()

	osSide.userSets(ChannelState{VolumePercent: 65})

	assert.Eventually(t, func() bool {
		return engineSide.current().VolumePercent == 65
	}, time.Second, 5*time.Millisecond)

	// give both loops a few more ticks, the echo must not come back
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, osSide.volumes())
}

func TestMirrorVerboseLogsEveryPoll(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		core, logs := observer.New(zapcore.DebugLevel)

		osSide := newFakeEndpoint("os.test", ChannelState{VolumePercent: 40}, true)
		engineSide := newFakeEndpoint("engine.Bus[0]", ChannelState{VolumePercent: 40}, false)

		se := NewSyncEngine(zap.New(core).Sugar(), osSide, engineSide, SyncParams{
			PollInterval: time.Hour,
			Detector:     ChangeDetector{Threshold: DefaultChangeThreshold},
			Verbose:      verbose,
		})
		require.NoError(t, se.prime())

		// neither side moved
		se.poll(fromOS)
		se.poll(fromEngine)

		polled := logs.FilterMessageSnippet("Polled side").Len()
		if verbose {
			assert.Equal(t, 2, polled)
		} else {
			assert.Zero(t, polled)
		}

		assert.Empty(t, engineSide.volumes())
		assert.Empty(t, osSide.volumes())
	}
}
