package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kb5ft8/ft8d/pkg/audio"
	"github.com/kb5ft8/ft8d/pkg/clock"
	"github.com/kb5ft8/ft8d/pkg/config"
	"github.com/kb5ft8/ft8d/pkg/eventbus"
	"github.com/kb5ft8/ft8d/pkg/model"
	"github.com/kb5ft8/ft8d/pkg/radio"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Operators = []config.OperatorConfig{{
		ID: "op1", MyCallsign: "AA1AA", MyGrid: "FN42", AudioFreqHz: 1500,
		Mode: "FT8", TransmitCycles: []int{0}, MaxQSOTimeoutCycles: 6,
		MaxCallAttempts: 5, AutoReplyToCQ: true,
	}}
	return cfg
}

func newTestEngine(t *testing.T, fc *clock.FakeClock) (*CoreEngine, *audio.MockDevice) {
	t.Helper()
	dev := audio.NewMockDevice()
	dev.SetSleeper(func(time.Duration) {})
	e, err := NewCoreEngine(testConfig(), Options{Device: dev, Clock: fc})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, dev
}

func TestStateMachineLegalPath(t *testing.T) {
	sm := NewStateMachine(nil)
	require.Equal(t, model.EngineIdle, sm.State())
	require.NoError(t, sm.BeginStart())
	require.NoError(t, sm.StartSucceeded())
	require.Equal(t, model.EngineRunning, sm.State())
	require.NoError(t, sm.BeginStop(false))
	require.NoError(t, sm.StopFinished())
	require.Equal(t, model.EngineIdle, sm.State())
}

func TestStateMachineRejectsIllegalEdges(t *testing.T) {
	sm := NewStateMachine(nil)
	require.Error(t, sm.StartSucceeded(), "RUNNING unreachable from IDLE")
	require.Error(t, sm.BeginStop(false), "STOPPING unreachable from IDLE")

	require.NoError(t, sm.BeginStart())
	require.Error(t, sm.BeginStart(), "STARTING is not re-entrant")
}

func TestStateMachineErrorPathKeepsContext(t *testing.T) {
	sm := NewStateMachine(nil)
	require.NoError(t, sm.BeginStart())
	cause := fmt.Errorf("output device missing")
	require.NoError(t, sm.StartFailed(cause, []string{"radio", "audioInputStream"}))
	require.Equal(t, model.EngineError, sm.State())
	require.Equal(t, cause, sm.Err())
	require.Equal(t, []string{"radio", "audioInputStream"}, sm.StartedResources())

	require.NoError(t, sm.BeginStop(false))
	require.NoError(t, sm.StopFinished())
	require.Equal(t, model.EngineIdle, sm.State())
}

func TestEngineStartStopRoundTrip(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(1500, 0).UTC())
	e, _ := newTestEngine(t, fc)

	require.NoError(t, e.Start(context.Background()))
	require.Equal(t, model.EngineRunning, e.State())

	require.NoError(t, e.Stop())
	require.Equal(t, model.EngineIdle, e.State())

	// The lifecycle is repeatable.
	require.NoError(t, e.Start(context.Background()))
	require.Equal(t, model.EngineRunning, e.State())
	require.NoError(t, e.Stop())
}

// failingDevice makes audioInputStream's start fail, which must roll back
// the resources started before it and land the engine in ERROR.
type failingDevice struct {
	*audio.MockDevice
}

func (f *failingDevice) Start(ctx context.Context, sampleRate, chunkSamples int) (<-chan []float32, error) {
	return nil, fmt.Errorf("no such capture device")
}

func TestEngineStartRollbackOnAudioFailure(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(1500, 0).UTC())
	dev := &failingDevice{MockDevice: audio.NewMockDevice()}
	e, err := NewCoreEngine(testConfig(), Options{Device: dev, Clock: fc})
	require.NoError(t, err)
	defer e.Close()

	err = e.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, model.EngineError, e.State())
	require.Contains(t, e.sm.StartedResources(), "radio",
		"radio started before the failure and must be recorded")
	require.NotContains(t, e.sm.StartedResources(), "audioInputStream")

	// ERROR -> STOPPING -> IDLE is still available.
	require.NoError(t, e.Stop())
	require.Equal(t, model.EngineIdle, e.State())
}

func TestPTTGuardIdempotentAndForcedOff(t *testing.T) {
	ctl := radio.NewController(radio.NewNoneTransport())
	require.NoError(t, ctl.Start(context.Background()))
	bus := eventbus.New(8)
	g := newPTTGuard(ctl, bus, nil)

	ch, h := bus.Subscribe(eventbus.TopicPTT)
	defer bus.Unsubscribe(eventbus.TopicPTT, h)

	require.NoError(t, g.KeyOn(context.Background()))
	require.NoError(t, g.KeyOn(context.Background()), "second key-on is a no-op")
	require.True(t, g.Active())
	require.True(t, ctl.PTTActive())

	g.ForceOff()
	require.False(t, g.Active())
	require.False(t, ctl.PTTActive())
	g.ForceOff() // safe when already off

	var events []bool
	for len(ch) > 0 {
		events = append(events, (<-ch).(bool))
	}
	require.Equal(t, []bool{true, false}, events, "exactly one on and one off published")
}

func TestPTTGuardScheduledOffFires(t *testing.T) {
	ctl := radio.NewController(radio.NewNoneTransport())
	require.NoError(t, ctl.Start(context.Background()))
	g := newPTTGuard(ctl, nil, nil)

	require.NoError(t, g.KeyOn(context.Background()))
	g.ScheduleOff(20 * time.Millisecond)
	require.Eventually(t, func() bool { return !g.Active() }, time.Second, 5*time.Millisecond)
}

func TestTrackerRecordsPhases(t *testing.T) {
	tr := NewTracker()
	at := time.Unix(1500, 0).UTC()
	tr.Record("op1", 100, PhaseQueued, "CQ AA1AA FN42", at)
	tr.Record("op1", 100, PhaseEncodeDone, "", at.Add(time.Second))

	rec, ok := tr.Get("op1", 100)
	require.True(t, ok)
	require.Equal(t, "CQ AA1AA FN42", rec.Message)
	require.Equal(t, at, rec.Phases[PhaseQueued])
	require.Equal(t, at.Add(time.Second), rec.Phases[PhaseEncodeDone])

	tr.Sweep(200, 40)
	_, ok = tr.Get("op1", 100)
	require.False(t, ok, "swept once far enough behind the current slot")
}
