package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kb5ft8/ft8d/pkg/audio"
	"github.com/kb5ft8/ft8d/pkg/clock"
	"github.com/kb5ft8/ft8d/pkg/eventbus"
	"github.com/kb5ft8/ft8d/pkg/model"
)

// newPipelineEngine builds an engine with its run context armed but no
// resources started, so encode results can be fed to the pipeline directly.
func newPipelineEngine(t *testing.T, fc *clock.FakeClock, dev *audio.MockDevice) *CoreEngine {
	t.Helper()
	e, err := NewCoreEngine(testConfig(), Options{Device: dev, Clock: fc})
	require.NoError(t, err)
	e.runCtx, e.runCancel = context.WithCancel(context.Background())
	t.Cleanup(func() {
		e.runCancel()
		_ = e.Close()
	})
	return e
}

func encodeResultFor(op string, slotIdx int64, queuedAt time.Time, clipSeconds float64) model.EncodeResult {
	req := model.EncodeRequest{
		ID: "clip-" + op, Mode: "FT8", Text: "CQ AA1AA FN42", FreqHz: 1500,
		SampleRate: 48000, SlotIndex: slotIdx, Operator: op, QueuedAt: queuedAt,
	}
	return model.EncodeResult{
		Request: req,
		PCM:     make([]float32, int(clipSeconds*48000)),
	}
}

func collectTransmissions(t *testing.T, ch <-chan any, n int) []TransmissionComplete {
	t.Helper()
	var out []TransmissionComplete
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case evt := <-ch:
			out = append(out, evt.(TransmissionComplete))
		case <-deadline:
			t.Fatalf("got %d transmissionComplete events, want %d", len(out), n)
		}
	}
	return out
}

func TestPipelineNormalTransmitPlaysFullClip(t *testing.T) {
	slotIdx := int64(100)
	slotStart := time.Unix(1500, 0).UTC()
	fc := clock.NewFakeClock(slotStart.Add(500 * time.Millisecond))
	dev := audio.NewMockDevice()
	dev.SetSleeper(func(time.Duration) {})
	e := newPipelineEngine(t, fc, dev)
	e.currentSlot = slotIdx

	ch, h := e.bus.Subscribe(eventbus.TopicTransmission)
	defer e.bus.Unsubscribe(eventbus.TopicTransmission, h)

	// Queued right at the slot boundary: the regular transmit trigger.
	e.handleEncodeResult(encodeResultFor("op1", slotIdx, slotStart, 12.64))

	events := collectTransmissions(t, ch, 1)
	require.True(t, events[0].Success)
	require.InDelta(t, 12.64, events[0].Duration.Seconds(), 0.01)

	played := dev.PlayedBuffers()
	require.Len(t, played, 1)
	require.Equal(t, 606720, len(played[0]), "full 12.64s clip at 48kHz")
}

func TestPipelineMidSlotSwitchTrimsLeadingAudio(t *testing.T) {
	slotIdx := int64(100)
	slotStart := time.Unix(1500, 0).UTC()
	// Content change at +4s, encode completed at +5s.
	fc := clock.NewFakeClock(slotStart.Add(5 * time.Second))
	dev := audio.NewMockDevice()
	dev.SetSleeper(func(time.Duration) {})
	e := newPipelineEngine(t, fc, dev)
	e.currentSlot = slotIdx

	ch, h := e.bus.Subscribe(eventbus.TopicTransmission)
	defer e.bus.Unsubscribe(eventbus.TopicTransmission, h)

	e.handleEncodeResult(encodeResultFor("op1", slotIdx, slotStart.Add(4*time.Second), 12.64))

	events := collectTransmissions(t, ch, 1)
	require.True(t, events[0].Success)
	// Skip = (5000ms elapsed) - 500ms transmit offset = 4500ms of the clip.
	require.InDelta(t, 12.64-4.5, events[0].Duration.Seconds(), 0.01)

	played := dev.PlayedBuffers()
	require.Len(t, played, 1)
	require.Equal(t, 390720, len(played[0]), "(12.64 - 4.5)s at 48kHz")
}

func TestPipelineMissedWindowAborts(t *testing.T) {
	slotIdx := int64(100)
	slotStart := time.Unix(1500, 0).UTC()
	// Encode lands with less clip than the elapsed skip.
	fc := clock.NewFakeClock(slotStart.Add(14 * time.Second))
	dev := audio.NewMockDevice()
	dev.SetSleeper(func(time.Duration) {})
	e := newPipelineEngine(t, fc, dev)
	e.currentSlot = slotIdx

	ch, h := e.bus.Subscribe(eventbus.TopicTransmission)
	defer e.bus.Unsubscribe(eventbus.TopicTransmission, h)

	e.handleEncodeResult(encodeResultFor("op1", slotIdx, slotStart.Add(time.Second), 12.64))

	events := collectTransmissions(t, ch, 1)
	require.False(t, events[0].Success)
	require.Equal(t, "missed transmit window", events[0].Error)
	require.Empty(t, dev.PlayedBuffers(), "nothing reaches the device")
	require.False(t, e.ptt.Active(), "a missed window never keys PTT")
}

func TestPipelineSecondOperatorJoinsViaRemix(t *testing.T) {
	slotIdx := int64(100)
	slotStart := time.Unix(1500, 0).UTC()
	fc := clock.NewFakeClock(slotStart.Add(500 * time.Millisecond))
	dev := audio.NewMockDevice()
	release := make(chan struct{})
	var gate bool
	dev.SetSleeper(func(time.Duration) {
		if !gate {
			gate = true
			<-release
		}
	})
	e := newPipelineEngine(t, fc, dev)
	e.currentSlot = slotIdx

	ch, h := e.bus.Subscribe(eventbus.TopicTransmission)
	defer e.bus.Unsubscribe(eventbus.TopicTransmission, h)

	e.handleEncodeResult(encodeResultFor("op1", slotIdx, slotStart, 12.64))
	require.Eventually(t, dev.IsPlaying, time.Second, time.Millisecond)

	second := encodeResultFor("op2", slotIdx, slotStart, 12.64)
	second.Request.FreqHz = 1800
	e.handleEncodeResult(second)
	// Hold the first play captive until the remix has demonstrably begun.
	require.Eventually(t, func() bool { return len(dev.PlayedBuffers()) == 2 }, time.Second, time.Millisecond)
	close(release)

	events := collectTransmissions(t, ch, 2)
	byOp := make(map[string]TransmissionComplete, 2)
	for _, evt := range events {
		byOp[evt.OperatorID] = evt
	}
	require.True(t, byOp["op1"].Success)
	require.True(t, byOp["op2"].Success)
	require.Contains(t, byOp["op2"].MixedWith, "op1",
		"the joiner sees whose carrier it merged into")
	require.Len(t, dev.PlayedBuffers(), 2, "original play plus the remix")
}

func TestPipelineEncodeErrorIsPerRequest(t *testing.T) {
	slotIdx := int64(100)
	fc := clock.NewFakeClock(time.Unix(1500, 0).UTC())
	dev := audio.NewMockDevice()
	dev.SetSleeper(func(time.Duration) {})
	e := newPipelineEngine(t, fc, dev)
	e.currentSlot = slotIdx

	ch, h := e.bus.Subscribe(eventbus.TopicTransmission)
	defer e.bus.Unsubscribe(eventbus.TopicTransmission, h)

	res := encodeResultFor("op1", slotIdx, time.Unix(1500, 0).UTC(), 12.64)
	res.Err = context.DeadlineExceeded
	res.PCM = nil
	e.handleEncodeResult(res)

	events := collectTransmissions(t, ch, 1)
	require.False(t, events[0].Success)
	require.NotEmpty(t, events[0].Error)
}
