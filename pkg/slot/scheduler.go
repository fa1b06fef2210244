package slot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kb5ft8/ft8d/pkg/audio"
	"github.com/kb5ft8/ft8d/pkg/clock"
	"github.com/kb5ft8/ft8d/pkg/dsp"
	"github.com/kb5ft8/ft8d/pkg/eventbus"
	"github.com/kb5ft8/ft8d/pkg/metrics"
	"github.com/kb5ft8/ft8d/pkg/model"
	"github.com/kb5ft8/ft8d/pkg/workqueue"
)

// Scheduler drives decode scheduling off a clock.SlotClock: every
// SubWindow firing reads the slot's cumulative audio so far and submits a
// decode job, and the next slot's boundary triggers the complete-slot pass
// for the slot that just ended; results merge into a PackManager as they
// complete.
//
// A SubWindow firing is skipped (not submitted) when the engine is
// transmitting in the current cycle and decodeWhileTransmitting is false; HasActiveTransmissions supplies that check without the
// scheduler importing the operator package directly.
type Scheduler struct {
	modeMu     sync.Mutex
	mode       model.ModeDescriptor
	sampleRate int
	capture    *audio.RingBuffer
	decodeQ    *workqueue.Queue[model.DecodeResult]
	packs      *PackManager
	bus        *eventbus.Bus
	metrics    *metrics.Metrics

	decodeWhileTransmitting atomic.Bool
	// HasActiveTransmissions reports whether any operator is transmitting
	// in the cycle slotIndex belongs to. Nil means "never transmitting",
	// appropriate for a receive-only scheduler under test.
	HasActiveTransmissions func(slotIndex int64) bool
}

// NewScheduler wires a Scheduler. decodeQ should already be running
// (created via workqueue.New) with its Run goroutine backed by codec.
func NewScheduler(mode model.ModeDescriptor, sampleRate int, capture *audio.RingBuffer, decodeQ *workqueue.Queue[model.DecodeResult], packs *PackManager, bus *eventbus.Bus, m *metrics.Metrics) *Scheduler {
	return &Scheduler{mode: mode, sampleRate: sampleRate, capture: capture, decodeQ: decodeQ, packs: packs, bus: bus, metrics: m}
}

// SetDecodeWhileTransmitting wires config.json's ft8.decodeWhileTransmitting.
func (s *Scheduler) SetDecodeWhileTransmitting(v bool) { s.decodeWhileTransmitting.Store(v) }

// SetMode swaps the mode descriptor; new slots schedule under the new
// timing, slots already decoded keep the bounds they were stored with.
func (s *Scheduler) SetMode(m model.ModeDescriptor) {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	s.mode = m
}

func (s *Scheduler) currentMode() model.ModeDescriptor {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	return s.mode
}

// slotBounds returns the [start, end) boundary for idx under the
// scheduler's mode, anchored to the UTC epoch the same way clock.SlotClock
// computes slot boundaries.
func (s *Scheduler) slotBounds(idx int64) (start, end time.Time) {
	period := s.currentMode().SlotPeriod
	start = time.Unix(0, idx*int64(period)).UTC()
	return start, start.Add(period)
}

// SubmitDecode builds a DecodeRequest from the current ring buffer contents
// and submits it to the decode queue, tagged with codec so the job runs
// against the right backend without the scheduler needing a reference
// threaded through the queue's generic Job type. Returns nil without
// submitting when the slot is mid-transmit and decodeWhileTransmitting is
// off.
func (s *Scheduler) SubmitDecode(ctx context.Context, codec dsp.Decoder, ev clock.Event) error {
	if s.HasActiveTransmissions != nil && s.HasActiveTransmissions(ev.Index) && !s.decodeWhileTransmitting.Load() {
		return nil
	}

	mode := s.currentMode()
	// Cumulative read from the slot boundary: each sub-window decodes all
	// audio captured so far this slot, not just the newest stretch.
	accumulated := ev.FiredAt.Sub(ev.Start)
	if accumulated > mode.SlotPeriod {
		accumulated = mode.SlotPeriod
	}
	samples := s.capture.ReadFromSlotStart(ev.Start, accumulated)
	req := model.DecodeRequest{
		Mode:       mode.Name,
		SlotIndex:  ev.Index,
		SampleRate: s.sampleRate,
		PCM:        samples,
		SubWindow:  ev.SubIndex,
		// The decoder reports dt relative to the end of the buffer it was
		// given; a partial window shifts that reference earlier by the
		// unheard remainder of the slot.
		WindowOffsetMs: accumulated.Seconds()*1000 - mode.SlotPeriod.Seconds()*1000,
		QueuedAt:       ev.FiredAt,
	}
	_, err := s.decodeQ.Submit(func(ctx context.Context) model.DecodeResult {
		return codec.Decode(ctx, req)
	})
	if err != nil {
		return fmt.Errorf("slot: scheduler: submit decode for slot %d: %w", ev.Index, err)
	}
	if s.metrics != nil {
		s.metrics.DecodeQueueDepth.Set(float64(s.decodeQ.Depth()))
	}
	return nil
}

// SubmitFinalDecode runs the complete-slot decode pass for the slot that
// just ended. Sub-window firings only ever cover a prefix of the slot, and
// an FT8 transmission runs to within a second of the boundary, so the full
// pass happens at the next slot's start against the previous slot's entire
// audio.
func (s *Scheduler) SubmitFinalDecode(ctx context.Context, codec dsp.Decoder, ev clock.Event) error {
	mode := s.currentMode()
	prev := ev.Index - 1
	start, end := s.slotBounds(prev)
	final := clock.Event{
		Kind:     clock.SubWindow,
		Index:    prev,
		Start:    start,
		End:      end,
		FiredAt:  end,
		SubIndex: mode.SubWindowCount + 1,
	}
	return s.SubmitDecode(ctx, codec, final)
}

// DrainResults reads completed decode jobs off decodeQ, merges them into
// packs, and publishes the updated pack on the event bus. Intended to run
// in its own goroutine for the lifetime of the engine.
func (s *Scheduler) DrainResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-s.decodeQ.Results():
			if !ok {
				return
			}
			if res.Err != nil {
				continue
			}
			start, end := s.slotBounds(res.Request.SlotIndex)
			pack := s.packs.MergeResult(res.Request.Mode, res.Request.SlotIndex, start, end, res.Frames,
				res.Request.SubWindow, res.Request.WindowOffsetMs, time.Now().UTC(), float64(time.Since(res.Request.QueuedAt).Milliseconds()))
			if s.metrics != nil {
				s.metrics.FramesDecoded.WithLabelValues(res.Request.Mode).Add(float64(len(res.Frames)))
			}
			if s.bus != nil {
				s.bus.Publish(eventbus.TopicSlotPack, pack)
				for _, f := range res.Frames {
					s.bus.Publish(eventbus.TopicFrame, f)
				}
			}
		}
	}
}
