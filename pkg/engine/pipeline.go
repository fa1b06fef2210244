package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kb5ft8/ft8d/pkg/audio"
	"github.com/kb5ft8/ft8d/pkg/eventbus"
	"github.com/kb5ft8/ft8d/pkg/metrics"
	"github.com/kb5ft8/ft8d/pkg/model"
	"github.com/kb5ft8/ft8d/pkg/radio"
)

// pttHold keeps the transmitter keyed briefly past the end of playback so
// the final symbols aren't clipped by a fast CAT relay.
const pttHold = 200 * time.Millisecond

// midSlotTolerance is how far an encode's queue time may drift from the
// nominal transmit offset before it counts as a mid-slot content change.
const midSlotTolerance = 100 * time.Millisecond

// TransmissionComplete is published once per operator per transmission
// attempt, success or not.
type TransmissionComplete struct {
	OperatorID string
	SlotIndex  int64
	Success    bool
	Error      string
	Duration   time.Duration
	MixedWith  []string
	At         time.Time
}

// pttGuard serializes PTT keying around the playback path: key-on is
// idempotent, key-off is driven by a cancellable hold timer, and ForceOff
// always wins. The guard is the single owner of the PTT line while the
// engine runs.
type pttGuard struct {
	mu       sync.Mutex
	ctl      *radio.Controller
	bus      *eventbus.Bus
	met      *metrics.Metrics
	offTimer *time.Timer
	active   bool
}

func newPTTGuard(ctl *radio.Controller, bus *eventbus.Bus, met *metrics.Metrics) *pttGuard {
	return &pttGuard{ctl: ctl, bus: bus, met: met}
}

// KeyOn asserts PTT if it isn't already. Safe on a disconnected transport.
func (g *pttGuard) KeyOn(ctx context.Context) error {
	g.mu.Lock()
	wasActive := g.active
	g.active = true
	g.mu.Unlock()
	if wasActive {
		return nil
	}
	if g.met != nil {
		g.met.PTTActivations.Inc()
	}
	if g.bus != nil {
		g.bus.Publish(eventbus.TopicPTT, true)
	}
	return g.ctl.SetPTT(ctx, true)
}

// ScheduleOff (re)arms the key-off timer. Any previously armed timer is
// cancelled; the newest transmission always owns the release point.
func (g *pttGuard) ScheduleOff(after time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.offTimer != nil {
		g.offTimer.Stop()
	}
	g.offTimer = time.AfterFunc(after, g.ForceOff)
}

// ForceOff drops PTT immediately and cancels any pending release.
func (g *pttGuard) ForceOff() {
	g.mu.Lock()
	if g.offTimer != nil {
		g.offTimer.Stop()
		g.offTimer = nil
	}
	wasActive := g.active
	g.active = false
	g.mu.Unlock()
	if !wasActive {
		return
	}
	if g.bus != nil {
		g.bus.Publish(eventbus.TopicPTT, false)
	}
	// Un-keying must never be skipped because of an error; log-and-carry-on
	// is the caller's job.
	_ = g.ctl.SetPTT(context.Background(), false)
}

// Active reports whether the guard believes PTT is keyed.
func (g *pttGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// encodeRequestLoop drains the operator manager's encode requests into the
// encode work queue, stamping tracking phases and recording the operator's
// own transmit frame into the slot pack.
func (e *CoreEngine) encodeRequestLoop() {
	for {
		select {
		case <-e.runCtx.Done():
			return
		case req, ok := <-e.ops.EncodeRequests:
			if !ok {
				return
			}
			e.slotMu.Lock()
			if req.SlotIndex == e.currentSlot {
				e.expectedEncodes++
			}
			e.slotMu.Unlock()

			now := e.clockSrc.Now()
			e.tracker.Record(req.Operator, req.SlotIndex, PhaseQueued, req.Text, req.QueuedAt)
			e.tracker.Record(req.Operator, req.SlotIndex, PhaseEncodeStart, req.Text, now)

			start, end := e.slotBounds(req.SlotIndex)
			pack := e.packs.AddTransmissionFrame(req.Mode, req.SlotIndex, start, end, req.Text, req.FreqHz, now)
			e.bus.Publish(eventbus.TopicSlotPack, pack)

			codec := e.codec
			request := req
			request.ID = uuid.NewString()
			started := now
			if _, err := e.encodeQ.SubmitWithID(request.ID, func(ctx context.Context) model.EncodeResult {
				res := codec.Encode(ctx, request)
				if e.met != nil {
					e.met.EncodeDuration.WithLabelValues(request.Mode).Observe(time.Since(started).Seconds())
				}
				return res
			}); err != nil {
				e.log.Warnf("encode submit for %s: %v", req.Operator, err)
				e.publishTransmissionComplete(req.Operator, req.SlotIndex, false, "encode queue full", 0, nil)
			}
			if e.met != nil {
				e.met.EncodeQueueDepth.Set(float64(e.encodeQ.Depth()))
			}
		}
	}
}

// encodeResultLoop feeds completed encodes into the play path.
func (e *CoreEngine) encodeResultLoop() {
	for {
		select {
		case <-e.runCtx.Done():
			return
		case res, ok := <-e.encodeQ.Results():
			if !ok {
				return
			}
			e.handleEncodeResult(res)
		}
	}
}

// handleEncodeResult implements the encode-to-air pipeline: per-slot
// accounting, mid-slot switch detection, leading-audio trimming, and the
// hand-off to the mixer with PTT scheduled around the playback window.
func (e *CoreEngine) handleEncodeResult(res model.EncodeResult) {
	op := res.Request.Operator
	slotIdx := res.Request.SlotIndex

	if res.Err != nil {
		e.log.Errorf("encode failed for %s: %v", op, res.Err)
		e.publishTransmissionComplete(op, slotIdx, false, res.Err.Error(), 0, nil)
		return
	}

	e.slotMu.Lock()
	if slotIdx == e.currentSlot {
		e.completedEncodes++
	}
	e.slotMu.Unlock()

	now := e.clockSrc.Now()
	e.tracker.Record(op, slotIdx, PhaseEncodeDone, res.Request.Text, now)
	e.mixer.ClearOperator(op)

	rate := res.Request.SampleRate
	pcm := res.PCM
	// The codec occasionally pads; anything past 1.5x the nominal length is
	// garbage and would hold PTT into the next slot.
	mode := e.Mode()
	maxSamples := int(1.5 * mode.TxDuration.Seconds() * float64(rate))
	if len(pcm) > maxSamples {
		pcm = pcm[:maxSamples]
	}

	slotStart, _ := e.slotBounds(slotIdx)
	transmitOffset := mode.TransmitOffset
	timeSinceSlotStart := res.Request.QueuedAt.Sub(slotStart)
	isMidSlot := timeSinceSlotStart > 0 && absDuration(timeSinceSlotStart-transmitOffset) > midSlotTolerance

	playAt := now
	var audioSkip time.Duration
	if isMidSlot {
		if now.Sub(slotStart) >= transmitOffset {
			// Past the nominal start: play immediately, skipping the span
			// the on-air signal is already into.
			audioSkip = now.Sub(slotStart) - transmitOffset
		} else {
			// Encoded early (a content change before the transmit point):
			// hold until the nominal start.
			playAt = slotStart.Add(transmitOffset)
		}
	}

	duration := time.Duration(float64(len(pcm)) / float64(rate) * float64(time.Second))
	if audioSkip > 0 {
		if audioSkip >= duration {
			e.log.Warnf("slot %d %s: window missed entirely (skip %v >= clip %v)", slotIdx, op, audioSkip, duration)
			e.publishTransmissionComplete(op, slotIdx, false, "missed transmit window", 0, nil)
			return
		}
		skip := int(audioSkip.Seconds() * float64(rate))
		pcm = pcm[skip:]
		duration -= audioSkip
	}

	c := audio.Contribution{
		ClipID:           res.Request.ID,
		Operator:         op,
		PCM:              pcm,
		SampleRate:       rate,
		TargetPlaybackMs: int(duration.Milliseconds()),
		QueuedAt:         now,
	}
	e.spawn(func() { e.playContribution(c, playAt, slotIdx, duration) })
}

// playContribution waits for the playback point, keys PTT in parallel with
// starting the audio, and reports completion. When a second operator's clip
// lands while the first is playing, the mixer's Submit performs the remix
// and this call simply rides along; the superseded caller still reports
// success because its audio went out inside the remix.
func (e *CoreEngine) playContribution(c audio.Contribution, playAt time.Time, slotIdx int64, duration time.Duration) {
	if wait := playAt.Sub(e.clockSrc.Now()); wait > 0 {
		select {
		case <-e.runCtx.Done():
			return
		case <-e.clockSrc.After(wait):
		}
	}

	now := e.clockSrc.Now()
	e.tracker.Record(c.Operator, slotIdx, PhaseMixedReady, "", now)
	e.tracker.Record(c.Operator, slotIdx, PhasePlayStart, "", now)
	e.tracker.Record(c.Operator, slotIdx, PhasePTTOn, "", now)

	// PTT and audio launch in parallel; a slow CAT round-trip must not
	// delay the first sample.
	pttErr := make(chan error, 1)
	go func() { pttErr <- e.ptt.KeyOn(e.runCtx) }()
	e.ptt.ScheduleOff(duration + pttHold)

	// Who we end up sharing the carrier with is visible partly before the
	// submit (a clip already playing) and partly after (whoever remixed on
	// top of us); union of both views.
	before := otherOperators(e.mixer, c.Operator)
	err := e.mixer.Submit(e.runCtx, c)
	if kerr := <-pttErr; kerr != nil {
		e.log.Errorf("ptt key-on: %v", kerr)
	}
	mixedWith := unionStrings(before, otherOperators(e.mixer, c.Operator))
	if err != nil {
		e.ptt.ForceOff()
		e.tracker.Record(c.Operator, slotIdx, PhasePTTOff, "", e.clockSrc.Now())
		e.publishTransmissionComplete(c.Operator, slotIdx, false, err.Error(), 0, mixedWith)
		return
	}
	e.tracker.Record(c.Operator, slotIdx, PhasePlayDone, "", e.clockSrc.Now())
	e.publishTransmissionComplete(c.Operator, slotIdx, true, "", duration, mixedWith)
}

// otherOperators lists who else is (or was just) in the mixer's play-out.
func otherOperators(m *audio.Mixer, self string) []string {
	var out []string
	for _, op := range m.Operators() {
		if op != self {
			out = append(out, op)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (e *CoreEngine) publishTransmissionComplete(op string, slotIdx int64, success bool, errText string, duration time.Duration, mixedWith []string) {
	e.bus.Publish(eventbus.TopicTransmission, TransmissionComplete{
		OperatorID: op,
		SlotIndex:  slotIdx,
		Success:    success,
		Error:      errText,
		Duration:   duration,
		MixedWith:  mixedWith,
		At:         e.clockSrc.Now(),
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// TriggerMidSlotChange asks the operator manager to re-evaluate opID right
// now instead of waiting for the next encode deadline, the path a user
// command (message change, slot change) takes mid-slot.
func (e *CoreEngine) TriggerMidSlotChange(opID string) bool {
	e.slotMu.Lock()
	idx := e.currentSlot
	e.slotMu.Unlock()
	start, _ := e.slotBounds(idx)
	return e.ops.CheckAndTriggerTransmission(opID, idx, start, e.Mode().Name, e.cfg.Audio.SampleRate, e.clockSrc.Now())
}
