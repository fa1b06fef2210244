package model

import (
	"sort"
	"strings"
	"time"
)

// TransmitSNR is the sentinel SNR value marking a frame as one of this
// station's own transmissions rather than a received decode.
const TransmitSNR = -999

// FrameMessage is one decoded frame as returned by the native codec, plus
// the bookkeeping the engine attaches on the way in.
type FrameMessage struct {
	Text       string    // decoded message text, already un-packed from the protocol's bit encoding
	Callsign   string    // sender callsign extracted from Text, empty if unparseable
	TargetCall string    // addressee callsign if the message names one, empty for CQ/broadcast
	Grid       string    // 4-character grid square if present in Text
	SNR        float64   // dB; TransmitSNR denotes a transmitted frame
	DT         float64   // seconds, time offset from the slot boundary
	FreqHz     float64   // audio frequency within the passband
	Confidence float64   // 0..1, native codec's decode confidence
	Mode       string
	SlotIndex  int64
	ReceivedAt time.Time
	arrival    int64 // insertion sequence, used to keep first-appearance order stable across de-dup passes
}

// IsTransmit reports whether f is one of this station's own transmissions.
func (f FrameMessage) IsTransmit() bool { return f.SNR == TransmitSNR }

// SlotPack aggregates the frames decoded for a single slot, across however
// many decode passes (sub-window and full-window) ran against it, plus this
// station's own transmit frames for the slot.
//
// Invariant: Frames holds every transmit frame first, most recently
// added first, followed by received frames with unique trimmed message
// text, ordered by first appearance.
type SlotPack struct {
	Mode      string
	SlotIndex int64
	Start     time.Time
	End       time.Time
	Frames    []FrameMessage
	ClosedAt  time.Time // zero until the slot pack is finalized

	Stats         Stats
	DecodeHistory []DecodeHistoryEntry

	nextArrival int64
}

// Stats tracks the pack's aggregation counters.
type Stats struct {
	TotalDecodes           int
	SuccessfulDecodes      int
	TotalFramesBeforeDedup int
	TotalFramesAfterDedup  int
	LastUpdated            time.Time
}

// DecodeHistoryEntry records one decode pass merged into the pack.
type DecodeHistoryEntry struct {
	WindowIdx        int
	Timestamp        time.Time
	FrameCount       int
	ProcessingTimeMs float64
}

// MergeDecodeResult folds one decode pass's frames into the pack:
// windowOffsetMs is subtracted from each frame's DT (seconds) before
// merging, then the pack's received frames are re-deduplicated in full.
// Safe to call twice with the same frames: re-running the same merge
// leaves the pack state unchanged, since de-dup recomputes from the
// now-stable accumulated frame set rather than appending blindly.
func (sp *SlotPack) MergeDecodeResult(frames []FrameMessage, windowIdx int, windowOffsetMs float64, processedAt time.Time, processingTimeMs float64) {
	adjusted := make([]FrameMessage, len(frames))
	for i, f := range frames {
		f.DT -= windowOffsetMs / 1000
		adjusted[i] = f
	}

	before := len(sp.receivedFrames()) + len(adjusted)
	sp.appendReceived(adjusted)
	sp.dedupReceived()

	sp.Stats.TotalDecodes++
	if len(frames) > 0 {
		sp.Stats.SuccessfulDecodes++
	}
	sp.Stats.TotalFramesBeforeDedup = before
	sp.Stats.TotalFramesAfterDedup = len(sp.Frames)
	sp.Stats.LastUpdated = processedAt

	sp.DecodeHistory = append(sp.DecodeHistory, DecodeHistoryEntry{
		WindowIdx: windowIdx, Timestamp: processedAt, FrameCount: len(frames), ProcessingTimeMs: processingTimeMs,
	})
}

// AddTransmissionFrame records one of this station's own outbound
// transmissions. A second call with the same message and a frequency
// within 1 Hz is a no-op. The new frame is prepended ahead of whatever is
// already in Frames, so with more than one transmit frame in a slot
// (multiple operators) the most recently added ends up at index 0.
func (sp *SlotPack) AddTransmissionFrame(message string, freqHz float64, timestamp time.Time) {
	for _, f := range sp.Frames {
		if !f.IsTransmit() {
			continue
		}
		if f.Text == message && absFloat(f.FreqHz-freqHz) < 1 {
			return
		}
	}

	f := FrameMessage{
		Text: message, SNR: TransmitSNR, DT: 0, FreqHz: freqHz, Confidence: 1,
		Mode: sp.Mode, SlotIndex: sp.SlotIndex, ReceivedAt: timestamp,
		arrival: sp.nextArrival,
	}
	sp.nextArrival++
	sp.Frames = append([]FrameMessage{f}, sp.Frames...)

	sp.Stats.TotalFramesBeforeDedup++
	sp.Stats.TotalFramesAfterDedup = len(sp.Frames)
	sp.Stats.LastUpdated = timestamp
}

func (sp *SlotPack) receivedFrames() []FrameMessage {
	out := make([]FrameMessage, 0, len(sp.Frames))
	for _, f := range sp.Frames {
		if !f.IsTransmit() {
			out = append(out, f)
		}
	}
	return out
}

func (sp *SlotPack) transmitFrames() []FrameMessage {
	out := make([]FrameMessage, 0, len(sp.Frames))
	for _, f := range sp.Frames {
		if f.IsTransmit() {
			out = append(out, f)
		}
	}
	return out
}

// appendReceived adds new received frames to the pack's working set,
// stamping each with the next arrival sequence number so first-appearance
// order survives repeated de-dup passes.
func (sp *SlotPack) appendReceived(frames []FrameMessage) {
	for _, f := range frames {
		f.arrival = sp.nextArrival
		sp.nextArrival++
		sp.Frames = append(sp.Frames, f)
	}
}

// dedupReceived re-derives Frames as [transmit frames, most recent first] ++
// [best received frame per unique trimmed message text, ordered by each
// group's first appearance].
func (sp *SlotPack) dedupReceived() {
	transmits := sp.transmitFrames()
	received := sp.receivedFrames()

	type group struct {
		best        FrameMessage
		firstSeenAt int64
	}
	groups := make(map[string]*group)
	order := make([]string, 0)

	for _, f := range received {
		key := strings.TrimSpace(f.Text)
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{best: f, firstSeenAt: f.arrival}
			order = append(order, key)
			continue
		}
		if selectBestFrame(f, g.best) {
			g.best = f
		}
		if f.arrival < g.firstSeenAt {
			g.firstSeenAt = f.arrival
		}
	}

	sort.Slice(order, func(i, j int) bool {
		return groups[order[i]].firstSeenAt < groups[order[j]].firstSeenAt
	})

	out := make([]FrameMessage, 0, len(transmits)+len(order))
	out = append(out, transmits...)
	for _, key := range order {
		best := groups[key].best
		best.arrival = groups[key].firstSeenAt
		out = append(out, best)
	}
	sp.Frames = out
}

// selectBestFrame reports whether candidate should replace incumbent as the
// representative decode for a de-duplicated received message, applying the
// tie-break ladder:
//  1. higher SNR, if the difference exceeds 3 dB
//  2. else higher confidence, if the difference exceeds 0.1
//  3. else smaller |dt|, if the difference exceeds 0.05s
//  4. else smaller |freq - 1500|
func selectBestFrame(candidate, incumbent FrameMessage) bool {
	if d := candidate.SNR - incumbent.SNR; absFloat(d) > 3 {
		return d > 0
	}
	if d := candidate.Confidence - incumbent.Confidence; absFloat(d) > 0.1 {
		return d > 0
	}
	candDT, incDT := absFloat(candidate.DT), absFloat(incumbent.DT)
	if d := incDT - candDT; absFloat(d) > 0.05 {
		return d > 0
	}
	return absFloat(candidate.FreqHz-1500) < absFloat(incumbent.FreqHz-1500)
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// callsignOf extracts the likely sender callsign from a decoded message
// text. Directed messages are "TARGET SENDER rest...", CQ messages are
// "CQ SENDER GRID".
func callsignOf(text string) string {
	fields := strings.Fields(text)
	switch {
	case len(fields) >= 2 && fields[0] == "CQ":
		return fields[1]
	case len(fields) >= 2:
		return fields[1]
	case len(fields) == 1:
		return fields[0]
	default:
		return ""
	}
}

// FindByCallsign returns the most recently received frame in the pack sent
// by call (transmit frames are never matched, since the point is to find
// what the other station said), and true if one was found.
func (sp *SlotPack) FindByCallsign(call string) (FrameMessage, bool) {
	var best FrameMessage
	found := false
	for _, f := range sp.Frames {
		if f.IsTransmit() {
			continue
		}
		if callsignOf(f.Text) != call {
			continue
		}
		if !found || f.ReceivedAt.After(best.ReceivedAt) {
			best = f
			found = true
		}
	}
	return best, found
}
