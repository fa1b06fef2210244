// Package audio owns the capture/playback boundary and the mid-slot mixer.
// Platform device access (ALSA, CoreAudio, PortAudio) is treated as a
// pluggable backend behind Capturer/Player; only a mock backend and an
// optional PortAudio backend ship here, matching the engine's reliance on a
// single audio interface rather than per-OS code paths scattered through the
// core packages.
package audio

import (
	"sync/atomic"
	"time"
)

// RingBuffer is a fixed-capacity single-writer circular buffer of float32
// samples tied to capture time. The first Write anchors sample 0 to a wall
// clock timestamp; from then on any reader can ask for an arbitrary time
// window and gets exactly the requested number of samples back, zero-padded
// where the window reaches before retained history or past the write head.
//
// The writer publishes its position with an atomic store so readers never
// need a lock; a reader sees a (possibly slightly stale) consistent view of
// already-written samples. Overflow never blocks or allocates on the write
// path: the oldest samples are overwritten and a counter records how many.
type RingBuffer struct {
	buf        []float32
	sampleRate int

	writeIdx  atomic.Uint64 // total samples written, monotonically increasing
	originSet atomic.Bool
	originNs  atomic.Int64 // capture timestamp of sample 0
	dropped   atomic.Uint64
}

// NewRingBuffer allocates a buffer holding capacity samples at sampleRate.
func NewRingBuffer(capacity, sampleRate int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	if sampleRate <= 0 {
		sampleRate = 12000
	}
	return &RingBuffer{buf: make([]float32, capacity), sampleRate: sampleRate}
}

// SampleRate returns the rate samples are stored at.
func (r *RingBuffer) SampleRate() int { return r.sampleRate }

// Write appends samples captured at captureTime (the timestamp of the first
// sample in the batch), overwriting the oldest data once the buffer wraps.
// Must only be called from the capture goroutine.
func (r *RingBuffer) Write(samples []float32, captureTime time.Time) {
	if len(samples) == 0 {
		return
	}
	start := r.writeIdx.Load()
	if !r.originSet.Load() {
		// Anchor sample 0 so time-window reads line up with the capture
		// clock even when capture started mid-slot.
		origin := captureTime.Add(-r.durationOf(start))
		r.originNs.Store(origin.UnixNano())
		r.originSet.Store(true)
	}
	n := uint64(len(r.buf))
	for i, s := range samples {
		r.buf[(start+uint64(i))%n] = s
	}
	end := start + uint64(len(samples))
	if end > n {
		// Everything more than capacity behind the head has been
		// overwritten; the total overwritten so far is end - capacity.
		r.dropped.Store(end - n)
	}
	r.writeIdx.Store(end)
}

// Read returns exactly duration's worth of samples starting at start. Parts
// of the window that predate retained history or postdate the newest sample
// come back as silence, per the zero-padding contract the decoder relies on
// for partial sub-windows.
func (r *RingBuffer) Read(start time.Time, duration time.Duration) []float32 {
	count := int(duration.Seconds() * float64(r.sampleRate))
	out := make([]float32, count)
	if count == 0 || !r.originSet.Load() {
		return out
	}
	origin := time.Unix(0, r.originNs.Load())
	written := r.writeIdx.Load()
	n := uint64(len(r.buf))

	firstWanted := int64(start.Sub(origin).Seconds() * float64(r.sampleRate))
	earliest := int64(0)
	if written > n {
		earliest = int64(written - n)
	}
	for i := 0; i < count; i++ {
		idx := firstWanted + int64(i)
		if idx < earliest || idx < 0 || idx >= int64(written) {
			continue // stays zero
		}
		out[i] = r.buf[uint64(idx)%n]
	}
	return out
}

// ReadFromSlotStart returns the cumulative audio for a slot: everything from
// the slot boundary through accumulated into the slot. The scheduler feeds
// this to the decoder at each sub-window.
func (r *RingBuffer) ReadFromSlotStart(slotStart time.Time, accumulated time.Duration) []float32 {
	return r.Read(slotStart, accumulated)
}

// Written returns the total number of samples written so far.
func (r *RingBuffer) Written() uint64 { return r.writeIdx.Load() }

// Dropped returns how many samples have been overwritten before ever being
// readable, i.e. how far behind the slowest possible reader has fallen.
func (r *RingBuffer) Dropped() uint64 { return r.dropped.Load() }

func (r *RingBuffer) durationOf(samples uint64) time.Duration {
	return time.Duration(float64(samples) / float64(r.sampleRate) * float64(time.Second))
}
