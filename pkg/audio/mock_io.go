package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockDevice is an always-built Device backend used in tests and whenever
// no real audio hardware is configured. Capture produces silence at the
// requested chunk rate; Play records what was sent instead of emitting
// sound, and sleeps for the buffer's real-time duration in chunk-sized
// steps so timing-sensitive callers (the mixer, PTT hold, mid-slot stop)
// behave the same as they would against a real card.
type MockDevice struct {
	mu         sync.Mutex
	capturing  bool
	playing    bool
	stopPlay   bool
	playStart  time.Time
	playedDur  time.Duration
	played     [][]float32
	gainDb     float64
	sleeper    func(time.Duration)
	chunkSleep time.Duration
}

func NewMockDevice() *MockDevice {
	return &MockDevice{sleeper: time.Sleep, chunkSleep: 10 * time.Millisecond}
}

func (m *MockDevice) Start(ctx context.Context, sampleRate, chunkSamples int) (<-chan []float32, error) {
	m.mu.Lock()
	if m.capturing {
		m.mu.Unlock()
		return nil, fmt.Errorf("audio: mock device: capture already started")
	}
	m.capturing = true
	m.mu.Unlock()

	out := make(chan []float32, 8)
	chunkDur := time.Duration(float64(chunkSamples) / float64(sampleRate) * float64(time.Second))
	go func() {
		defer close(out)
		ticker := time.NewTicker(chunkDur)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				stillCapturing := m.capturing
				m.mu.Unlock()
				if !stillCapturing {
					return
				}
				select {
				case out <- make([]float32, chunkSamples):
				default:
				}
			}
		}
	}()
	return out, nil
}

func (m *MockDevice) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capturing = false
	m.playing = false
	m.stopPlay = true
	return nil
}

// Play "plays" pcm by sleeping through its real-time duration in small
// steps, checking the stop flag at each step the way a real backend checks
// between device writes.
func (m *MockDevice) Play(ctx context.Context, pcm []float32, sampleRate int) error {
	total := time.Duration(float64(len(pcm)) / float64(sampleRate) * float64(time.Second))

	m.mu.Lock()
	m.playing = true
	m.stopPlay = false
	m.playStart = time.Now()
	m.playedDur = 0
	m.played = append(m.played, pcm)
	step := m.chunkSleep
	m.mu.Unlock()

	for elapsed := time.Duration(0); elapsed < total; elapsed += step {
		select {
		case <-ctx.Done():
			m.finishPlay(elapsed)
			return ctx.Err()
		default:
		}
		m.mu.Lock()
		stopped := m.stopPlay
		m.mu.Unlock()
		if stopped {
			m.finishPlay(elapsed)
			return nil
		}
		d := step
		if total-elapsed < step {
			d = total - elapsed
		}
		m.sleeper(d)
		m.mu.Lock()
		m.playedDur = elapsed + d
		m.mu.Unlock()
	}
	m.finishPlay(total)
	return nil
}

func (m *MockDevice) finishPlay(elapsed time.Duration) {
	m.mu.Lock()
	m.playing = false
	m.playedDur = elapsed
	m.mu.Unlock()
}

// StopCurrent aborts any in-flight Play and returns how much had played.
func (m *MockDevice) StopCurrent() (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.playing {
		return 0, nil
	}
	m.stopPlay = true
	return m.playedDur, nil
}

func (m *MockDevice) SetGainDb(db float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gainDb = ClampGainDb(db)
}

// GainDb returns the last gain set, for test assertions.
func (m *MockDevice) GainDb() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gainDb
}

func (m *MockDevice) Close() error { return m.Stop() }

// IsPlaying reports whether a Play call is currently in flight.
func (m *MockDevice) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// PlayedBuffers returns every buffer previously handed to Play, for test
// assertions.
func (m *MockDevice) PlayedBuffers() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]float32(nil), m.played...)
}

// SetSleeper overrides the real-time delay Play uses, so tests can run the
// mixer against many slots without actually waiting.
func (m *MockDevice) SetSleeper(fn func(time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleeper = fn
}
