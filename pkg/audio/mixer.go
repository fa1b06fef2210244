package audio

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MixerStateKind is the discriminant of MixerState. Go has no sum types, so
// MixerState carries every kind's fields and MixerStateKind says which ones
// are meaningful, the way a tagged union would in a language that has one.
type MixerStateKind int

const (
	MixerIdle MixerStateKind = iota
	MixerPlaying
	MixerRemixing
)

// MixerState is the mixer's current activity.
type MixerState struct {
	Kind        MixerStateKind
	ClipID      string
	StartedAt   time.Time
	FromElapsed time.Duration // valid only when Kind == MixerRemixing
}

// Contribution is one operator's audio headed for the shared output device.
type Contribution struct {
	ClipID           string
	Operator         string
	PCM              []float32
	SampleRate       int
	TargetPlaybackMs int // total playback length in ms; a remix reduces it by the span already played
	QueuedAt         time.Time
}

// Mixer owns the single shared output device and combines contributions
// that arrive mid-slot into one continuous play-out. When a second
// contribution arrives while the first is still playing, the mixer remixes:
// it stops the device, truncates the leading already-played span from every
// in-flight contribution, merges in the new clip, and restarts playback
// from offset zero. The merged buffer runs as long as the longest
// contribution; during a remix the reported MixerState names the first
// contribution's ClipID and carries no playback length.
type Mixer struct {
	player Player

	mu      sync.Mutex
	state   MixerState
	current []Contribution // PCM trimmed to the live playback origin
	gen     uint64
}

func NewMixer(player Player) *Mixer {
	return &Mixer{player: player, state: MixerState{Kind: MixerIdle}}
}

// State returns a snapshot of the mixer's current activity.
func (m *Mixer) State() MixerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Operators returns the IDs of every contribution in the current play-out,
// so transmissionComplete events can report who was mixed together.
func (m *Mixer) Operators() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.current))
	for _, c := range m.current {
		out = append(out, c.Operator)
	}
	return out
}

// ClearOperator drops any contribution for op that hasn't started playing
// yet. A fresh encode for the same operator supersedes the stale one.
func (m *Mixer) ClearOperator(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Kind != MixerIdle {
		return
	}
	kept := m.current[:0]
	for _, c := range m.current {
		if c.Operator != op {
			kept = append(kept, c)
		}
	}
	m.current = kept
}

// Submit adds a contribution to the current play-out window and blocks for
// the life of the resulting playback. If the mixer is idle this starts
// playback; if something is already playing, this stops the device, trims
// what has already gone out, and restarts with the merged buffer (the
// mid-slot remix). A Submit whose playback was superseded by a later remix
// returns nil: its audio is still going out, just inside someone else's
// play call.
func (m *Mixer) Submit(ctx context.Context, c Contribution) error {
	m.mu.Lock()
	switch m.state.Kind {
	case MixerIdle:
		m.current = []Contribution{c}
		m.state = MixerState{Kind: MixerPlaying, ClipID: c.ClipID, StartedAt: time.Now()}
		m.gen++
		return m.playLocked(ctx)

	case MixerPlaying, MixerRemixing:
		m.mu.Unlock()
		elapsed, err := m.player.StopCurrent()
		if err != nil {
			return fmt.Errorf("audio: mixer: stop for remix: %w", err)
		}
		m.mu.Lock()
		m.trimCurrentLocked(elapsed)
		m.current = append(m.current, c)
		first := m.current[0]
		m.state = MixerState{
			Kind:        MixerRemixing,
			ClipID:      first.ClipID,
			StartedAt:   time.Now(),
			FromElapsed: elapsed,
		}
		m.gen++
		return m.playLocked(ctx)

	default:
		m.mu.Unlock()
		return fmt.Errorf("audio: mixer: unknown state kind %v", m.state.Kind)
	}
}

// trimCurrentLocked drops the leading elapsed span from every in-flight
// contribution; that audio has already left the device.
func (m *Mixer) trimCurrentLocked(elapsed time.Duration) {
	for i, c := range m.current {
		skip := int(elapsed.Seconds() * float64(c.SampleRate))
		if skip >= len(c.PCM) {
			m.current[i].PCM = nil
			continue
		}
		m.current[i].PCM = c.PCM[skip:]
		remainMs := c.TargetPlaybackMs - int(elapsed.Milliseconds())
		if remainMs < 0 {
			remainMs = 0
		}
		m.current[i].TargetPlaybackMs = remainMs
	}
}

// playLocked renders the current contributions down to one buffer and hands
// it to the player. Called with m.mu held; releases it before the blocking
// Play. The generation counter stops a superseded play call from clobbering
// the state a remix installed after it.
func (m *Mixer) playLocked(ctx context.Context) error {
	thisGen := m.gen
	contributions := append([]Contribution(nil), m.current...)
	m.mu.Unlock()

	mixed, sampleRate, err := combine(contributions)
	if err != nil {
		m.mu.Lock()
		if m.gen == thisGen {
			m.state = MixerState{Kind: MixerIdle}
			m.current = nil
		}
		m.mu.Unlock()
		return err
	}
	err = m.player.Play(ctx, mixed, sampleRate)

	m.mu.Lock()
	superseded := m.gen != thisGen
	if !superseded {
		m.state = MixerState{Kind: MixerIdle}
		m.current = nil
	}
	m.mu.Unlock()
	if superseded {
		return nil
	}
	return err
}

// MixedDuration reports how long the merged buffer for contributions will
// play, before submitting it. Used to schedule the PTT-off timer.
func MixedDuration(contributions []Contribution) time.Duration {
	var max time.Duration
	for _, c := range contributions {
		if c.SampleRate <= 0 {
			continue
		}
		d := time.Duration(float64(len(c.PCM)) / float64(c.SampleRate) * float64(time.Second))
		if d > max {
			max = d
		}
	}
	return max
}

// combine sums contributions sample-by-sample, clipping to +/-1. The
// result runs as long as the longest contribution, so a late joiner's
// longer clip plays out in full rather than being cut at the first
// contribution's length.
func combine(contributions []Contribution) ([]float32, int, error) {
	if len(contributions) == 0 {
		return nil, 0, fmt.Errorf("audio: mixer: combine called with no contributions")
	}
	sampleRate := contributions[0].SampleRate
	maxSamples := 0
	for _, c := range contributions {
		if c.SampleRate != sampleRate {
			return nil, 0, fmt.Errorf("audio: mixer: combine: sample rate mismatch %d vs %d", c.SampleRate, sampleRate)
		}
		if len(c.PCM) > maxSamples {
			maxSamples = len(c.PCM)
		}
	}

	out := make([]float32, maxSamples)
	for _, c := range contributions {
		for i, s := range c.PCM {
			out[i] += s
		}
	}
	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}
	return out, sampleRate, nil
}
