package audio

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRingBufferReadReturnsWindow(t *testing.T) {
	rb := NewRingBuffer(12000, 12000)
	origin := time.Unix(1_700_000_000, 0).UTC()
	samples := make([]float32, 1200) // 100ms
	for i := range samples {
		samples[i] = 0.5
	}
	rb.Write(samples, origin)

	got := rb.Read(origin, 100*time.Millisecond)
	require.Len(t, got, 1200)
	require.Equal(t, float32(0.5), got[0])
	require.Equal(t, float32(0.5), got[1199])
}

func TestRingBufferReadZeroPadsBeforeHistory(t *testing.T) {
	rb := NewRingBuffer(600, 12000) // retains only 50ms
	origin := time.Unix(1_700_000_000, 0).UTC()
	samples := make([]float32, 1200) // 100ms, first 50ms gets overwritten
	for i := range samples {
		samples[i] = 1
	}
	rb.Write(samples, origin)

	got := rb.Read(origin, 100*time.Millisecond)
	require.Len(t, got, 1200, "read must return exactly the requested length")
	require.Equal(t, float32(0), got[0], "overwritten head zero-padded")
	require.Equal(t, float32(1), got[1199], "retained tail intact")
	require.Equal(t, uint64(600), rb.Dropped())
}

func TestRingBufferReadPadsFutureTail(t *testing.T) {
	rb := NewRingBuffer(12000, 12000)
	origin := time.Unix(1_700_000_000, 0).UTC()
	samples := make([]float32, 600) // only 50ms captured so far
	for i := range samples {
		samples[i] = 1
	}
	rb.Write(samples, origin)

	got := rb.Read(origin, 100*time.Millisecond)
	require.Len(t, got, 1200)
	require.Equal(t, float32(1), got[0])
	require.Equal(t, float32(0), got[1199], "uncaptured tail zero-padded")
}

func TestRingBufferReadBeforeAnyWrite(t *testing.T) {
	rb := NewRingBuffer(12000, 12000)
	got := rb.Read(time.Unix(1_700_000_000, 0), 10*time.Millisecond)
	require.Len(t, got, 120)
	for _, s := range got {
		require.Equal(t, float32(0), s)
	}
}

func TestSanitizeReplacesGarbage(t *testing.T) {
	samples := []float32{0.5, float32(math.NaN()), float32(math.Inf(1)), -3, 2}
	Sanitize(samples)
	require.Equal(t, []float32{0.5, 0, 0, -1, 1}, samples)
}

func TestClampGainDb(t *testing.T) {
	require.Equal(t, -60.0, ClampGainDb(-100))
	require.Equal(t, 20.0, ClampGainDb(35))
	require.Equal(t, 3.0, ClampGainDb(3))
}

func TestMockDevicePlayRecordsBuffer(t *testing.T) {
	d := NewMockDevice()
	d.SetSleeper(func(time.Duration) {})
	pcm := []float32{0.1, 0.2, 0.3}
	require.NoError(t, d.Play(context.Background(), pcm, 12000))
	played := d.PlayedBuffers()
	require.Len(t, played, 1)
	require.Len(t, played[0], 3)
}

func TestMockDeviceStopCurrentAbortsPlay(t *testing.T) {
	d := NewMockDevice()
	release := make(chan struct{})
	var once bool
	d.SetSleeper(func(time.Duration) {
		if !once {
			once = true
			<-release
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- d.Play(context.Background(), make([]float32, 48000), 48000) // 1s clip
	}()
	require.Eventually(t, d.IsPlaying, time.Second, time.Millisecond)

	_, err := d.StopCurrent()
	require.NoError(t, err)
	close(release)

	require.NoError(t, <-done)
	require.False(t, d.IsPlaying())
}

func TestMixerSingleContributionPlaysThrough(t *testing.T) {
	d := NewMockDevice()
	d.SetSleeper(func(time.Duration) {})
	m := NewMixer(d)

	err := m.Submit(context.Background(), Contribution{
		ClipID: "a", Operator: "N0CALL", PCM: make([]float32, 1200),
		SampleRate: 12000, TargetPlaybackMs: 100, QueuedAt: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, MixerIdle, m.State().Kind, "expected idle after play completes")
	require.Len(t, d.PlayedBuffers(), 1)
}

func TestMixerRemixTrimsElapsedHead(t *testing.T) {
	d := NewMockDevice()
	release := make(chan struct{})
	var gate bool
	d.SetSleeper(func(time.Duration) {
		if !gate {
			gate = true
			<-release
		}
	})
	m := NewMixer(d)

	first := Contribution{
		ClipID: "a", Operator: "op1", PCM: make([]float32, 48000*10), // 10s at 48k
		SampleRate: 48000, TargetPlaybackMs: 10000, QueuedAt: time.Now(),
	}
	done := make(chan error, 1)
	go func() { done <- m.Submit(context.Background(), first) }()
	require.Eventually(t, d.IsPlaying, time.Second, time.Millisecond)

	second := Contribution{
		ClipID: "b", Operator: "op2", PCM: make([]float32, 48000*9),
		SampleRate: 48000, TargetPlaybackMs: 9000, QueuedAt: time.Now(),
	}
	done2 := make(chan error, 1)
	go func() { done2 <- m.Submit(context.Background(), second) }()
	close(release)

	require.NoError(t, <-done, "superseded submit resolves cleanly")
	require.NoError(t, <-done2)

	played := d.PlayedBuffers()
	require.Len(t, played, 2)
	require.LessOrEqual(t, len(played[1]), len(played[0]),
		"remix buffer must not be longer than the original composition")
	require.Equal(t, MixerIdle, m.State().Kind)
}

func TestMixerCombineRunsToLongestContribution(t *testing.T) {
	short := make([]float32, 480)
	long := make([]float32, 960)
	for i := range long {
		long[i] = 0.25
	}
	mixed, _, err := combine([]Contribution{
		{PCM: short, SampleRate: 48000, TargetPlaybackMs: 10},
		{PCM: long, SampleRate: 48000, TargetPlaybackMs: 20},
	})
	require.NoError(t, err)
	require.Len(t, mixed, 960, "the longer clip plays out in full")
	require.Equal(t, float32(0.25), mixed[959], "tail beyond the short clip is the long clip alone")
}

func TestMixerCombineSoftClips(t *testing.T) {
	loud := make([]float32, 480)
	for i := range loud {
		loud[i] = 0.8
	}
	mixed, rate, err := combine([]Contribution{
		{PCM: loud, SampleRate: 48000, TargetPlaybackMs: 10},
		{PCM: loud, SampleRate: 48000, TargetPlaybackMs: 10},
	})
	require.NoError(t, err)
	require.Equal(t, 48000, rate)
	for _, s := range mixed {
		require.LessOrEqual(t, s, float32(1))
	}
}

func TestResampleDownsamplePreservesLength(t *testing.T) {
	in := make([]float32, 480) // 10ms at 48000
	out := Resample(in, 48000, 12000)
	require.Len(t, out, 120)
}

func TestResampleSameRateCopies(t *testing.T) {
	in := []float32{1, 2, 3}
	out := Resample(in, 12000, 12000)
	require.Equal(t, []float32{1, 2, 3}, out)
}
