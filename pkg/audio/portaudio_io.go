//go:build portaudio

package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// framesPerBuffer is the chunk size used for output writes. Small enough
// that StopCurrent aborts within a few milliseconds, large enough that the
// write loop isn't syscall-bound.
const framesPerBuffer = 768

// prebuffer keeps the device no further than this ahead of the wall clock,
// so a stop lands close to what the listener actually heard.
const prebuffer = 100 * time.Millisecond

// PortAudioDevice is a real Device backed by PortAudio, selected when the
// engine is built with the portaudio tag and a sound card is configured.
// Mirrors the mock's shape exactly so resource wiring doesn't care which one
// it got.
type PortAudioDevice struct {
	mu        sync.Mutex
	inStream  *portaudio.Stream
	playing   bool
	stopPlay  bool
	playStart time.Time
	playedDur time.Duration
	gain      float32
}

func NewPortAudioDevice() (*PortAudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audio: portaudio init: %w", err)
	}
	return &PortAudioDevice{gain: 1}, nil
}

func (p *PortAudioDevice) Start(ctx context.Context, sampleRate, chunkSamples int) (<-chan []float32, error) {
	out := make(chan []float32, 8)
	buf := make([]float32, chunkSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), chunkSamples, buf)
	if err != nil {
		return nil, fmt.Errorf("audio: portaudio: open input stream: %w", err)
	}
	p.mu.Lock()
	p.inStream = stream
	p.mu.Unlock()
	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("audio: portaudio: start input stream: %w", err)
	}
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if err := stream.Read(); err != nil {
				return
			}
			chunk := make([]float32, len(buf))
			copy(chunk, buf)
			Sanitize(chunk)
			select {
			case out <- chunk:
			default:
			}
		}
	}()
	return out, nil
}

func (p *PortAudioDevice) Stop() error {
	p.mu.Lock()
	stream := p.inStream
	p.stopPlay = true
	p.mu.Unlock()
	if stream != nil {
		return stream.Stop()
	}
	return nil
}

// Play writes pcm to the default output in framesPerBuffer chunks, applying
// the current gain and pacing so the device stays at most prebuffer ahead
// of the wall clock. Returns once the last chunk is flushed, or earlier when
// StopCurrent sets the stop flag.
func (p *PortAudioDevice) Play(ctx context.Context, pcm []float32, sampleRate int) error {
	chunk := make([]float32, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, chunk)
	if err != nil {
		return fmt.Errorf("audio: portaudio: open output stream: %w", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("audio: portaudio: start output stream: %w", err)
	}
	defer stream.Stop()

	p.mu.Lock()
	p.playing = true
	p.stopPlay = false
	p.playStart = time.Now()
	p.playedDur = 0
	gain := p.gain
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
	}()

	chunkDur := time.Duration(float64(framesPerBuffer) / float64(sampleRate) * float64(time.Second))
	var sent time.Duration
	for off := 0; off < len(pcm); off += framesPerBuffer {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.mu.Lock()
		stopped := p.stopPlay
		p.mu.Unlock()
		if stopped {
			return nil
		}

		n := copy(chunk, pcm[off:])
		for i := n; i < len(chunk); i++ {
			chunk[i] = 0
		}
		for i := 0; i < n; i++ {
			chunk[i] *= gain
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("audio: portaudio: write output: %w", err)
		}
		sent += chunkDur

		// Pacing: if we've handed the device more audio than wall time has
		// consumed plus the prebuffer, sleep off the difference.
		ahead := sent - time.Since(p.playStart)
		if ahead > prebuffer {
			time.Sleep(ahead - prebuffer)
		}
		p.mu.Lock()
		p.playedDur = time.Since(p.playStart)
		p.mu.Unlock()
	}
	return nil
}

func (p *PortAudioDevice) StopCurrent() (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return 0, nil
	}
	p.stopPlay = true
	return p.playedDur, nil
}

func (p *PortAudioDevice) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *PortAudioDevice) SetGainDb(db float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = GainDbToLinear(db)
}

func (p *PortAudioDevice) Close() error {
	p.mu.Lock()
	in := p.inStream
	p.mu.Unlock()
	if in != nil {
		in.Close()
	}
	return portaudio.Terminate()
}
