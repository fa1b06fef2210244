package dsp

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kb5ft8/ft8d/pkg/model"
)

// MockCodec is a deterministic, always-built Codec used in tests and as the
// default backend when no native library is configured. It "encodes" a
// message into a short recognizable PCM pattern and "decodes" by returning
// frames that were pre-loaded with Seed, so tests can drive the full
// encode -> mix -> play -> decode loop without real DSP.
type MockCodec struct {
	mu       sync.Mutex
	seeded   map[int64][]model.FrameMessage // slot index -> frames to return
	encoded  []model.EncodeRequest
	decoded  []model.DecodeRequest
	closed   bool
}

func NewMockCodec() *MockCodec {
	return &MockCodec{seeded: make(map[int64][]model.FrameMessage)}
}

// Seed registers the frames Decode should return for a given slot index.
func (m *MockCodec) Seed(slotIndex int64, frames []model.FrameMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeded[slotIndex] = frames
}

func (m *MockCodec) Encode(ctx context.Context, req model.EncodeRequest) model.EncodeResult {
	m.mu.Lock()
	m.encoded = append(m.encoded, req)
	m.mu.Unlock()

	if req.SampleRate <= 0 {
		return model.EncodeResult{Request: req, Err: fmt.Errorf("dsp: mock encode: invalid sample rate %d", req.SampleRate)}
	}
	// A trivial, deterministic tone: a 0.5 s sine at FreqHz (1500 Hz when
	// unset). Text does not affect the buffer.
	durationSec := 0.5
	n := int(float64(req.SampleRate) * durationSec)
	pcm := make([]float32, n)
	freq := req.FreqHz
	if freq == 0 {
		freq = 1500
	}
	for i := range pcm {
		t := float64(i) / float64(req.SampleRate)
		pcm[i] = float32(0.3 * math.Sin(2*math.Pi*freq*t))
	}
	return model.EncodeResult{Request: req, PCM: pcm}
}

func (m *MockCodec) Decode(ctx context.Context, req model.DecodeRequest) model.DecodeResult {
	m.mu.Lock()
	m.decoded = append(m.decoded, req)
	frames := append([]model.FrameMessage(nil), m.seeded[req.SlotIndex]...)
	m.mu.Unlock()

	for i := range frames {
		if frames[i].ReceivedAt.IsZero() {
			frames[i].ReceivedAt = time.Now().UTC()
		}
		frames[i].Mode = req.Mode
		frames[i].SlotIndex = req.SlotIndex
	}
	return model.DecodeResult{Request: req, Frames: frames}
}

func (m *MockCodec) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// EncodedRequests returns a snapshot of every Encode call observed, for test
// assertions.
func (m *MockCodec) EncodedRequests() []model.EncodeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.EncodeRequest(nil), m.encoded...)
}
