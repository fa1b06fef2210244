package model

import "time"

// EncodeRequest asks the dsp codec to synthesize audio for one transmission.
type EncodeRequest struct {
	ID         string // correlation id; the engine's encode pipeline sets a fresh UUID on submit
	Mode       string
	Text       string
	FreqHz     float64
	SampleRate int
	SlotIndex  int64
	Operator   string
	QueuedAt   time.Time
}

// EncodeResult is the synthesized audio and the request it answers.
type EncodeResult struct {
	Request EncodeRequest
	PCM     []float32 // mono samples at Request.SampleRate
	Err     error
}

// DecodeRequest asks the dsp codec to look for frames in one capture of
// slot audio.
type DecodeRequest struct {
	ID         string
	Mode       string
	SlotIndex  int64
	SampleRate int
	PCM        []float32
	SubWindow  int // 0 for the full-window pass
	// WindowOffsetMs is the audio-time correction for a partial sub-window:
	// accumulated capture length minus the full slot length, so it is zero
	// or negative. Applied to each decoded frame's dt during the merge.
	WindowOffsetMs float64
	QueuedAt       time.Time
}

// DecodeResult is the frames the codec found for one DecodeRequest.
type DecodeResult struct {
	Request DecodeRequest
	Frames  []FrameMessage
	Err     error
}

// MixedAudio is a buffer ready for the audio output device, along with the
// PTT window it should be played inside.
type MixedAudio struct {
	PCM        []float32
	SampleRate int
	StartAt    time.Time
	Operator   string
	SlotIndex  int64
}
