// Package dsp defines the boundary between the engine and the native
// FT8/FT4 modulation library. Actual tone synthesis and waterfall decoding
// are assumed to live in a vendored C library (ft8_lib or equivalent,
// reached through cgo) or a test double; this package only defines the
// Go-side contract and picks an implementation.
package dsp

import (
	"context"

	"github.com/kb5ft8/ft8d/pkg/model"
)

// Decoder turns a slot's worth of audio into candidate frames.
type Decoder interface {
	Decode(ctx context.Context, req model.DecodeRequest) model.DecodeResult
}

// Encoder synthesizes audio for one transmission.
type Encoder interface {
	Encode(ctx context.Context, req model.EncodeRequest) model.EncodeResult
}

// Codec is the combined decode/encode surface a dsp backend provides.
type Codec interface {
	Decoder
	Encoder
	// Close releases any native resources (loaded library handles, FFT
	// plans) the codec holds.
	Close() error
}

// NopCodec satisfies Codec for components that need one (resource wiring,
// tests) but shouldn't invoke it.
type NopCodec struct{}

func (NopCodec) Decode(ctx context.Context, req model.DecodeRequest) model.DecodeResult {
	return model.DecodeResult{Request: req}
}

func (NopCodec) Encode(ctx context.Context, req model.EncodeRequest) model.EncodeResult {
	return model.EncodeResult{Request: req}
}

func (NopCodec) Close() error { return nil }
