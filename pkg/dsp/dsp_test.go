package dsp

import (
	"context"
	"testing"

	"github.com/kb5ft8/ft8d/pkg/model"
)

func TestMockCodecEncodeProducesAudio(t *testing.T) {
	c := NewMockCodec()
	res := c.Encode(context.Background(), model.EncodeRequest{
		Mode: "FT8", Text: "CQ N0CALL EM12", FreqHz: 1500, SampleRate: 12000,
	})
	if res.Err != nil {
		t.Fatalf("encode error: %v", res.Err)
	}
	if len(res.PCM) == 0 {
		t.Fatal("expected non-empty PCM")
	}
	if len(c.EncodedRequests()) != 1 {
		t.Fatalf("expected 1 recorded request, got %d", len(c.EncodedRequests()))
	}
}

func TestMockCodecEncodeRejectsBadSampleRate(t *testing.T) {
	c := NewMockCodec()
	res := c.Encode(context.Background(), model.EncodeRequest{SampleRate: 0})
	if res.Err == nil {
		t.Fatal("expected error for zero sample rate")
	}
}

func TestMockCodecDecodeReturnsSeededFrames(t *testing.T) {
	c := NewMockCodec()
	c.Seed(42, []model.FrameMessage{
		{Text: "CQ N0CALL EM12", SNR: -10, FreqHz: 1200},
	})
	res := c.Decode(context.Background(), model.DecodeRequest{Mode: "FT8", SlotIndex: 42})
	if len(res.Frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(res.Frames))
	}
	if res.Frames[0].Mode != "FT8" || res.Frames[0].SlotIndex != 42 {
		t.Fatalf("frame not stamped with request context: %+v", res.Frames[0])
	}
}

func TestMockCodecDecodeUnseededSlotReturnsNothing(t *testing.T) {
	c := NewMockCodec()
	res := c.Decode(context.Background(), model.DecodeRequest{Mode: "FT8", SlotIndex: 7})
	if len(res.Frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(res.Frames))
	}
}
