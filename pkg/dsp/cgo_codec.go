//go:build ft8cgo

package dsp

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lft8 -lm
#include <stdlib.h>
#include "ft8_bridge.h"
*/
import "C"

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/kb5ft8/ft8d/pkg/model"
)

// CgoCodec binds to a native FT8/FT4 modulation library the way the original
// daemon bound to its DSP library: C calls for decode/encode, with decode
// results delivered through a callback keyed by an opaque request ID so the
// C side doesn't need to carry Go pointers across the boundary.
type CgoCodec struct {
	mu        sync.Mutex
	callbacks map[uint64]chan []model.FrameMessage
	nextID    uint64
}

func NewCgoCodec() (*CgoCodec, error) {
	if C.ft8_bridge_init() != 0 {
		return nil, fmt.Errorf("dsp: cgo codec: native library init failed")
	}
	return &CgoCodec{callbacks: make(map[uint64]chan []model.FrameMessage)}, nil
}

//export ft8BridgeDecodeCallback
func ft8BridgeDecodeCallback(reqID C.ulonglong, text *C.char, snr C.double, dt C.double, freq C.double, confidence C.double) {
	codecMu.Lock()
	c := activeCodec
	codecMu.Unlock()
	if c == nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.callbacks[uint64(reqID)]
	c.mu.Unlock()
	if !ok {
		return
	}
	f := model.FrameMessage{
		Text:       C.GoString(text),
		SNR:        float64(snr),
		DT:         float64(dt),
		FreqHz:     float64(freq),
		Confidence: float64(confidence),
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case ch <- append([]model.FrameMessage(nil), f):
	default:
	}
}

var (
	codecMu     sync.Mutex
	activeCodec *CgoCodec
)

func (c *CgoCodec) Decode(ctx context.Context, req model.DecodeRequest) model.DecodeResult {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan []model.FrameMessage, 32)
	c.callbacks[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.callbacks, id)
		c.mu.Unlock()
	}()

	codecMu.Lock()
	activeCodec = c
	codecMu.Unlock()

	pcmPtr := (*C.float)(unsafe.Pointer(&req.PCM[0]))
	modeC := C.CString(req.Mode)
	defer C.free(unsafe.Pointer(modeC))

	C.ft8_bridge_decode(C.ulonglong(id), modeC, pcmPtr, C.int(len(req.PCM)), C.int(req.SampleRate))

	var frames []model.FrameMessage
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case f := <-ch:
			frames = append(frames, f...)
		case <-deadline:
			break collect
		case <-ctx.Done():
			break collect
		}
	}
	return model.DecodeResult{Request: req, Frames: frames}
}

func (c *CgoCodec) Encode(ctx context.Context, req model.EncodeRequest) model.EncodeResult {
	modeC := C.CString(req.Mode)
	defer C.free(unsafe.Pointer(modeC))
	textC := C.CString(req.Text)
	defer C.free(unsafe.Pointer(textC))

	var outLen C.int
	outPtr := C.ft8_bridge_encode(modeC, textC, C.double(req.FreqHz), C.int(req.SampleRate), &outLen)
	if outPtr == nil {
		return model.EncodeResult{Request: req, Err: fmt.Errorf("dsp: cgo codec: encode failed for %q", req.Text)}
	}
	defer C.ft8_bridge_free(outPtr)

	n := int(outLen)
	pcm := make([]float32, n)
	src := unsafe.Slice((*C.float)(outPtr), n)
	for i := 0; i < n; i++ {
		pcm[i] = float32(src[i])
	}
	return model.EncodeResult{Request: req, PCM: pcm}
}

func (c *CgoCodec) Close() error {
	C.ft8_bridge_shutdown()
	return nil
}
