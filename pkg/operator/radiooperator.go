package operator

import (
	"sync/atomic"

	"github.com/kb5ft8/ft8d/pkg/model"
)

// CycleType distinguishes how transmitCycles phases are computed.
type CycleType int

const (
	EvenOdd CycleType = iota
	Continuous
)

// TransmitRequest is what a RadioOperator emits at encodeStart when its
// strategy has something to say and the current cycle allows it.
type TransmitRequest struct {
	OperatorID string
	Message    string
	FreqHz     float64
	SlotIndex  int64
}

// RadioOperator owns one Config, drives its Strategy, and filters the
// strategy's output by transmit cycle. It holds no
// reference to the OperatorManager; RequestTransmit returns a value the
// manager queues, keeping the operator<->manager reference one-directional.
type RadioOperator struct {
	cfg       Config
	strategy  *Strategy
	cycleType CycleType
	// running is flipped by Stop/StopAllOperators on the radio-watch
	// goroutine while the slot event loop reads it, so it is atomic.
	running atomic.Bool
}

// NewRadioOperator builds a running RadioOperator for cfg.
func NewRadioOperator(cfg Config, worked WorkedIndex, cycleType CycleType) *RadioOperator {
	o := &RadioOperator{cfg: cfg, strategy: NewStrategy(cfg, worked), cycleType: cycleType}
	o.running.Store(true)
	return o
}

func (o *RadioOperator) ID() string          { return o.cfg.ID }
func (o *RadioOperator) Config() Config      { return o.cfg }
func (o *RadioOperator) Strategy() *Strategy { return o.strategy }
func (o *RadioOperator) SetRunning(v bool)   { o.running.Store(v) }
func (o *RadioOperator) Running() bool       { return o.running.Load() }

// cyclePhase computes the phase a slot belongs to:
// cycleNumber mod 2 for EVEN_ODD, else cycleNumber unchanged.
func cyclePhase(cycleNumber int64, cycleType CycleType) int {
	if cycleType == Continuous {
		return int(cycleNumber)
	}
	return int(cycleNumber % 2)
}

// OnEncodeStart is called at every encodeStart firing. If the operator is
// running, the current cycle is one it's allowed to transmit on, and the
// strategy yields a non-empty message, it returns a TransmitRequest for the
// OperatorManager to queue; otherwise ok is false.
func (o *RadioOperator) OnEncodeStart(slotIndex int64) (TransmitRequest, bool) {
	if !o.running.Load() {
		return TransmitRequest{}, false
	}
	phase := cyclePhase(slotIndex, o.cycleType)
	if !o.cfg.allowsCycle(phase) {
		return TransmitRequest{}, false
	}
	msg := o.strategy.HandleTransmitSlot(slotIndex)
	if msg == "" {
		return TransmitRequest{}, false
	}
	return TransmitRequest{OperatorID: o.cfg.ID, Message: msg, FreqHz: o.cfg.AudioFreqHz, SlotIndex: slotIndex}, true
}

// OnDecodeResult forwards a slot pack to the strategy, computing
// isMyTransmitCycle from the pack's slot index.
func (o *RadioOperator) OnDecodeResult(pack *model.SlotPack) {
	if pack == nil {
		return
	}
	mine := o.cfg.allowsCycle(cyclePhase(pack.SlotIndex, o.cycleType))
	o.strategy.OnDecodeResult(pack, mine)
}

// Stop marks the operator not running, mirroring stopAllOperators's effect
// on an individual operator.
func (o *RadioOperator) Stop() { o.running.Store(false) }
