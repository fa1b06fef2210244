package operator

import (
	"sync"
	"time"

	"github.com/kb5ft8/ft8d/pkg/eventbus"
	"github.com/kb5ft8/ft8d/pkg/model"
)

// TransmissionLogEntry is published on the event bus for every queued
// transmission; it is the transmissionLog broadcast's payload.
type TransmissionLogEntry struct {
	OperatorID  string
	Time        string // "HHMMSS"
	Message     string
	FrequencyHz float64
	SlotStartMs int64
}

// Manager owns the operator map and the FIFO pendingTransmissions queue.
// The pending queue is snapshot-and-cleared atomically at encodeStart so
// the encode pipeline never races a late transmit request.
type Manager struct {
	mu        sync.Mutex
	operators map[string]*RadioOperator
	pending   []TransmitRequest
	bus       *eventbus.Bus

	// EncodeRequests receives one model.EncodeRequest per queued or
	// mid-slot transmission; the engine's encode pipeline reads from it.
	EncodeRequests chan model.EncodeRequest
}

// NewManager builds an empty Manager. encodeReqBuf sizes the EncodeRequests
// channel.
func NewManager(bus *eventbus.Bus, encodeReqBuf int) *Manager {
	if encodeReqBuf <= 0 {
		encodeReqBuf = 16
	}
	return &Manager{
		operators:      make(map[string]*RadioOperator),
		bus:            bus,
		EncodeRequests: make(chan model.EncodeRequest, encodeReqBuf),
	}
}

// AddOperator registers o, replacing any existing operator with the same ID.
func (m *Manager) AddOperator(o *RadioOperator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operators[o.ID()] = o
}

// RemoveOperator drops an operator from the map.
func (m *Manager) RemoveOperator(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.operators, id)
}

// Get returns the operator for id, if registered.
func (m *Manager) Get(id string) (*RadioOperator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.operators[id]
	return o, ok
}

// All returns every registered operator.
func (m *Manager) All() []*RadioOperator {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RadioOperator, 0, len(m.operators))
	for _, o := range m.operators {
		out = append(out, o)
	}
	return out
}

// RequestTransmit enqueues req on the pending queue. Called by the
// RequestTransmit event handler, which is itself fed by each operator's
// OnEncodeStart result.
func (m *Manager) RequestTransmit(req TransmitRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, req)
}

// OnDecodeResult forwards pack to every registered operator.
func (m *Manager) OnDecodeResult(pack *model.SlotPack) {
	for _, o := range m.All() {
		o.OnDecodeResult(pack)
	}
}

// HasActiveTransmissionsInCurrentCycle reports whether any operator is
// allowed to transmit in the cycle slotIndex belongs to, wired into
// SlotScheduler.HasActiveTransmissions.
func (m *Manager) HasActiveTransmissionsInCurrentCycle(slotIndex int64) bool {
	for _, o := range m.All() {
		if !o.Running() {
			continue
		}
		if o.cfg.allowsCycle(cyclePhase(slotIndex, o.cycleType)) {
			return true
		}
	}
	return false
}

// ProcessPendingTransmissions snapshots and clears the pending queue, then
// for each still-registered operator's request: publishes a
// transmissionLog event and pushes an EncodeRequest.
// slotStart is the slot's UTC boundary time, slotIndex its ordinal.
func (m *Manager) ProcessPendingTransmissions(slotIndex int64, slotStart time.Time, mode string, sampleRate int, now time.Time) {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, req := range batch {
		o, ok := m.Get(req.OperatorID)
		if !ok || !o.Running() {
			continue
		}

		entry := TransmissionLogEntry{
			OperatorID: req.OperatorID, Time: now.UTC().Format("150405"),
			Message: req.Message, FrequencyHz: req.FreqHz, SlotStartMs: slotStart.UnixMilli(),
		}
		if m.bus != nil {
			m.bus.Publish(eventbus.Scoped(eventbus.TopicQSOState, "transmissionLog"), entry)
		}

		encReq := model.EncodeRequest{
			Mode: mode, Text: req.Message, FreqHz: req.FreqHz, SampleRate: sampleRate,
			SlotIndex: slotIndex, Operator: req.OperatorID, QueuedAt: now,
		}
		select {
		case m.EncodeRequests <- encReq:
			o.Strategy().AdvanceOnTransmit()
		default:
		}
	}
}

// CheckAndTriggerTransmission bypasses the queue for opId: if the operator
// is currently in its transmit cycle, it issues an immediate encode request
// marked mid-slot. It returns
// false if the operator doesn't exist, isn't running, or isn't in-cycle for
// slotIndex.
func (m *Manager) CheckAndTriggerTransmission(opID string, slotIndex int64, slotStart time.Time, mode string, sampleRate int, now time.Time) bool {
	o, ok := m.Get(opID)
	if !ok || !o.Running() {
		return false
	}
	if !o.cfg.allowsCycle(cyclePhase(slotIndex, o.cycleType)) {
		return false
	}
	msg := o.strategy.HandleTransmitSlot(slotIndex)
	if msg == "" {
		return false
	}

	encReq := model.EncodeRequest{
		Mode: mode, Text: msg, FreqHz: o.cfg.AudioFreqHz, SampleRate: sampleRate,
		SlotIndex: slotIndex, Operator: opID, QueuedAt: now,
	}
	select {
	case m.EncodeRequests <- encReq:
		o.strategy.AdvanceOnTransmit()
		return true
	default:
		return false
	}
}

// StopAllOperators stops every registered operator's transmissions
// and drops the pending queue,
// since any request still queued was for a radio link that's now down.
func (m *Manager) StopAllOperators() {
	for _, o := range m.All() {
		o.Stop()
	}
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
}
