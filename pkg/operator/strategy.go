// Package operator implements the per-operator QSO state machine, the cycle
// filtering that turns a strategy's output into an actual transmit request,
// and the manager that fans pending transmissions out to the encode queue.
// Commands arrive through the tagged Command union in pkg/model rather
// than a stringly-typed dispatch map.
package operator

import (
	"strings"

	"github.com/kb5ft8/ft8d/pkg/model"
)

// Config is one operator's identity and QSO policy.
type Config struct {
	ID                       string
	MyCallsign               string
	MyGrid                   string
	AudioFreqHz              float64
	Mode                     string
	TransmitCycles           []int // subset of {0,1} for EVEN_ODD, any int for CONTINUOUS
	MaxQSOTimeoutCycles      int
	MaxCallAttempts          int
	AutoReplyToCQ            bool
	AutoResumeCQAfterFail    bool
	AutoResumeCQAfterSuccess bool
	ReplyToWorkedStations    bool
	PrioritizeNewCalls       bool
}

func (c Config) allowsCycle(phase int) bool {
	for _, p := range c.TransmitCycles {
		if p == phase {
			return true
		}
	}
	return false
}

// WorkedIndex answers whether a callsign has already been logged, letting
// the strategy honor replyToWorkedStations/prioritizeNewCalls without
// re-scanning the append-only frame archive.
type WorkedIndex interface {
	HasWorked(callsign string) bool
}

// alwaysNewIndex is used when no WorkedIndex is wired (e.g. unit tests),
// treating every callsign as unworked.
type alwaysNewIndex struct{}

func (alwaysNewIndex) HasWorked(string) bool { return false }

// Context is the QSO-in-progress state the strategy reads and mutates,
// QSOState context fields exactly.
type Context struct {
	TargetCallsign   string
	TargetGrid       string
	ReportSent       string
	ReportReceived   string
	Attempts         int
	LastActivitySlot int64
}

// Strategy is the per-operator finite state machine: TX1..TX6
// plus an idle sentinel. It holds no reference to the engine; it is driven
// purely by onDecodeResult/userCommand and answers handleTransmitSlot with
// the next message to send, keeping the cyclic engine<->operator reference
// out of this type
type Strategy struct {
	cfg     Config
	worked  WorkedIndex
	state   model.QSOState
	ctx     Context
	lastCQ  string // last CQ message text emitted, surfaced for get_state
}

// NewStrategy builds an idle Strategy for cfg. worked may be nil, in which
// case replyToWorkedStations/prioritizeNewCalls behave as if nothing has
// ever been worked.
func NewStrategy(cfg Config, worked WorkedIndex) *Strategy {
	if worked == nil {
		worked = alwaysNewIndex{}
	}
	return &Strategy{cfg: cfg, worked: worked, state: model.QSOIdle}
}

// State returns the strategy's current QSO state.
func (s *Strategy) State() model.QSOState { return s.state }

// Context returns a copy of the strategy's QSO context.
func (s *Strategy) Context() Context { return s.ctx }

// OnDecodeResult folds a slot pack into the strategy
// transition rules. isMyTransmitCycle indicates whether the current cycle
// is one this operator is allowed to transmit in; replies are only queued
// up on a cycle the operator could actually answer on.
func (s *Strategy) OnDecodeResult(pack *model.SlotPack, isMyTransmitCycle bool) {
	if pack == nil {
		return
	}

	switch s.state {
	case model.QSOIdle, model.QSOCalling:
		if !s.cfg.AutoReplyToCQ {
			break
		}
		if best, ok := s.bestCQCandidate(pack); ok {
			s.ctx = Context{TargetCallsign: best.call, TargetGrid: best.grid, LastActivitySlot: pack.SlotIndex}
			s.state = model.QSOReplyPending
		}

	case model.QSOReplyPending:
		if f, ok := directedReply(pack, s.cfg.MyCallsign, s.ctx.TargetCallsign); ok {
			if grid, ok := parseGrid(f.Text); ok {
				s.ctx.TargetGrid = grid
			}
			s.ctx.LastActivitySlot = pack.SlotIndex
			s.state = model.QSOReportSent
		}

	case model.QSOReportSent:
		if f, ok := directedReply(pack, s.cfg.MyCallsign, s.ctx.TargetCallsign); ok {
			if report, ok := parseReport(f.Text); ok {
				s.ctx.ReportReceived = report
				s.ctx.LastActivitySlot = pack.SlotIndex
				s.state = model.QSORogerSent
			}
		}

	case model.QSORogerSent:
		if f, ok := directedReply(pack, s.cfg.MyCallsign, s.ctx.TargetCallsign); ok {
			if isRRText(f.Text) {
				s.ctx.LastActivitySlot = pack.SlotIndex
				s.state = model.QSORogerRogerSent
			}
		}

	case model.QSORogerRogerSent:
		if f, ok := directedReply(pack, s.cfg.MyCallsign, s.ctx.TargetCallsign); ok {
			if is73Text(f.Text) {
				s.ctx.LastActivitySlot = pack.SlotIndex
				s.state = model.QSOComplete
			}
		}
	}

	s.checkTimeout(pack.SlotIndex)
	_ = isMyTransmitCycle
}

// checkTimeout aborts the QSO if it has exceeded maxCallAttempts or
// maxQSOTimeoutCycles
func (s *Strategy) checkTimeout(currentSlot int64) {
	if s.state == model.QSOIdle || s.state == model.QSOComplete {
		return
	}
	timedOut := s.cfg.MaxQSOTimeoutCycles > 0 && currentSlot-s.ctx.LastActivitySlot > int64(s.cfg.MaxQSOTimeoutCycles)
	tooManyAttempts := s.cfg.MaxCallAttempts > 0 && s.ctx.Attempts > s.cfg.MaxCallAttempts
	if !timedOut && !tooManyAttempts {
		return
	}
	if s.cfg.AutoResumeCQAfterFail {
		s.resetToCalling()
	} else {
		s.resetToIdle()
	}
}

func (s *Strategy) resetToIdle() {
	s.state = model.QSOIdle
	s.ctx = Context{}
}

func (s *Strategy) resetToCalling() {
	s.state = model.QSOCalling
	s.ctx = Context{}
}

// HandleTransmitSlot produces the next outbound message text, or "" if
// nothing should be sent this slot.
func (s *Strategy) HandleTransmitSlot(slotIndex int64) string {
	switch s.state {
	case model.QSOIdle:
		s.state = model.QSOCalling
		fallthrough
	case model.QSOCalling:
		s.ctx.LastActivitySlot = slotIndex
		s.ctx.Attempts++
		msg := "CQ " + s.cfg.MyCallsign + " " + s.cfg.MyGrid
		s.lastCQ = msg
		return msg

	case model.QSOReplyPending:
		s.ctx.Attempts++
		return s.ctx.TargetCallsign + " " + s.cfg.MyCallsign + " " + s.cfg.MyGrid

	case model.QSOReportSent:
		return s.ctx.TargetCallsign + " " + s.cfg.MyCallsign + " " + reportFor(s.ctx)

	case model.QSORogerSent:
		return s.ctx.TargetCallsign + " " + s.cfg.MyCallsign + " R" + s.ctx.ReportReceived

	case model.QSORogerRogerSent, model.QSOComplete:
		msg := s.ctx.TargetCallsign + " " + s.cfg.MyCallsign + " 73"
		if s.cfg.AutoResumeCQAfterSuccess {
			s.resetToCalling()
		} else {
			s.resetToIdle()
		}
		return msg

	default:
		return ""
	}
}

// AdvanceOnTransmit records that HandleTransmitSlot's message actually went
// out, moving the strategy from its "about to send" state into the
// "waiting for a reply" state. Called by the OperatorManager only after it
// has actually queued the encode request, so a dropped or
// rejected transmit does not silently advance the state machine.
func (s *Strategy) AdvanceOnTransmit() {
	switch s.state {
	case model.QSOCalling:
		s.state = model.QSOReplyPending
	case model.QSOReplyPending:
		s.state = model.QSOReportSent
	case model.QSOReportSent:
		s.state = model.QSORogerSent
	case model.QSORogerSent:
		s.state = model.QSORogerRogerSent
	}
}

type candidate struct {
	call string
	grid string
}

// bestCQCandidate scans pack for CQ calls, applying replyToWorkedStations
// and prioritizeNewCalls.
func (s *Strategy) bestCQCandidate(pack *model.SlotPack) (candidate, bool) {
	var best candidate
	found := false
	for _, f := range pack.Frames {
		if f.IsTransmit() {
			continue
		}
		fields := strings.Fields(f.Text)
		if len(fields) < 2 || fields[0] != "CQ" {
			continue
		}
		call := fields[1]
		worked := s.worked.HasWorked(call)
		if worked && !s.cfg.ReplyToWorkedStations {
			continue
		}
		grid := ""
		if len(fields) >= 3 {
			grid = fields[2]
		}
		if !found {
			best = candidate{call: call, grid: grid}
			found = true
			continue
		}
		if s.cfg.PrioritizeNewCalls && s.worked.HasWorked(best.call) && !worked {
			best = candidate{call: call, grid: grid}
		}
	}
	return best, found
}

func directedReply(pack *model.SlotPack, myCall, fromCall string) (model.FrameMessage, bool) {
	for _, f := range pack.Frames {
		if f.IsTransmit() {
			continue
		}
		fields := strings.Fields(f.Text)
		if len(fields) < 2 {
			continue
		}
		if fields[0] != myCall || fields[1] != fromCall {
			continue
		}
		return f, true
	}
	return model.FrameMessage{}, false
}

func parseGrid(text string) (string, bool) {
	fields := strings.Fields(text)
	for _, f := range fields {
		if len(f) == 4 && isGridLike(f) {
			return f, true
		}
	}
	return "", false
}

func isGridLike(s string) bool {
	return s[0] >= 'A' && s[0] <= 'R' && s[1] >= 'A' && s[1] <= 'R' &&
		s[2] >= '0' && s[2] <= '9' && s[3] >= '0' && s[3] <= '9'
}

func parseReport(text string) (string, bool) {
	fields := strings.Fields(text)
	for _, f := range fields {
		trimmed := strings.TrimPrefix(f, "R")
		if len(trimmed) >= 2 && (trimmed[0] == '-' || trimmed[0] == '+') {
			return trimmed, true
		}
	}
	return "", false
}

func isRRText(text string) bool {
	return strings.Contains(text, "RR73") || strings.Contains(text, "RRR")
}

func is73Text(text string) bool {
	return strings.HasSuffix(strings.TrimSpace(text), "73") && !isRRText(text)
}

func reportFor(ctx Context) string {
	if ctx.ReportSent != "" {
		return ctx.ReportSent
	}
	return "-10"
}
