package model

import "time"

// QSOState is a step in the standard two-way contact exchange. Names follow
// the conventional TX1..TX6 numbering: TX1 is a call or CQ, TX6 is the final
// 73.
type QSOState int

const (
	QSOIdle QSOState = iota
	QSOCalling        // TX1: CQ or a direct call
	QSOReplyPending    // TX2: calling the target with our callsign and grid
	QSOReportSent      // TX3: sent our report, awaiting theirs
	QSORogerSent       // TX4: sent roger + report
	QSORogerRogerSent  // TX5: roger exchange done (their RRR/RR73); our 73 goes next
	QSOComplete        // TX6: final 73 sent, contact logged
)

func (s QSOState) String() string {
	switch s {
	case QSOIdle:
		return "idle"
	case QSOCalling:
		return "calling"
	case QSOReplyPending:
		return "reply_pending"
	case QSOReportSent:
		return "report_sent"
	case QSORogerSent:
		return "roger_sent"
	case QSORogerRogerSent:
		return "roger_roger_sent"
	case QSOComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// QSORecord is the working state of one contact in progress (or just
// completed) with a specific station.
type QSORecord struct {
	Operator      string // our operator's callsign running this contact
	PeerCallsign  string
	PeerGrid      string
	ReportSent    string
	ReportRecv    string
	State         QSOState
	StateEnteredAt time.Time
	LastTxSlot    int64
	Attempts      int
}

// EngineState is the supervising state machine's current phase.
type EngineState int

const (
	EngineIdle EngineState = iota
	EngineStarting
	EngineRunning
	EngineStopping
	EngineError
)

func (s EngineState) String() string {
	switch s {
	case EngineIdle:
		return "idle"
	case EngineStarting:
		return "starting"
	case EngineRunning:
		return "running"
	case EngineStopping:
		return "stopping"
	case EngineError:
		return "error"
	default:
		return "unknown"
	}
}

// OperatorConfig describes one logical operator (a callsign/grid pair
// transmitting through the shared radio and audio hardware).
type OperatorConfig struct {
	Callsign            string
	Grid                string
	ReplyToWorkedStations bool // if false, skip stations already worked per WorkedStationIndex
	PrioritizeNewCalls    bool // if true, prefer replying to calls never seen this session
	MaxAttemptsPerQSO     int
}
