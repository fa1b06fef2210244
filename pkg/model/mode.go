// Package model holds the plain data types shared across the engine: slot
// and mode descriptors, decoded frames, slot packs, operator/QSO state, and
// the command types the control surface sends into the engine.
package model

import "time"

// ModeDescriptor parameterizes a digital mode's slot timing. FT8 and FT4 are
// the two modes this engine ships with; the type stays open so a third
// narrow mode could be added without touching callers.
type ModeDescriptor struct {
	Name           string
	SlotPeriod     time.Duration
	SubWindowCount int
	EncodeLeadTime time.Duration // how far before TransmitOffset encoding must begin
	TransmitOffset time.Duration // offset from slot start where the first tone goes out
	TxDuration     time.Duration // nominal length of one encoded transmission
	ToneSpacingHz  float64
	BandwidthHz    float64
}

var (
	// FT8 is the standard 15-second-slot mode.
	FT8 = ModeDescriptor{
		Name:           "FT8",
		SlotPeriod:     15 * time.Second,
		SubWindowCount: 3,
		EncodeLeadTime: 1500 * time.Millisecond,
		TransmitOffset: 500 * time.Millisecond,
		TxDuration:     12640 * time.Millisecond,
		ToneSpacingHz:  6.25,
		BandwidthHz:    50,
	}

	// FT4 is the faster 7.5-second-slot mode.
	FT4 = ModeDescriptor{
		Name:           "FT4",
		SlotPeriod:     7500 * time.Millisecond,
		SubWindowCount: 2,
		EncodeLeadTime: 1 * time.Second,
		TransmitOffset: 500 * time.Millisecond,
		TxDuration:     6400 * time.Millisecond,
		ToneSpacingHz:  20.8333,
		BandwidthHz:    83,
	}
)

// ModeByName resolves a mode descriptor by its canonical name, used when
// loading config.
func ModeByName(name string) (ModeDescriptor, bool) {
	switch name {
	case "FT8":
		return FT8, true
	case "FT4":
		return FT4, true
	default:
		return ModeDescriptor{}, false
	}
}

// SlotInfo identifies one concrete slot instance on the UTC timeline.
type SlotInfo struct {
	Mode  string
	Index int64
	Start time.Time
	End   time.Time
}
