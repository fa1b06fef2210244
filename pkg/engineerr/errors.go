// Package engineerr defines the typed error kinds raised across the
// engine, slot, operator and resource packages so callers can branch on
// failure class instead of matching error strings.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine-level failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindResourceStart
	KindResourceStop
	KindTransportUnavailable
	KindCodecUnavailable
	KindOverload
	KindInvalidState
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindResourceStart:
		return "resource_start"
	case KindResourceStop:
		return "resource_stop"
	case KindTransportUnavailable:
		return "transport_unavailable"
	case KindCodecUnavailable:
		return "codec_unavailable"
	case KindOverload:
		return "overload"
	case KindInvalidState:
		return "invalid_state"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so it survives fmt.Errorf
// wrapping chains and can be recovered with errors.As.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for op/kind, wrapping err (which may be nil).
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
