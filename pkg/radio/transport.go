// Package radio controls the physical transceiver: frequency, mode and PTT,
// through whichever pluggable transport the config selects. The transport
// boundary mirrors the original daemon's RadioInterface, generalized so CAT
// control and PTT keying can be provided by independent, composable pieces
// (a GPIOPTT decorator can key PTT over a GPIO line even when frequency
// control goes out over network CAT).
package radio

import (
	"context"
	"fmt"
)

// Transport is the minimal control surface a radio backend provides.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SetFrequency(ctx context.Context, hz int64) error
	GetFrequency(ctx context.Context) (int64, error)
	SetMode(ctx context.Context, mode string, bandwidthHz int) error
	SetPTT(ctx context.Context, on bool) error
	IsConnected() bool
}

// Event is a link-state change pushed by a transport.
type Event struct {
	Kind   string // EventConnected, EventDisconnected or EventFrequency
	Reason string // for EventDisconnected, why the link dropped
	FreqHz int64  // for EventFrequency, the radio-reported dial frequency
}

// Event kinds.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventFrequency    = "frequency"
)

// Notifier is implemented by transports that push link-state changes. The
// engine watches the channel when available and only falls back to polling
// IsConnected for transports that can't notice a drop on their own.
type Notifier interface {
	Events() <-chan Event
}

// Info describes the physical radio, surfaced on status responses.
type Info struct {
	Model        string
	Manufacturer string
	Capabilities []string
}

// Mode name constants shared across transports.
const (
	ModeUSB = "USB"
	ModeLSB = "LSB"
	ModeDIG = "DIG" // generic digital-mode mode name for rigs without a dedicated FT8 mode
)

// Controller wraps a Transport with the bookkeeping the engine needs: the
// last commanded frequency/mode/PTT state, so status reporting doesn't have
// to round-trip the transport on every poll.
type Controller struct {
	transport Transport

	freqHz    int64
	mode      string
	bandwidth int
	pttOn     bool
}

func NewController(t Transport) *Controller {
	return &Controller{transport: t}
}

func (c *Controller) Start(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("radio: controller start: %w", err)
	}
	return nil
}

func (c *Controller) Stop() error {
	if c.pttOn {
		if err := c.transport.SetPTT(context.Background(), false); err != nil {
			return fmt.Errorf("radio: controller stop: dropping ptt: %w", err)
		}
	}
	if err := c.transport.Disconnect(); err != nil {
		return fmt.Errorf("radio: controller stop: %w", err)
	}
	return nil
}

func (c *Controller) SetFrequency(ctx context.Context, hz int64) error {
	if err := c.transport.SetFrequency(ctx, hz); err != nil {
		return fmt.Errorf("radio: set frequency %d: %w", hz, err)
	}
	c.freqHz = hz
	return nil
}

func (c *Controller) Frequency() int64 { return c.freqHz }

func (c *Controller) SetMode(ctx context.Context, mode string, bandwidthHz int) error {
	if err := c.transport.SetMode(ctx, mode, bandwidthHz); err != nil {
		return fmt.Errorf("radio: set mode %s: %w", mode, err)
	}
	c.mode = mode
	c.bandwidth = bandwidthHz
	return nil
}

// SetPTT keys or unkeys the transmitter. Keying failures are always
// returned; un-keying is best-effort logged by the caller but still
// returned so callers that care (e.g. a PTT watchdog) can react.
func (c *Controller) SetPTT(ctx context.Context, on bool) error {
	if err := c.transport.SetPTT(ctx, on); err != nil {
		return fmt.Errorf("radio: set ptt %v: %w", on, err)
	}
	c.pttOn = on
	return nil
}

func (c *Controller) PTTActive() bool { return c.pttOn }

func (c *Controller) IsConnected() bool { return c.transport.IsConnected() }

// TransportEvents returns the transport's push channel, or nil when the
// transport doesn't implement Notifier and the caller must poll.
func (c *Controller) TransportEvents() <-chan Event {
	if n, ok := c.transport.(Notifier); ok {
		return n.Events()
	}
	return nil
}
