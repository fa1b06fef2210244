//go:build gpioptt

package radio

import (
	"context"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIOPTT decorates a Transport so PTT is keyed over a GPIO line (a simple
// relay or opto-isolator driving the rig's PTT input) instead of through
// whatever CAT transport handles frequency and mode. Frequency/mode calls
// pass straight through to the wrapped Transport.
type GPIOPTT struct {
	Transport
	chip string
	line int
	req  *gpiocdev.Line
}

func NewGPIOPTT(wrapped Transport, chip string, line int) *GPIOPTT {
	return &GPIOPTT{Transport: wrapped, chip: chip, line: line}
}

func (g *GPIOPTT) Connect(ctx context.Context) error {
	if err := g.Transport.Connect(ctx); err != nil {
		return err
	}
	req, err := gpiocdev.RequestLine(g.chip, g.line, gpiocdev.AsOutput(0))
	if err != nil {
		return fmt.Errorf("radio: gpio ptt: request line %d on %s: %w", g.line, g.chip, err)
	}
	g.req = req
	return nil
}

func (g *GPIOPTT) Disconnect() error {
	if g.req != nil {
		g.req.SetValue(0)
		g.req.Close()
		g.req = nil
	}
	return g.Transport.Disconnect()
}

func (g *GPIOPTT) SetPTT(ctx context.Context, on bool) error {
	if g.req == nil {
		return fmt.Errorf("radio: gpio ptt: line not requested")
	}
	val := 0
	if on {
		val = 1
	}
	if err := g.req.SetValue(val); err != nil {
		return fmt.Errorf("radio: gpio ptt: set line %d: %w", g.line, err)
	}
	return nil
}
