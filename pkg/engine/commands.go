package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kb5ft8/ft8d/pkg/engineerr"
	"github.com/kb5ft8/ft8d/pkg/model"
)

// HandleCommand dispatches one control-surface command against the running
// engine. Every command returns a Response; unknown commands fail rather
// than falling through silently.
func (e *CoreEngine) HandleCommand(ctx context.Context, cmd model.Command) model.Response {
	switch c := cmd.(type) {
	case model.StatusCommand:
		return model.NewSuccessResponse(e.status())

	case model.SendCommand:
		op, ok := e.ops.Get(c.Operator)
		if !ok {
			return model.NewErrorResponse(fmt.Errorf("unknown operator %q", c.Operator))
		}
		if !op.Running() {
			return model.NewErrorResponse(engineerr.New("engine: send", engineerr.KindInvalidState,
				fmt.Errorf("operator %s is stopped", c.Operator)))
		}
		if triggered := e.TriggerMidSlotChange(c.Operator); !triggered {
			return model.NewErrorResponse(fmt.Errorf("operator %s has nothing to send this cycle", c.Operator))
		}
		return model.NewSuccessResponse(nil)

	case model.SetFrequencyCommand:
		if err := e.radio.SetFrequency(ctx, c.FreqHz); err != nil {
			return model.NewErrorResponse(err)
		}
		return model.NewSuccessResponse(map[string]int64{"freq_hz": c.FreqHz})

	case model.TestPTTCommand:
		hold := c.Hold
		if hold <= 0 || hold > 2*time.Second {
			hold = 500 * time.Millisecond
		}
		if err := e.ptt.KeyOn(ctx); err != nil {
			return model.NewErrorResponse(err)
		}
		e.ptt.ScheduleOff(hold)
		return model.NewSuccessResponse(map[string]string{"hold": hold.String()})

	case model.AbortTransmitCommand:
		e.mixer.ClearOperator(c.Operator)
		if _, err := e.device.StopCurrent(); err != nil {
			return model.NewErrorResponse(err)
		}
		e.ptt.ForceOff()
		return model.NewSuccessResponse(nil)

	case model.GetMessageHistoryCommand:
		limit := c.Limit
		if limit <= 0 {
			limit = 20
		}
		var frames []model.FrameMessage
		for _, pack := range e.packs.Active() {
			for _, f := range pack.Frames {
				frames = append(frames, f)
				if len(frames) >= limit {
					return model.NewSuccessResponse(frames)
				}
			}
		}
		return model.NewSuccessResponse(frames)

	case model.SetOperatorConfigCommand:
		return model.NewErrorResponse(fmt.Errorf("operator reconfiguration goes through the REST surface"))

	case model.ReloadConfigCommand:
		return model.NewErrorResponse(fmt.Errorf("config reload requires a restart"))

	default:
		return model.NewErrorResponse(fmt.Errorf("unknown command %q", cmd.CommandName()))
	}
}

func (e *CoreEngine) status() model.Status {
	e.slotMu.Lock()
	currentSlot := e.currentSlot
	e.slotMu.Unlock()

	activeQSOs := 0
	for _, o := range e.ops.All() {
		if s := o.Strategy().State(); s != model.QSOIdle && s != model.QSOComplete {
			activeQSOs++
		}
	}
	return model.Status{
		State:       e.sm.State().String(),
		Mode:        e.Mode().Name,
		CurrentSlot: currentSlot,
		FreqHz:      e.radio.Frequency(),
		PTTActive:   e.ptt.Active(),
		ActiveQSOs:  activeQSOs,
	}
}
