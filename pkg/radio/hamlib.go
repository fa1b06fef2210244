//go:build hamlib

package radio

import (
	"context"
	"fmt"

	hamlib "github.com/xylo04/goHamlib"
)

// HamlibTransport drives the radio through libhamlib, for the long tail of
// rigs that don't expose a bare ASCII CAT protocol worth hand-rolling. This
// mirrors the original daemon's cgo-backed hamlib binding, swapped for a
// pure-cgo Go wrapper so the bridge code itself doesn't need maintaining
// here.
type HamlibTransport struct {
	modelID int
	device  string
	baud    int

	rig *hamlib.Rig
}

func NewHamlibTransport(modelID int, device string, baud int) *HamlibTransport {
	return &HamlibTransport{modelID: modelID, device: device, baud: baud}
}

func (h *HamlibTransport) Connect(ctx context.Context) error {
	rig := hamlib.NewRig(h.modelID)
	rig.SetConf("rig_pathname", h.device)
	rig.SetConf("serial_speed", fmt.Sprintf("%d", h.baud))
	if err := rig.Open(); err != nil {
		return fmt.Errorf("radio: hamlib: open model %d on %s: %w", h.modelID, h.device, err)
	}
	h.rig = rig
	return nil
}

func (h *HamlibTransport) Disconnect() error {
	if h.rig == nil {
		return nil
	}
	if err := h.rig.Close(); err != nil {
		return fmt.Errorf("radio: hamlib: close: %w", err)
	}
	h.rig = nil
	return nil
}

func (h *HamlibTransport) SetFrequency(ctx context.Context, hz int64) error {
	if h.rig == nil {
		return fmt.Errorf("radio: hamlib: not connected")
	}
	if err := h.rig.SetFreq(hamlib.VFOCurrent, float64(hz)); err != nil {
		return fmt.Errorf("radio: hamlib: set freq %d: %w", hz, err)
	}
	return nil
}

func (h *HamlibTransport) GetFrequency(ctx context.Context) (int64, error) {
	if h.rig == nil {
		return 0, fmt.Errorf("radio: hamlib: not connected")
	}
	hz, err := h.rig.GetFreq(hamlib.VFOCurrent)
	if err != nil {
		return 0, fmt.Errorf("radio: hamlib: get freq: %w", err)
	}
	return int64(hz), nil
}

func (h *HamlibTransport) SetMode(ctx context.Context, mode string, bandwidthHz int) error {
	if h.rig == nil {
		return fmt.Errorf("radio: hamlib: not connected")
	}
	hlMode := hamlib.ModeUSB
	if mode == ModeLSB {
		hlMode = hamlib.ModeLSB
	}
	if err := h.rig.SetMode(hamlib.VFOCurrent, hlMode, bandwidthHz); err != nil {
		return fmt.Errorf("radio: hamlib: set mode %s: %w", mode, err)
	}
	return nil
}

func (h *HamlibTransport) SetPTT(ctx context.Context, on bool) error {
	if h.rig == nil {
		return fmt.Errorf("radio: hamlib: not connected")
	}
	if err := h.rig.SetPTT(hamlib.VFOCurrent, on); err != nil {
		return fmt.Errorf("radio: hamlib: set ptt %v: %w", on, err)
	}
	return nil
}

func (h *HamlibTransport) IsConnected() bool {
	return h.rig != nil
}
