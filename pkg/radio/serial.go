package radio

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialTransport speaks a line-oriented CAT protocol (Kenwood/Yaesu-style
// ASCII commands terminated with ';') over a serial port. It is a pure-Go
// alternative to cgo+hamlib for the common case of a single known rig.
type SerialTransport struct {
	device   string
	baudRate int

	mu     sync.Mutex
	port   serial.Port
	reader *bufio.Reader
	pttOn  bool
	events chan Event
}

func NewSerialTransport(device string, baudRate int) *SerialTransport {
	return &SerialTransport{device: device, baudRate: baudRate, events: make(chan Event, 8)}
}

// Events implements Notifier, mirroring NetworkTransport: a failed CAT
// exchange pushes the disconnect immediately instead of waiting for the
// engine's poll.
func (s *SerialTransport) Events() <-chan Event {
	return s.events
}

func (s *SerialTransport) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *SerialTransport) Connect(ctx context.Context) error {
	mode := &serial.Mode{BaudRate: s.baudRate}
	port, err := serial.Open(s.device, mode)
	if err != nil {
		return fmt.Errorf("radio: serial: open %s: %w", s.device, err)
	}
	port.SetReadTimeout(500 * time.Millisecond)

	s.mu.Lock()
	s.port = port
	s.reader = bufio.NewReader(port)
	s.mu.Unlock()
	s.emit(Event{Kind: EventConnected})
	return nil
}

func (s *SerialTransport) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	s.emit(Event{Kind: EventDisconnected, Reason: "closed by request"})
	if err != nil {
		return fmt.Errorf("radio: serial: close: %w", err)
	}
	return nil
}

func (s *SerialTransport) command(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return "", fmt.Errorf("radio: serial: not connected")
	}
	if _, err := s.port.Write([]byte(cmd + ";")); err != nil {
		s.dropLocked("write failed: " + err.Error())
		return "", fmt.Errorf("radio: serial: write %q: %w", cmd, err)
	}
	line, err := s.reader.ReadString(';')
	if err != nil {
		s.dropLocked("read failed: " + err.Error())
		return "", fmt.Errorf("radio: serial: read reply to %q: %w", cmd, err)
	}
	return strings.TrimSuffix(line, ";"), nil
}

// dropLocked tears the port down after an I/O failure and pushes the
// disconnect event. Caller holds s.mu.
func (s *SerialTransport) dropLocked(reason string) {
	if s.port != nil {
		s.port.Close()
		s.port = nil
	}
	s.emit(Event{Kind: EventDisconnected, Reason: reason})
}

func (s *SerialTransport) SetFrequency(ctx context.Context, hz int64) error {
	_, err := s.command(fmt.Sprintf("FA%011d", hz))
	return err
}

func (s *SerialTransport) GetFrequency(ctx context.Context) (int64, error) {
	reply, err := s.command("FA")
	if err != nil {
		return 0, err
	}
	digits := strings.TrimPrefix(reply, "FA")
	hz, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("radio: serial: parse frequency reply %q: %w", reply, err)
	}
	return hz, nil
}

func (s *SerialTransport) SetMode(ctx context.Context, mode string, bandwidthHz int) error {
	code := "2" // USB, the conventional data-mode slot on most rigs
	if mode == ModeLSB {
		code = "1"
	}
	_, err := s.command("MD" + code)
	return err
}

func (s *SerialTransport) SetPTT(ctx context.Context, on bool) error {
	cmd := "TX0"
	if !on {
		cmd = "RX"
	}
	if _, err := s.command(cmd); err != nil {
		return err
	}
	s.mu.Lock()
	s.pttOn = on
	s.mu.Unlock()
	return nil
}

func (s *SerialTransport) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port != nil
}
