package radio

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NetworkTransport speaks the same line-oriented CAT dialect as
// SerialTransport but over a TCP connection, for rigcat-over-network setups
// (a rig control proxy, or a radio with a built-in network CAT port).
type NetworkTransport struct {
	addr string

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	events chan Event
}

func NewNetworkTransport(addr string) *NetworkTransport {
	return &NetworkTransport{addr: addr, events: make(chan Event, 8)}
}

// Events implements Notifier: link-state changes are pushed here as the
// transport notices them, so PTT can drop the moment a CAT exchange fails
// instead of waiting for a poll.
func (n *NetworkTransport) Events() <-chan Event {
	return n.events
}

// emit never blocks; a full channel drops the oldest-style non-delivery,
// the poller fallback still catches the state change.
func (n *NetworkTransport) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
	}
}

func (n *NetworkTransport) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		return fmt.Errorf("radio: network: dial %s: %w", n.addr, err)
	}
	n.mu.Lock()
	n.conn = conn
	n.reader = bufio.NewReader(conn)
	n.mu.Unlock()
	n.emit(Event{Kind: EventConnected})
	return nil
}

func (n *NetworkTransport) Disconnect() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	n.emit(Event{Kind: EventDisconnected, Reason: "closed by request"})
	if err != nil {
		return fmt.Errorf("radio: network: close: %w", err)
	}
	return nil
}

func (n *NetworkTransport) command(cmd string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return "", fmt.Errorf("radio: network: not connected")
	}
	if _, err := n.conn.Write([]byte(cmd + ";")); err != nil {
		n.dropLocked("write failed: " + err.Error())
		return "", fmt.Errorf("radio: network: write %q: %w", cmd, err)
	}
	n.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := n.reader.ReadString(';')
	if err != nil {
		n.dropLocked("read failed: " + err.Error())
		return "", fmt.Errorf("radio: network: read reply to %q: %w", cmd, err)
	}
	return strings.TrimSuffix(line, ";"), nil
}

// dropLocked tears the connection down after an I/O failure and pushes the
// disconnect event. Caller holds n.mu.
func (n *NetworkTransport) dropLocked(reason string) {
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
	n.emit(Event{Kind: EventDisconnected, Reason: reason})
}

func (n *NetworkTransport) SetFrequency(ctx context.Context, hz int64) error {
	_, err := n.command(fmt.Sprintf("FA%011d", hz))
	return err
}

func (n *NetworkTransport) GetFrequency(ctx context.Context) (int64, error) {
	reply, err := n.command("FA")
	if err != nil {
		return 0, err
	}
	hz, err := strconv.ParseInt(strings.TrimPrefix(reply, "FA"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("radio: network: parse frequency reply %q: %w", reply, err)
	}
	return hz, nil
}

func (n *NetworkTransport) SetMode(ctx context.Context, mode string, bandwidthHz int) error {
	_, err := n.command("MD2")
	return err
}

func (n *NetworkTransport) SetPTT(ctx context.Context, on bool) error {
	cmd := "TX0"
	if !on {
		cmd = "RX"
	}
	_, err := n.command(cmd)
	return err
}

func (n *NetworkTransport) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil
}
