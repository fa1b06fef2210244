package radio

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestControllerStartTracksConnection(t *testing.T) {
	c := NewController(NewNoneTransport())
	if c.IsConnected() {
		t.Fatal("expected disconnected before Start")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("expected connected after Start")
	}
}

func TestControllerSetFrequencyUpdatesState(t *testing.T) {
	c := NewController(NewNoneTransport())
	_ = c.Start(context.Background())
	if err := c.SetFrequency(context.Background(), 14078000); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if c.Frequency() != 14078000 {
		t.Fatalf("Frequency() = %d, want 14078000", c.Frequency())
	}
}

func TestControllerEventsNilWithoutNotifier(t *testing.T) {
	c := NewController(NewNoneTransport())
	if c.TransportEvents() != nil {
		t.Fatal("NoneTransport does not notify; expected nil channel")
	}
}

func TestNetworkTransportEmitsDisconnectOnIOFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Accept the link, then drop it without ever answering, so the
		// transport's next command read fails.
		conn.Close()
	}()

	tr := NewNetworkTransport(ln.Addr().String())
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := tr.GetFrequency(context.Background()); err == nil {
		t.Fatal("expected command against a dropped link to fail")
	}
	if tr.IsConnected() {
		t.Fatal("expected transport to mark itself disconnected")
	}

	var sawDisconnect bool
	deadline := time.After(time.Second)
	for !sawDisconnect {
		select {
		case ev := <-tr.Events():
			if ev.Kind == EventDisconnected {
				sawDisconnect = true
				if ev.Reason == "" {
					t.Fatal("disconnect event must carry a reason")
				}
			}
		case <-deadline:
			t.Fatal("no disconnect event emitted")
		}
	}
}

func TestControllerStopDropsPTTFirst(t *testing.T) {
	c := NewController(NewNoneTransport())
	_ = c.Start(context.Background())
	_ = c.SetPTT(context.Background(), true)
	if !c.PTTActive() {
		t.Fatal("expected ptt active")
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.IsConnected() {
		t.Fatal("expected disconnected after Stop")
	}
}
