package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeClockAdvanceFiresTimer(t *testing.T) {
	fc := NewFakeClock(time.Unix(0, 0).UTC())
	timer := fc.NewTimer(5 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("timer fired before advance")
	default:
	}

	fc.Advance(5 * time.Second)

	select {
	case got := <-timer.C():
		want := time.Unix(5, 0).UTC()
		if !got.Equal(want) {
			t.Fatalf("fired at %v, want %v", got, want)
		}
	default:
		t.Fatal("timer did not fire after advance")
	}
}

func TestFakeClockStopPreventsFiring(t *testing.T) {
	fc := NewFakeClock(time.Unix(0, 0).UTC())
	timer := fc.NewTimer(time.Second)
	if !timer.Stop() {
		t.Fatal("Stop returned false for a live timer")
	}
	fc.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestSlotClockFiresSlotStartAligned(t *testing.T) {
	fc := NewFakeClock(time.Unix(0, 0).UTC())
	sc := NewSlotClock(fc, Params{
		SlotPeriod:     15 * time.Second,
		SubWindowCount: 2,
		EncodeLeadTime: 2 * time.Second,
		TransmitOffset: 200 * time.Millisecond,
	}, 32)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sc.Run(ctx)

	var kinds []EventKind
	done := make(chan struct{})
	go func() {
		for i := 0; i < 4; i++ {
			advanceUntilEvent(t, fc, sc.Events(), &kinds)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for slot clock events")
	}

	if kinds[0] != SlotStart {
		t.Fatalf("first event = %v, want SlotStart", kinds[0])
	}
}

// advanceUntilEvent nudges the fake clock forward in small steps until the
// slot clock goroutine (blocked on a timer) produces one event.
func advanceUntilEvent(t *testing.T, fc *FakeClock, events <-chan Event, kinds *[]EventKind) {
	t.Helper()
	for i := 0; i < 20000; i++ {
		fc.Advance(time.Millisecond)
		select {
		case ev := <-events:
			*kinds = append(*kinds, ev.Kind)
			return
		default:
		}
	}
	t.Fatal("no event fired within bound")
}
