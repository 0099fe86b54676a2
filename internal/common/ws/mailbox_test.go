package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"transit-sync/internal/general/clock"
)

func TestMailboxDrainReturnsBuffered(t *testing.T) {
	m := NewMailbox(clock.Real(), 2)
	_ = m.Deliver([]byte("a"))
	_ = m.Deliver([]byte("b"))
	_ = m.Deliver([]byte("c"))

	got, err := m.Drain(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || string(got[0]) != "b" || string(got[1]) != "c" {
		t.Fatalf("Drain = %q", got)
	}
	if m.Dropped() != 1 {
		t.Fatalf("Dropped = %d", m.Dropped())
	}
}

func TestMailboxDrainWaitsForDelivery(t *testing.T) {
	m := NewMailbox(clock.Real(), 0)

	done := make(chan [][]byte, 1)
	go func() {
		frames, _ := m.Drain(context.Background(), 5*time.Second)
		done <- frames
	}()

	time.Sleep(20 * time.Millisecond)
	_ = m.Deliver([]byte("x"))

	select {
	case frames := <-done:
		if len(frames) != 1 || string(frames[0]) != "x" {
			t.Fatalf("Drain = %q", frames)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not wake on delivery")
	}
}

func TestMailboxDrainTimesOutEmpty(t *testing.T) {
	clk := clock.Fake(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	m := NewMailbox(clk, 0)

	done := make(chan error, 1)
	go func() {
		frames, err := m.Drain(context.Background(), 25*time.Second)
		if err == nil && len(frames) != 0 {
			err = errors.New("expected no frames")
		}
		done <- err
	}()

	clk.WaitForTimers(1)
	clk.Advance(25 * time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Drain ignored the wait bound")
	}
}

func TestMailboxCloseWakesDrain(t *testing.T) {
	m := NewMailbox(clock.Real(), 0)

	done := make(chan error, 1)
	go func() {
		_, err := m.Drain(context.Background(), 5*time.Second)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	m.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrMailboxClosed) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not wake Drain")
	}
	if err := m.Deliver([]byte("late")); !errors.Is(err, ErrMailboxClosed) {
		t.Fatalf("Deliver after Close = %v", err)
	}
}
