package pubsub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func recvItem(t *testing.T, s *Subscription) Item {
	t.Helper()
	select {
	case it, ok := <-s.C():
		if !ok {
			t.Fatalf("subscription closed")
		}
		return it
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for item")
	}
	return Item{}
}

func TestHub_PrefixFanOut(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()

	all := h.Subscribe("")
	jobs := h.Subscribe("_lk.jobs.")
	spears := h.Subscribe("_lk.spears.")

	ctx := context.Background()
	if err := h.Publish(ctx, "_lk.jobs.job-finished", []byte("1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := h.Publish(ctx, "_lk.archive.package-build-success", []byte("2")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if it := recvItem(t, all); it.Topic != "_lk.jobs.job-finished" {
		t.Fatalf("all[0]: %+v", it)
	}
	if it := recvItem(t, all); it.Topic != "_lk.archive.package-build-success" {
		t.Fatalf("all[1]: %+v", it)
	}
	if it := recvItem(t, jobs); string(it.Payload) != "1" {
		t.Fatalf("jobs: %+v", it)
	}
	select {
	case it := <-spears.C():
		t.Fatalf("spears got unexpected item %+v", it)
	default:
	}
}

func TestHub_SlowSubscriberDropsOnlyForItself(t *testing.T) {
	var dropped []string
	h := NewHub(HubOptions{Buffer: 2, OnDrop: func(_ *Subscription, it Item) { dropped = append(dropped, it.Topic) }})
	defer h.Close()

	slow := h.Subscribe("")
	fast := h.Subscribe("")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.Publish(ctx, fmt.Sprintf("t.%d", i), nil); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		recvItem(t, fast)
	}
	if h.Dropped() != 1 || len(dropped) != 1 || dropped[0] != "t.2" {
		t.Fatalf("expected one drop of t.2, got %d %v", h.Dropped(), dropped)
	}
	if it := recvItem(t, slow); it.Topic != "t.0" {
		t.Fatalf("slow[0]: %+v", it)
	}
	if it := recvItem(t, slow); it.Topic != "t.1" {
		t.Fatalf("slow[1]: %+v", it)
	}
}

func TestHub_CloseSemantics(t *testing.T) {
	h := NewHub(HubOptions{})
	s := h.Subscribe("x")
	gone := h.Subscribe("x")
	gone.Close()
	gone.Close()
	if h.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Subscribers())
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-s.C(); ok {
		t.Fatalf("expected closed channel after hub close")
	}
	s.Close()
	if err := h.Publish(context.Background(), "x", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	late := h.Subscribe("")
	if _, ok := <-late.C(); ok {
		t.Fatalf("subscription on closed hub must be closed")
	}
}

func TestHub_CancelledContext(t *testing.T) {
	h := NewHub(HubOptions{})
	defer h.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Publish(ctx, "x", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
