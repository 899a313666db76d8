// Package pubsubtest holds the behaviour every pubsub.Publisher backend is
// expected to share, runnable against any implementation.
package pubsubtest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"xdao.co/lighthouse/cidutil"
	"xdao.co/lighthouse/pubsub"
)

// Harness is one fresh publisher plus a way to observe what it delivered.
type Harness struct {
	Publisher pubsub.Publisher
	// Delivered returns every item the backend has delivered so far, in
	// delivery order.
	Delivered func() []pubsub.Item
}

// NewPublisher constructs an isolated, open publisher for a test.
type NewPublisher func(t *testing.T) Harness

func RunPublisherConformance(t *testing.T, newPublisher NewPublisher) {
	t.Helper()

	t.Run("PublishDeliversInOrder", func(t *testing.T) {
		h := newPublisher(t)
		defer h.Publisher.Close()

		want := []pubsub.Item{
			{Topic: "_lk.jobs.job-accepted", Payload: []byte(`{"tag":"_lk.jobs.job-accepted"}`)},
			{Topic: "_lk.jobs.job-finished", Payload: []byte(`{"tag":"_lk.jobs.job-finished"}`)},
		}
		for _, it := range want {
			if err := h.Publisher.Publish(context.Background(), it.Topic, it.Payload); err != nil {
				t.Fatalf("Publish(%s) failed: %v", it.Topic, err)
			}
		}
		got := h.Delivered()
		if len(got) != len(want) {
			t.Fatalf("delivered %d items, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].Topic != want[i].Topic {
				t.Fatalf("item %d topic: got %q want %q", i, got[i].Topic, want[i].Topic)
			}
			if !bytes.Equal(got[i].Payload, want[i].Payload) {
				t.Fatalf("item %d payload mismatch", i)
			}
			if !cidutil.Matches(cidutil.String(want[i].Payload), got[i].Payload) {
				t.Fatalf("item %d payload bytes were altered in transit", i)
			}
		}
	})

	t.Run("CloseIdempotent", func(t *testing.T) {
		h := newPublisher(t)
		if err := h.Publisher.Close(); err != nil {
			t.Fatalf("Close(1) failed: %v", err)
		}
		if err := h.Publisher.Close(); err != nil {
			t.Fatalf("Close(2) failed: %v", err)
		}
	})

	t.Run("PublishAfterCloseFails", func(t *testing.T) {
		h := newPublisher(t)
		if err := h.Publisher.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		err := h.Publisher.Publish(context.Background(), "_lk.jobs.late", []byte("{}"))
		if !errors.Is(err, pubsub.ErrClosed) {
			t.Fatalf("Publish after Close: got err=%v want ErrClosed", err)
		}
		if n := len(h.Delivered()); n != 0 {
			t.Fatalf("closed publisher delivered %d items", n)
		}
	})
}
