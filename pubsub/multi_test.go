package pubsub

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingPublisher struct {
	name   string
	log    *[]string
	err    error
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, _ []byte) error {
	*r.log = append(*r.log, r.name+":"+topic)
	return r.err
}

func (r *recordingPublisher) Close() error {
	r.closed = true
	*r.log = append(*r.log, r.name+":close")
	return nil
}

func TestMulti_PublishesInOrderAndJoinsErrors(t *testing.T) {
	var log []string
	a := &recordingPublisher{name: "a", log: &log}
	b := &recordingPublisher{name: "b", log: &log, err: errors.New("down")}
	c := &recordingPublisher{name: "c", log: &log}
	m := Multi{Backends: []Named{{"a", a}, {"b", b}, {"c", c}}}

	err := m.Publish(context.Background(), "t", nil)
	if err == nil || !strings.Contains(err.Error(), "b: down") {
		t.Fatalf("expected joined error naming b, got %v", err)
	}
	if strings.Join(log, ",") != "a:t,b:t,c:t" {
		t.Fatalf("unexpected order %v", log)
	}

	log = log[:0]
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if strings.Join(log, ",") != "c:close,b:close,a:close" {
		t.Fatalf("unexpected close order %v", log)
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := (Multi{}).Publish(context.Background(), "t", nil); err == nil {
		t.Fatalf("expected error for empty Multi")
	}
}

func TestRegistry_OpenAll(t *testing.T) {
	var log []string
	MustRegister(Backend{
		Name: "test-recording",
		Open: func(cfg map[string]string) (Publisher, error) {
			if cfg["fail"] == "true" {
				return nil, errors.New("refused")
			}
			return &recordingPublisher{name: cfg["label"], log: &log}, nil
		},
	})

	if err := Register(Backend{Name: "test-recording", Open: func(map[string]string) (Publisher, error) { return nil, nil }}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := Register(Backend{Name: "no-open"}); err == nil {
		t.Fatalf("expected missing Open error")
	}

	named, err := OpenAll([]BackendConfig{
		{Name: "test-recording", ID: "first", Config: map[string]string{"label": "one"}},
		{Name: "test-recording", ID: "second", Config: map[string]string{"label": "two"}},
	})
	if err != nil {
		t.Fatalf("OpenAll: %v", err)
	}
	if len(named) != 2 || named[0].Name != "first" || named[1].Name != "second" {
		t.Fatalf("unexpected backends %+v", named)
	}

	log = log[:0]
	_, err = OpenAll([]BackendConfig{
		{Name: "test-recording", ID: "ok", Config: map[string]string{"label": "ok"}},
		{Name: "test-recording", ID: "bad", Config: map[string]string{"fail": "true"}},
	})
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("expected open error naming bad, got %v", err)
	}
	if strings.Join(log, ",") != "ok:close" {
		t.Fatalf("already opened backends must be closed, got %v", log)
	}

	if _, err := OpenAll([]BackendConfig{{Name: "test-recording"}, {Name: "test-recording"}}); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	if _, err := Open("no-such-backend", nil); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
