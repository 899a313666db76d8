package pubsub

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the per-subscriber queue length used when
// HubOptions.Buffer is zero.
const DefaultSubscriberBuffer = 256

type HubOptions struct {
	// Buffer is the per-subscriber queue length.
	Buffer int
	// OnDrop is called when an item is dropped for a slow subscriber.
	OnDrop func(sub *Subscription, item Item)
}

// Hub is an in-process, topic-prefix filtered fan-out.
//
// Publish never blocks on a subscriber: when a subscriber's queue is full
// the item is dropped for that subscriber only.
type Hub struct {
	opts HubOptions

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	dropped atomic.Uint64
}

var _ Publisher = (*Hub)(nil)

func NewHub(opts HubOptions) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultSubscriberBuffer
	}
	return &Hub{opts: opts, subs: map[*Subscription]struct{}{}}
}

// Subscription receives items whose topic starts with its prefix.
type Subscription struct {
	hub    *Hub
	prefix string
	ch     chan Item
	once   sync.Once
}

// Prefix returns the topic prefix this subscription filters on.
func (s *Subscription) Prefix() string { return s.prefix }

// C returns the delivery channel. It is closed when the subscription or the
// hub is closed.
func (s *Subscription) C() <-chan Item { return s.ch }

// Close detaches the subscription from its hub.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s]; ok {
		delete(s.hub.subs, s)
		s.closeChan()
	}
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.ch) })
}

// Subscribe registers a subscriber for topics starting with prefix. An empty
// prefix matches every topic. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub) Subscribe(prefix string) *Subscription {
	s := &Subscription{hub: h, prefix: prefix, ch: make(chan Item, h.opts.Buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.closeChan()
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Publish delivers (topic, payload) to every matching subscriber.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	item := Item{Topic: topic, Payload: payload}
	for s := range h.subs {
		if !strings.HasPrefix(topic, s.prefix) {
			continue
		}
		select {
		case s.ch <- item:
		default:
			h.dropped.Add(1)
			if h.opts.OnDrop != nil {
				h.opts.OnDrop(s, item)
			}
		}
	}
	return nil
}

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of per-subscriber deliveries dropped so far.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close detaches all subscribers and closes their channels.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for s := range h.subs {
		s.closeChan()
	}
	h.subs = map[*Subscription]struct{}{}
	return nil
}
