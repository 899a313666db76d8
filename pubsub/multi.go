package pubsub

import (
	"context"
	"errors"
	"fmt"
)

// Named associates a publisher with a stable backend name.
type Named struct {
	Name      string
	Publisher Publisher
}

// Multi publishes every item to all backends in slice order.
//
// A failing backend does not stop delivery to the ones after it; the
// failures are joined into the returned error.
type Multi struct {
	Backends []Named
}

var _ Publisher = Multi{}

func (m Multi) Publish(ctx context.Context, topic string, payload []byte) error {
	if len(m.Backends) == 0 {
		return errors.New("pubsub: Multi has no backends")
	}
	var errList []error
	for _, b := range m.Backends {
		if b.Publisher == nil {
			errList = append(errList, fmt.Errorf("pubsub: nil publisher for backend %q", b.Name))
			continue
		}
		if err := b.Publisher.Publish(ctx, topic, payload); err != nil {
			errList = append(errList, fmt.Errorf("%s: %w", b.Name, err))
		}
	}
	return errors.Join(errList...)
}

// Close closes backends in reverse order and returns the first error.
func (m Multi) Close() error {
	var firstErr error
	for i := len(m.Backends) - 1; i >= 0; i-- {
		p := m.Backends[i].Publisher
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
