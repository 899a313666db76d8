// Package pubsub carries accepted events from the broker to subscribers.
//
// The in-process Hub is always present and is what the gRPC publish endpoint
// serves. Additional backends (NATS, Redis) register themselves in init() and
// are opened by name from config; binaries enable them with blank imports.
package pubsub

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing to a closed publisher.
var ErrClosed = errors.New("pubsub: publisher closed")

// Publisher is the outbound side of the publish channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Item is one published (topic, payload) pair.
type Item struct {
	Topic   string
	Payload []byte
}
