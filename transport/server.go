// Package transport carries multi-part messages between senders, the relay
// and subscribers over gRPC.
//
// The submission endpoint (Router) queues every submitted message, prefixed
// with an opaque routing id, for a single consumer. The publish endpoint
// (PublishServer) streams (topic, payload) pairs from a pubsub.Hub to
// subscribers filtering by topic prefix.
package transport

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"xdao.co/lighthouse/errs"
)

// ErrClosed is returned by operations on a closed router or server.
var ErrClosed = errors.New("transport: closed")

// DefaultInboxSize is the router queue length used when Options.InboxSize is zero.
const DefaultInboxSize = 1024

type Options struct {
	Logger *zap.Logger
	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
	// InboxSize bounds the router queue. Ignored by PublishServer.
	InboxSize int
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) serverOptions() []grpc.ServerOption {
	if o.MaxMsgBytes <= 0 {
		return nil
	}
	return []grpc.ServerOption{grpc.MaxRecvMsgSize(o.MaxMsgBytes), grpc.MaxSendMsgSize(o.MaxMsgBytes)}
}

// server owns one grpc.Server and the listener it was bound to.
type server struct {
	srv *grpc.Server
	log *zap.Logger

	mu     sync.Mutex
	lis    net.Listener
	closed bool
}

// Bind listens on endpoint and starts serving in the background.
func (s *server) Bind(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.lis != nil {
		return errs.New(errs.KindBind, "LH-BIND-004", "already bound to "+EndpointFromAddr(s.lis.Addr()))
	}
	lis, err := Listen(endpoint)
	if err != nil {
		return err
	}
	s.lis = lis
	go func() {
		if err := s.srv.Serve(lis); err != nil {
			s.log.Error("serve failed", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}()
	return nil
}

// Serve serves on an existing listener and blocks until the server stops.
func (s *server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.lis == nil {
		s.lis = lis
	}
	s.mu.Unlock()
	return s.srv.Serve(lis)
}

// Addr returns the bound address, or nil before Bind/Serve.
func (s *server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Bound reports whether the server has a listener.
func (s *server) Bound() bool {
	return s.Addr() != nil
}

// stop stops the grpc server, which also closes its listeners.
func (s *server) stop() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.mu.Unlock()
	s.srv.Stop()
	return true
}
