package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Router is the inbound submission endpoint.
//
// Each submitted message is queued as [routing-id, frames...] before the
// Submit RPC returns, so sequential submissions from one sender keep their
// order. The routing id is "<peer-addr>#<seq>" and is never forwarded.
type Router struct {
	UnimplementedRouterServer
	server

	inbox chan Message
	done  chan struct{}
	seq   atomic.Uint64
}

var _ RouterServer = (*Router)(nil)

func NewRouter(opts Options) *Router {
	size := opts.InboxSize
	if size <= 0 {
		size = DefaultInboxSize
	}
	r := &Router{
		inbox: make(chan Message, size),
		done:  make(chan struct{}),
	}
	r.server = server{
		srv: grpc.NewServer(opts.serverOptions()...),
		log: opts.logger().With(zap.String("component", "router")),
	}
	RegisterRouterServer(r.srv, r)
	return r
}

func (r *Router) Submit(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	frames, err := DecodeFrames(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if len(frames) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty message")
	}
	msg := make(Message, 0, len(frames)+1)
	msg = append(msg, []byte(r.routingID(ctx)))
	msg = append(msg, frames...)

	select {
	case r.inbox <- msg:
		return &emptypb.Empty{}, nil
	case <-r.done:
		return nil, status.Error(codes.Unavailable, ErrClosed.Error())
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	}
}

// Recv returns the next queued message. It blocks until a message arrives,
// ctx is done, or the router is closed (ErrClosed).
func (r *Router) Recv(ctx context.Context) (Message, error) {
	select {
	case msg := <-r.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, ErrClosed
	}
}

// Pending returns the number of queued messages.
func (r *Router) Pending() int { return len(r.inbox) }

// Close stops accepting submissions and unblocks Recv.
func (r *Router) Close() error {
	if r.stop() {
		close(r.done)
	}
	return nil
}

func (r *Router) routingID(ctx context.Context) string {
	addr := "local"
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil && p.Addr.String() != "" {
		addr = p.Addr.String()
	}
	return fmt.Sprintf("%s#%d", addr, r.seq.Add(1))
}
