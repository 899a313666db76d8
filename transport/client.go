package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero; the dial then blocks
	// until the connection is up.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Dialer replaces the default network dialer (tests use bufconn).
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// Client talks to a relay's submission and publish endpoints.
type Client struct {
	cc        *grpc.ClientConn
	router    RouterClient
	publisher PublisherClient

	// Timeout applies per Submit when non-zero.
	Timeout time.Duration
}

// Dial connects to endpoint (tcp://HOST:PORT or ipc:///path).
func Dial(endpoint string, opts DialOptions) (*Client, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	if opts.Dialer != nil {
		dialOpts = append(dialOpts, grpc.WithContextDialer(opts.Dialer))
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
		dialOpts = append(dialOpts, grpc.WithBlock())
	}

	cc, err := grpc.DialContext(ctx, ep.Target(), dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ep, err)
	}
	return &Client{cc: cc, router: NewRouterClient(cc), publisher: NewPublisherClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Submit sends one multi-part message to the router.
func (c *Client) Submit(ctx context.Context, frames ...[]byte) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	_, err := c.router.Submit(ctx, wrapperspb.Bytes(EncodeFrames(frames...)))
	return err
}

// Subscribe opens a stream of events whose topic starts with prefix. The
// stream ends when ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, prefix string) (*Subscription, error) {
	stream, err := c.publisher.Subscribe(ctx, wrapperspb.String(prefix))
	if err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Subscription is the receiving side of a Subscribe stream.
type Subscription struct {
	stream Publisher_SubscribeClient
}

// Recv returns the next (topic, payload) pair.
func (s *Subscription) Recv() (string, []byte, error) {
	m, err := s.stream.Recv()
	if err != nil {
		return "", nil, err
	}
	frames, err := DecodeFrames(m.GetValue())
	if err != nil {
		return "", nil, err
	}
	if len(frames) != 2 {
		return "", nil, fmt.Errorf("transport: expected [topic, payload], got %d frames", len(frames))
	}
	return string(frames[0]), frames[1], nil
}
