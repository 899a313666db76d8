package transport

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/lighthouse/pubsub"
)

// PublishServer streams hub items to subscribers as [topic, payload].
type PublishServer struct {
	UnimplementedPublisherServer
	server

	hub *pubsub.Hub
}

var _ PublisherServer = (*PublishServer)(nil)

func NewPublishServer(hub *pubsub.Hub, opts Options) *PublishServer {
	p := &PublishServer{hub: hub}
	p.server = server{
		srv: grpc.NewServer(opts.serverOptions()...),
		log: opts.logger().With(zap.String("component", "publisher")),
	}
	RegisterPublisherServer(p.srv, p)
	return p
}

// Subscribe serves one subscriber until it disconnects or the hub closes.
func (p *PublishServer) Subscribe(in *wrapperspb.StringValue, stream Publisher_SubscribeServer) error {
	prefix := in.GetValue()
	sub := p.hub.Subscribe(prefix)
	defer sub.Close()

	remote := ""
	if pr, ok := peer.FromContext(stream.Context()); ok && pr.Addr != nil {
		remote = pr.Addr.String()
	}
	p.log.Debug("subscriber attached", zap.String("prefix", prefix), zap.String("peer", remote))
	defer p.log.Debug("subscriber detached", zap.String("prefix", prefix), zap.String("peer", remote))

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case it, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := stream.Send(wrapperspb.Bytes(EncodeFrames([]byte(it.Topic), it.Payload))); err != nil {
				return err
			}
		}
	}
}

// Close disconnects all subscribers and releases the listener.
func (p *PublishServer) Close() error {
	p.stop()
	return nil
}
