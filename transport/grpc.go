package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Service and method names. Messages are protobuf well-known types, so no
// protoc step is needed; every BytesValue carries EncodeFrames output.
//
//	service Router    { rpc Submit(google.protobuf.BytesValue) returns (google.protobuf.Empty); }
//	service Publisher { rpc Subscribe(google.protobuf.StringValue) returns (stream google.protobuf.BytesValue); }
const (
	routerServiceName    = "xdao.lighthouse.v1.Router"
	publisherServiceName = "xdao.lighthouse.v1.Publisher"

	submitMethod    = "/" + routerServiceName + "/Submit"
	subscribeMethod = "/" + publisherServiceName + "/Subscribe"
)

// RouterServer is the server API for the Router service.
type RouterServer interface {
	Submit(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

// UnimplementedRouterServer can be embedded to have forward compatible implementations.
type UnimplementedRouterServer struct{}

func (UnimplementedRouterServer) Submit(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Submit not implemented")
}

// RegisterRouterServer registers the Router service on a gRPC server.
func RegisterRouterServer(s grpc.ServiceRegistrar, srv RouterServer) {
	s.RegisterService(&Router_ServiceDesc, srv)
}

// RouterClient is the client API for the Router service.
type RouterClient interface {
	Submit(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type routerClient struct{ cc grpc.ClientConnInterface }

func NewRouterClient(cc grpc.ClientConnInterface) RouterClient { return &routerClient{cc: cc} }

func (c *routerClient) Submit(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, submitMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Router_Submit_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RouterServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RouterServer).Submit(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Router_ServiceDesc is the grpc.ServiceDesc for the Router service.
var Router_ServiceDesc = grpc.ServiceDesc{
	ServiceName: routerServiceName,
	HandlerType: (*RouterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: _Router_Submit_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lighthouse.proto",
}

// PublisherServer is the server API for the Publisher service.
type PublisherServer interface {
	Subscribe(*wrapperspb.StringValue, Publisher_SubscribeServer) error
}

// UnimplementedPublisherServer can be embedded to have forward compatible implementations.
type UnimplementedPublisherServer struct{}

func (UnimplementedPublisherServer) Subscribe(*wrapperspb.StringValue, Publisher_SubscribeServer) error {
	return status.Error(codes.Unimplemented, "method Subscribe not implemented")
}

// RegisterPublisherServer registers the Publisher service on a gRPC server.
func RegisterPublisherServer(s grpc.ServiceRegistrar, srv PublisherServer) {
	s.RegisterService(&Publisher_ServiceDesc, srv)
}

// Publisher_SubscribeServer is the server side of a Subscribe stream.
type Publisher_SubscribeServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type publisherSubscribeServer struct{ grpc.ServerStream }

func (x *publisherSubscribeServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func _Publisher_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PublisherServer).Subscribe(in, &publisherSubscribeServer{stream})
}

// PublisherClient is the client API for the Publisher service.
type PublisherClient interface {
	Subscribe(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (Publisher_SubscribeClient, error)
}

// Publisher_SubscribeClient is the client side of a Subscribe stream.
type Publisher_SubscribeClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type publisherClient struct{ cc grpc.ClientConnInterface }

func NewPublisherClient(cc grpc.ClientConnInterface) PublisherClient { return &publisherClient{cc: cc} }

func (c *publisherClient) Subscribe(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (Publisher_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &Publisher_ServiceDesc.Streams[0], subscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &publisherSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type publisherSubscribeClient struct{ grpc.ClientStream }

func (x *publisherSubscribeClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Publisher_ServiceDesc is the grpc.ServiceDesc for the Publisher service.
var Publisher_ServiceDesc = grpc.ServiceDesc{
	ServiceName: publisherServiceName,
	HandlerType: (*PublisherServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       _Publisher_Subscribe_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "lighthouse.proto",
}
