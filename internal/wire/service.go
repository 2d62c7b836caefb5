// Copyright 2025 Joseph Cumines
//
// gRPC service descriptors and client stubs

package wire

import (
	"context"

	"google.golang.org/grpc"
)

// Fully-qualified method names.
const (
	StreamAccessibilityFullMethodName     = "/accessibility.AccessibilityService/StreamAccessibility"
	GetAccessibilityTreeFullMethodName    = "/accessibility.AccessibilityService/GetAccessibilityTree"
	UpdateAccessibilityDataFullMethodName = "/accessibility.AccessibilityService/UpdateAccessibilityData"
	GetCurrentWindowInfoFullMethodName    = "/window_info.WindowInfoService/GetCurrentWindowInfo"
)

// Service names, as reported by the health service.
const (
	AccessibilityServiceName = "accessibility.AccessibilityService"
	WindowInfoServiceName    = "window_info.WindowInfoService"
)

// withCodec prepends the CBOR content-subtype so callers never need to pass
// it; an explicit option from the caller still wins.
func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// ============================================================================
// AccessibilityService
// ============================================================================

// AccessibilityServiceServer is the server API for AccessibilityService.
type AccessibilityServiceServer interface {
	// StreamAccessibility is the long-lived device stream: the device sends
	// heartbeats and replies, the server sends commands.
	StreamAccessibility(grpc.BidiStreamingServer[ClientResponse, ServerCommand]) error
	// GetAccessibilityTree fetches a tree from a connected device.
	GetAccessibilityTree(context.Context, *GetAccessibilityTreeRequest) (*GetAccessibilityTreeResponse, error)
	// UpdateAccessibilityData lets a device push a reply out-of-band.
	UpdateAccessibilityData(context.Context, *UpdateAccessibilityDataRequest) (*UpdateAccessibilityDataResponse, error)
}

// RegisterAccessibilityServiceServer registers srv with s.
func RegisterAccessibilityServiceServer(s grpc.ServiceRegistrar, srv AccessibilityServiceServer) {
	s.RegisterService(&AccessibilityServiceDesc, srv)
}

func streamAccessibilityHandler(srv any, stream grpc.ServerStream) error {
	return srv.(AccessibilityServiceServer).StreamAccessibility(&grpc.GenericServerStream[ClientResponse, ServerCommand]{ServerStream: stream})
}

func getAccessibilityTreeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetAccessibilityTreeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessibilityServiceServer).GetAccessibilityTree(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetAccessibilityTreeFullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessibilityServiceServer).GetAccessibilityTree(ctx, req.(*GetAccessibilityTreeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func updateAccessibilityDataHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdateAccessibilityDataRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccessibilityServiceServer).UpdateAccessibilityData(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: UpdateAccessibilityDataFullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AccessibilityServiceServer).UpdateAccessibilityData(ctx, req.(*UpdateAccessibilityDataRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// AccessibilityServiceDesc is the grpc.ServiceDesc for AccessibilityService.
var AccessibilityServiceDesc = grpc.ServiceDesc{
	ServiceName: AccessibilityServiceName,
	HandlerType: (*AccessibilityServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetAccessibilityTree",
			Handler:    getAccessibilityTreeHandler,
		},
		{
			MethodName: "UpdateAccessibilityData",
			Handler:    updateAccessibilityDataHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamAccessibility",
			Handler:       streamAccessibilityHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "accessibility.proto",
}

// AccessibilityServiceClient is the client API for AccessibilityService.
type AccessibilityServiceClient interface {
	StreamAccessibility(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[ClientResponse, ServerCommand], error)
	GetAccessibilityTree(ctx context.Context, in *GetAccessibilityTreeRequest, opts ...grpc.CallOption) (*GetAccessibilityTreeResponse, error)
	UpdateAccessibilityData(ctx context.Context, in *UpdateAccessibilityDataRequest, opts ...grpc.CallOption) (*UpdateAccessibilityDataResponse, error)
}

type accessibilityServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAccessibilityServiceClient returns a client that speaks CBOR over cc.
func NewAccessibilityServiceClient(cc grpc.ClientConnInterface) AccessibilityServiceClient {
	return &accessibilityServiceClient{cc: cc}
}

func (c *accessibilityServiceClient) StreamAccessibility(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[ClientResponse, ServerCommand], error) {
	stream, err := c.cc.NewStream(ctx, &AccessibilityServiceDesc.Streams[0], StreamAccessibilityFullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[ClientResponse, ServerCommand]{ClientStream: stream}, nil
}

func (c *accessibilityServiceClient) GetAccessibilityTree(ctx context.Context, in *GetAccessibilityTreeRequest, opts ...grpc.CallOption) (*GetAccessibilityTreeResponse, error) {
	out := new(GetAccessibilityTreeResponse)
	if err := c.cc.Invoke(ctx, GetAccessibilityTreeFullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *accessibilityServiceClient) UpdateAccessibilityData(ctx context.Context, in *UpdateAccessibilityDataRequest, opts ...grpc.CallOption) (*UpdateAccessibilityDataResponse, error) {
	out := new(UpdateAccessibilityDataResponse)
	if err := c.cc.Invoke(ctx, UpdateAccessibilityDataFullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ============================================================================
// WindowInfoService
// ============================================================================

// WindowInfoServiceServer is the server API for WindowInfoService.
type WindowInfoServiceServer interface {
	GetCurrentWindowInfo(context.Context, *WindowInfoRequest) (*WindowInfoResponse, error)
}

// RegisterWindowInfoServiceServer registers srv with s.
func RegisterWindowInfoServiceServer(s grpc.ServiceRegistrar, srv WindowInfoServiceServer) {
	s.RegisterService(&WindowInfoServiceDesc, srv)
}

func getCurrentWindowInfoHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(WindowInfoRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WindowInfoServiceServer).GetCurrentWindowInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetCurrentWindowInfoFullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WindowInfoServiceServer).GetCurrentWindowInfo(ctx, req.(*WindowInfoRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// WindowInfoServiceDesc is the grpc.ServiceDesc for WindowInfoService.
var WindowInfoServiceDesc = grpc.ServiceDesc{
	ServiceName: WindowInfoServiceName,
	HandlerType: (*WindowInfoServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetCurrentWindowInfo",
			Handler:    getCurrentWindowInfoHandler,
		},
	},
	Metadata: "window_info.proto",
}

// WindowInfoServiceClient is the client API for WindowInfoService.
type WindowInfoServiceClient interface {
	GetCurrentWindowInfo(ctx context.Context, in *WindowInfoRequest, opts ...grpc.CallOption) (*WindowInfoResponse, error)
}

type windowInfoServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewWindowInfoServiceClient returns a client that speaks CBOR over cc.
func NewWindowInfoServiceClient(cc grpc.ClientConnInterface) WindowInfoServiceClient {
	return &windowInfoServiceClient{cc: cc}
}

func (c *windowInfoServiceClient) GetCurrentWindowInfo(ctx context.Context, in *WindowInfoRequest, opts ...grpc.CallOption) (*WindowInfoResponse, error) {
	out := new(WindowInfoResponse)
	if err := c.cc.Invoke(ctx, GetCurrentWindowInfoFullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
