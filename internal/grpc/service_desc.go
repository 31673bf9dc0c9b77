package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name
const ServiceName = "currencyconverter.v1.Converter"

// ConverterService is the server API for currencyconverter.v1.Converter
type ConverterService interface {
	Convert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRecent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Converter service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConverterService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Convert", Handler: unaryHandler("Convert", ConverterService.Convert)},
		{MethodName: "ListRecent", Handler: unaryHandler("ListRecent", ConverterService.ListRecent)},
		{MethodName: "GetStatus", Handler: unaryHandler("GetStatus", ConverterService.GetStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "currencyconverter/v1/converter.proto",
}

// RegisterConverterServer registers the server with a gRPC server
func RegisterConverterServer(s grpc.ServiceRegistrar, srv ConverterService) {
	s.RegisterService(&ServiceDesc, srv)
}

type structMethod func(ConverterService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call structMethod) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ConverterService), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ConverterService), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ConverterClient calls currencyconverter.v1.Converter
type ConverterClient struct {
	cc grpc.ClientConnInterface
}

// NewConverterClient creates a client over an existing connection
func NewConverterClient(cc grpc.ClientConnInterface) *ConverterClient {
	return &ConverterClient{cc: cc}
}

func (c *ConverterClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Convert calls Converter.Convert
func (c *ConverterClient) Convert(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Convert", in, opts...)
}

// ListRecent calls Converter.ListRecent
func (c *ConverterClient) ListRecent(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListRecent", in, opts...)
}

// GetStatus calls Converter.GetStatus
func (c *ConverterClient) GetStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetStatus", in, opts...)
}
