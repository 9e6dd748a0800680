package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ControlServiceName is the fully qualified gRPC service name
const ControlServiceName = "rnr.v1.ControlService"

// Control service method names
const (
	MethodSetMode        = "SetMode"
	MethodSetState       = "SetState"
	MethodSetFilePath    = "SetFilePath"
	MethodSetTypeFilters = "SetTypeFilters"
	MethodSetStartTime   = "SetStartTime"
	MethodGetStatus      = "GetStatus"
)

// FullMethod returns the /service/method path of a control method
func FullMethod(method string) string {
	return "/" + ControlServiceName + "/" + method
}

// ControlServer is the server API for the control service. Requests and
// responses are google.protobuf.Struct messages; see wire.go for the fields.
type ControlServer interface {
	SetMode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetFilePath(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTypeFilters(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetStartTime(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterControlServer registers srv on s
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

// unaryHandler adapts one ControlServer method to a grpc.MethodDesc handler
func unaryHandler(method string, call func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ControlServiceDesc describes rnr.v1.ControlService
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: MethodSetMode,
			Handler:    unaryHandler(MethodSetMode, ControlServer.SetMode),
		},
		{
			MethodName: MethodSetState,
			Handler:    unaryHandler(MethodSetState, ControlServer.SetState),
		},
		{
			MethodName: MethodSetFilePath,
			Handler:    unaryHandler(MethodSetFilePath, ControlServer.SetFilePath),
		},
		{
			MethodName: MethodSetTypeFilters,
			Handler:    unaryHandler(MethodSetTypeFilters, ControlServer.SetTypeFilters),
		},
		{
			MethodName: MethodSetStartTime,
			Handler:    unaryHandler(MethodSetStartTime, ControlServer.SetStartTime),
		},
		{
			MethodName: MethodGetStatus,
			Handler:    unaryHandler(MethodGetStatus, ControlServer.GetStatus),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rnr/v1/control.proto",
}
