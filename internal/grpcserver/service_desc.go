package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tokenledger.v1.TokenLedger"

const (
	methodGetBalance  = "GetBalance"
	methodOpenBalance = "OpenBalance"
	methodDeduct      = "Deduct"
	methodCredit      = "Credit"
	methodHistory     = "History"
	methodRenew       = "Renew"
)

// TokenLedgerServer is the server side of tokenledger.v1.TokenLedger.
// Every message is a google.protobuf.Struct.
type TokenLedgerServer interface {
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deduct(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Credit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Renew(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(TokenLedgerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes tokenledger.v1.TokenLedger for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TokenLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetBalance, Handler: unaryHandler(methodGetBalance, TokenLedgerServer.GetBalance)},
		{MethodName: methodOpenBalance, Handler: unaryHandler(methodOpenBalance, TokenLedgerServer.OpenBalance)},
		{MethodName: methodDeduct, Handler: unaryHandler(methodDeduct, TokenLedgerServer.Deduct)},
		{MethodName: methodCredit, Handler: unaryHandler(methodCredit, TokenLedgerServer.Credit)},
		{MethodName: methodHistory, Handler: unaryHandler(methodHistory, TokenLedgerServer.History)},
		{MethodName: methodRenew, Handler: unaryHandler(methodRenew, TokenLedgerServer.Renew)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tokenledger/v1/tokenledger.proto",
}

// Register attaches server to registrar.
func Register(registrar grpc.ServiceRegistrar, server TokenLedgerServer) {
	registrar.RegisterService(&ServiceDesc, server)
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unaryHandler(method string, call unaryCall) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(structpb.Struct)
		if err := decode(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TokenLedgerServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, request any) (any, error) {
			return call(srv.(TokenLedgerServer), ctx, request.(*structpb.Struct))
		}
		return interceptor(ctx, request, info, handler)
	}
}
