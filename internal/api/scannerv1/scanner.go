// Package scannerv1 describes the cc42scan.v1.Scanner gRPC service.
//
// Every method exchanges google.protobuf.Struct messages, so the service rides
// on the default proto codec; internal/convert owns the field layout.
package scannerv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "cc42scan.v1.Scanner"

const (
	MethodRegister     = "Register"
	MethodLogin        = "Login"
	MethodPromote      = "Promote"
	MethodGetDoc       = "GetDoc"
	MethodListDocs     = "ListDocs"
	MethodApplyDocs    = "ApplyDocs"
	MethodChangesSince = "ChangesSince"
	MethodMaxSeq       = "MaxSeq"
)

// FullMethod returns "/cc42scan.v1.Scanner/<method>".
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// ScannerServer is the server API of the Scanner service.
type ScannerServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Promote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDoc(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDocs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyDocs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangesSince(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MaxSeq(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(ScannerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn call) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return fn(srv.(ScannerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(ScannerServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc registers a ScannerServer on a grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ScannerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodRegister, ScannerServer.Register),
		unary(MethodLogin, ScannerServer.Login),
		unary(MethodPromote, ScannerServer.Promote),
		unary(MethodGetDoc, ScannerServer.GetDoc),
		unary(MethodListDocs, ScannerServer.ListDocs),
		unary(MethodApplyDocs, ScannerServer.ApplyDocs),
		unary(MethodChangesSince, ScannerServer.ChangesSince),
		unary(MethodMaxSeq, ScannerServer.MaxSeq),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cc42scan/v1/scanner.proto",
}

// RegisterScannerServer attaches srv to s.
func RegisterScannerServer(s grpc.ServiceRegistrar, srv ScannerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ScannerClient calls the Scanner service.
type ScannerClient struct{ cc grpc.ClientConnInterface }

// NewScannerClient wraps a client connection.
func NewScannerClient(cc grpc.ClientConnInterface) *ScannerClient { return &ScannerClient{cc: cc} }

// Call invokes one unary method.
func (c *ScannerClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
