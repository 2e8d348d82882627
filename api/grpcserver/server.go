// Package grpcserver exposes a runtime's phase and pool occupancy over gRPC
// as the ballast.v1.Diagnostics service.
//
// Messages are protobuf well-known types, so the service needs no generated
// code on either side.
package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ballast/infra/memory"
	"ballast/service"
)

const serviceName = "ballast.v1.Diagnostics"

// DiagnosticsServer is the server side of ballast.v1.Diagnostics.
type DiagnosticsServer interface {
	GetPhase(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	AdvancePhase(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	ListPools(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Flush(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error)
}

// Server adapts a Runtime to gRPC.
type Server struct {
	rt *service.Runtime
}

func NewServer(rt *service.Runtime) *Server {
	return &Server{rt: rt}
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv DiagnosticsServer) {
	s.RegisterService(&serviceDesc, srv)
}

// -------------------- Queries --------------------

func (s *Server) GetPhase(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(s.rt.Phase().String()), nil
}

// ListPools returns {name: {capacity, live, free, high_water}}.
func (s *Server) ListPools(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	pools := make(map[string]any)
	for _, p := range s.rt.Pools() {
		pools[p.Name] = map[string]any{
			"capacity":   p.Stats.Capacity,
			"live":       p.Stats.Live,
			"free":       p.Stats.Free,
			"high_water": p.Stats.HighWater,
		}
	}
	out, err := structpb.NewStruct(pools)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode pools: %v", err)
	}
	return out, nil
}

// -------------------- Commands --------------------

func (s *Server) AdvancePhase(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	p, ok := memory.ParsePhase(req.GetValue())
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown phase %q", req.GetValue())
	}
	if err := s.rt.Advance(p); err != nil {
		if errors.Is(err, service.ErrPhaseOrder) {
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.String(s.rt.Phase().String()), nil
}

func (s *Server) Flush(context.Context, *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	n, err := s.rt.Flush()
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return wrapperspb.UInt64(uint64(n)), nil
}

// -------------------- Interceptors --------------------

// UnaryLogger logs every call with its duration and status code.
func UnaryLogger(log *slog.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("call",
			"method", info.FullMethod,
			"code", status.Code(err),
			"took", time.Since(start),
		)
		return resp, err
	}
}

// -------------------- Service descriptor --------------------

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DiagnosticsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPhase", Handler: unary("GetPhase", func(s DiagnosticsServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.GetPhase(ctx, in)
		})},
		{MethodName: "AdvancePhase", Handler: unary("AdvancePhase", func(s DiagnosticsServer, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
			return s.AdvancePhase(ctx, in)
		})},
		{MethodName: "ListPools", Handler: unary("ListPools", func(s DiagnosticsServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.ListPools(ctx, in)
		})},
		{MethodName: "Flush", Handler: unary("Flush", func(s DiagnosticsServer, ctx context.Context, in *emptypb.Empty) (any, error) {
			return s.Flush(ctx, in)
		})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ballast/v1/diagnostics.proto",
}

// unary builds a method handler that decodes a Req and calls call, routing
// through the server's interceptor when one is installed.
func unary[Req any](method string, call func(DiagnosticsServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		ds := srv.(DiagnosticsServer)
		if interceptor == nil {
			return call(ds, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(ds, ctx, req.(*Req))
		})
	}
}
