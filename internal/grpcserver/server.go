// Package grpcserver implements the AnalysisService gRPC server.
//
// It delegates all business logic to analysis.Service and handles only
// the gRPC transport concerns: error mapping and conversion between the
// domain model and the well-known protobuf message types the service
// speaks (StringValue, Struct, Empty).
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"jobmate/analysis-service/internal/analysis"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "jobmate.analysis.v1.AnalysisService"

// Server implements the AnalysisService RPCs.
type Server struct {
	svc *analysis.Service
	log *zap.Logger
}

// NewServer constructs a gRPC Server backed by the given analysis.Service.
func NewServer(svc *analysis.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log}
}

// Register mounts the analysis and health services on gs.
func Register(gs *grpc.Server, s *Server) *health.Server {
	gs.RegisterService(&serviceDesc, s)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return hs
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// EnqueueAnalysis creates (or returns the active) analysis job for an
// application and returns its id.
func (s *Server) EnqueueAnalysis(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	j, _, err := s.svc.Enqueue(ctx, req.GetValue())
	if err != nil {
		return nil, s.toGRPCError(err)
	}
	return wrapperspb.String(j.ID), nil
}

// GetAnalysisStatus returns the job report of an analysis job.
func (s *Server) GetAnalysisStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	j, err := s.svc.Status(ctx, req.GetValue())
	if err != nil {
		return nil, s.toGRPCError(err)
	}
	return toStruct(j.Report())
}

// GetLatestResult returns the result of the newest completed analysis of
// an application.
func (s *Server) GetLatestResult(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	j, err := s.svc.LatestResult(ctx, req.GetValue())
	if err != nil {
		return nil, s.toGRPCError(err)
	}
	return toStruct(j.Report())
}

// RequestCancellation cancels a queued job or flags a running one.
func (s *Server) RequestCancellation(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if _, err := s.svc.RequestCancellation(ctx, req.GetValue()); err != nil {
		return nil, s.toGRPCError(err)
	}
	return &emptypb.Empty{}, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// toGRPCError maps domain errors to gRPC status errors.
func (s *Server) toGRPCError(err error) error {
	switch {
	case errors.Is(err, analysis.ErrNotFound),
		errors.Is(err, analysis.ErrApplicationNotFound),
		errors.Is(err, analysis.ErrNotAnalyzed):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, analysis.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.log.Error("rpc failed", zap.Error(err))
	return status.Error(codes.Internal, "internal server error")
}

// toStruct converts a report through its JSON form so both transports
// expose the same field names.
func toStruct(r analysis.Report) (*structpb.Struct, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode report: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode report: %v", err))
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode report: %v", err))
	}
	return st, nil
}

// ─── Service descriptor ──────────────────────────────────────────────────────

type analysisServer interface {
	EnqueueAnalysis(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	GetAnalysisStatus(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetLatestResult(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	RequestCancellation(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*analysisServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "EnqueueAnalysis", Handler: unary("EnqueueAnalysis", analysisServer.EnqueueAnalysis)},
		{MethodName: "GetAnalysisStatus", Handler: unary("GetAnalysisStatus", analysisServer.GetAnalysisStatus)},
		{MethodName: "GetLatestResult", Handler: unary("GetLatestResult", analysisServer.GetLatestResult)},
		{MethodName: "RequestCancellation", Handler: unary("RequestCancellation", analysisServer.RequestCancellation)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "jobmate/analysis/v1/analysis.proto",
}

// unary adapts a typed server method to grpc.MethodDesc's handler shape.
func unary[Resp proto.Message](method string, call func(analysisServer, context.Context, *wrapperspb.StringValue) (Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(analysisServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(analysisServer), ctx, req.(*wrapperspb.StringValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}
