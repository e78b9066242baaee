package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls the AnalysisService over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) EnqueueAnalysis(ctx context.Context, applicationID string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/EnqueueAnalysis", wrapperspb.String(applicationID), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

func (c *Client) GetAnalysisStatus(ctx context.Context, jobID string) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetAnalysisStatus", wrapperspb.String(jobID), out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) GetLatestResult(ctx context.Context, applicationID string) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetLatestResult", wrapperspb.String(applicationID), out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) RequestCancellation(ctx context.Context, jobID string) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/RequestCancellation", wrapperspb.String(jobID), new(emptypb.Empty))
}

// LoggingInterceptor logs every unary call with its method, status code
// and duration.
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}
