package grpcserver_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"jobmate/analysis-service/internal/analysis"
	"jobmate/analysis-service/internal/grpcserver"
	"jobmate/analysis-service/internal/scoring"
	"jobmate/analysis-service/internal/store"
)

type apps map[string]error

func (a apps) Application(_ context.Context, id string) (*analysis.Application, error) {
	err, ok := a[id]
	if !ok {
		return nil, analysis.ErrApplicationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &analysis.Application{ID: id, CandidateID: "cand", JobID: "job"}, nil
}

func setup(t *testing.T) (*grpcserver.Client, *grpc.ClientConn, *analysis.Service) {
	t.Helper()
	var seq atomic.Int64
	svc := analysis.NewService(store.NewMemory(), apps{"app-1": nil, "broken": errors.New("db down")}, analysis.Options{
		NewID: func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	})

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.LoggingInterceptor(zap.NewNop())))
	grpcserver.Register(gs, grpcserver.NewServer(svc, nil))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return grpcserver.NewClient(conn), conn, svc
}

func TestEnqueueAndStatus(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()

	id, err := c.EnqueueAnalysis(ctx, "app-1")
	if err != nil {
		t.Fatalf("EnqueueAnalysis returned unexpected error: %v", err)
	}
	again, err := c.EnqueueAnalysis(ctx, "app-1")
	if err != nil || again != id {
		t.Errorf("second EnqueueAnalysis = (%q, %v), want %q", again, err, id)
	}

	st, err := c.GetAnalysisStatus(ctx, id)
	if err != nil {
		t.Fatalf("GetAnalysisStatus returned unexpected error: %v", err)
	}
	if st["state"] != "QUEUED" || st["analysisJobId"] != id {
		t.Errorf("status = %v", st)
	}
}

func TestLatestResult(t *testing.T) {
	c, _, svc := setup(t)
	ctx := context.Background()

	if _, err := c.GetLatestResult(ctx, "app-1"); status.Code(err) != codes.NotFound {
		t.Fatalf("GetLatestResult before analysis = %v, want NotFound", err)
	}

	_, _, _ = svc.Enqueue(ctx, "app-1")
	j, _ := svc.Claim(ctx)
	res := scoring.Result{Score: 42, Breakdown: map[string]scoring.Criterion{"skills": {Weight: 1, Contribution: 42}}}
	if _, err := svc.Complete(ctx, j.ID, j.Lease, res); err != nil {
		t.Fatalf("Complete returned unexpected error: %v", err)
	}

	got, err := c.GetLatestResult(ctx, "app-1")
	if err != nil {
		t.Fatalf("GetLatestResult returned unexpected error: %v", err)
	}
	result, ok := got["result"].(map[string]any)
	if !ok || result["score"] != 42.0 {
		t.Errorf("latest = %v", got)
	}
}

func TestErrorCodes(t *testing.T) {
	c, _, svc := setup(t)
	ctx := context.Background()
	j, _, _ := svc.Enqueue(ctx, "app-1")

	if err := c.RequestCancellation(ctx, j.ID); err != nil {
		t.Fatalf("RequestCancellation returned unexpected error: %v", err)
	}

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"unknown application", func() error { _, err := c.EnqueueAnalysis(ctx, "nope"); return err }, codes.NotFound},
		{"source failure", func() error { _, err := c.EnqueueAnalysis(ctx, "broken"); return err }, codes.Internal},
		{"unknown job", func() error { _, err := c.GetAnalysisStatus(ctx, "missing"); return err }, codes.NotFound},
		{"cancel terminal job", func() error { return c.RequestCancellation(ctx, j.ID) }, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(tt.call()); got != tt.want {
				t.Errorf("code = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	_, conn, _ := setup(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
	if err != nil {
		t.Fatalf("Check returned unexpected error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health = %s, want SERVING", resp.GetStatus())
	}
}
