package analysis_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"jobmate/analysis-service/internal/analysis"
	"jobmate/analysis-service/internal/store"
)

// ── fixtures ───────────────────────────────────────────────────────────────

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type apps map[string]analysis.Application

func (a apps) Application(_ context.Context, id string) (*analysis.Application, error) {
	app, ok := a[id]
	if !ok {
		return nil, analysis.ErrApplicationNotFound
	}
	return &app, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []*analysis.Job
}

func (n *recordingNotifier) Notify(_ context.Context, j *analysis.Job) {
	n.mu.Lock()
	n.jobs = append(n.jobs, j)
	n.mu.Unlock()
}

func (n *recordingNotifier) States() []analysis.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]analysis.State, 0, len(n.jobs))
	for _, j := range n.jobs {
		out = append(out, j.State)
	}
	return out
}

type env struct {
	svc      *analysis.Service
	store    *store.Memory
	clock    *clock
	notifier *recordingNotifier
	logs     *observer.ObservedLogs
}

func newEnv(t *testing.T, applications ...string) *env {
	t.Helper()
	a := apps{}
	for _, id := range applications {
		a[id] = analysis.Application{ID: id, CandidateID: "cand-" + id, JobID: "job-" + id}
	}
	core, logs := observer.New(zapcore.DebugLevel)
	e := &env{
		store:    store.NewMemory(),
		clock:    &clock{now: t0},
		notifier: &recordingNotifier{},
		logs:     logs,
	}
	var seq atomic.Int64
	e.svc = analysis.NewService(e.store, a, analysis.Options{
		Now:      e.clock.Now,
		NewID:    func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
		Notifier: e.notifier,
		Logger:   zap.New(core),
	})
	return e
}

func (e *env) enqueueAndClaim(t *testing.T, appID string) *analysis.Job {
	t.Helper()
	if _, _, err := e.svc.Enqueue(context.Background(), appID); err != nil {
		t.Fatalf("Enqueue(%s) returned unexpected error: %v", appID, err)
	}
	j, err := e.svc.Claim(context.Background())
	if err != nil {
		t.Fatalf("Claim returned unexpected error: %v", err)
	}
	return j
}

// ── Enqueue ────────────────────────────────────────────────────────────────

func TestEnqueue_Idempotent(t *testing.T) {
	e := newEnv(t, "app-1")
	ctx := context.Background()

	first, created, err := e.svc.Enqueue(ctx, "app-1")
	if err != nil || !created {
		t.Fatalf("first Enqueue = (%v, %v), want created", created, err)
	}
	if first.State != analysis.StateQueued || first.CandidateID != "cand-app-1" || first.JobID != "job-app-1" {
		t.Errorf("enqueued job = %+v", first)
	}
	if first.MaxAttempts != analysis.DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", first.MaxAttempts, analysis.DefaultMaxAttempts)
	}

	second, created, err := e.svc.Enqueue(ctx, "app-1")
	if err != nil || created {
		t.Fatalf("second Enqueue = (%v, %v), want existing job", created, err)
	}
	if second.ID != first.ID {
		t.Errorf("second Enqueue returned %s, want %s", second.ID, first.ID)
	}

	// Still idempotent while running.
	if _, err := e.svc.Claim(ctx); err != nil {
		t.Fatalf("Claim returned unexpected error: %v", err)
	}
	third, created, _ := e.svc.Enqueue(ctx, "app-1")
	if created || third.ID != first.ID {
		t.Errorf("Enqueue while running created a new job %s", third.ID)
	}
}

func TestEnqueue_ConcurrentCallsCreateOneJob(t *testing.T) {
	e := newEnv(t, "app-1")
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     sync.Map
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j, ok, err := e.svc.Enqueue(context.Background(), "app-1")
			if err != nil {
				t.Errorf("Enqueue returned unexpected error: %v", err)
				return
			}
			if ok {
				created.Add(1)
			}
			ids.Store(j.ID, true)
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("created %d jobs, want 1", created.Load())
	}
	n := 0
	ids.Range(func(_, _ any) bool { n++; return true })
	if n != 1 {
		t.Errorf("callers saw %d distinct jobs, want 1", n)
	}
}

func TestEnqueue_AfterTerminalCreatesNewJob(t *testing.T) {
	e := newEnv(t, "app-1")
	ctx := context.Background()

	j := e.enqueueAndClaim(t, "app-1")
	if _, err := e.svc.Complete(ctx, j.ID, j.Lease, sampleResult()); err != nil {
		t.Fatalf("Complete returned unexpected error: %v", err)
	}

	next, created, err := e.svc.Enqueue(ctx, "app-1")
	if err != nil || !created {
		t.Fatalf("Enqueue after completion = (%v, %v), want new job", created, err)
	}
	if next.ID == j.ID {
		t.Error("re-analysis reused the completed job")
	}
	old, _ := e.svc.Status(ctx, j.ID)
	if old.State != analysis.StateCompleted {
		t.Errorf("old job state = %s, want COMPLETED kept for audit", old.State)
	}
}

func TestEnqueue_UnknownApplication(t *testing.T) {
	e := newEnv(t)
	for _, id := range []string{"", "missing"} {
		if _, _, err := e.svc.Enqueue(context.Background(), id); !errors.Is(err, analysis.ErrApplicationNotFound) {
			t.Errorf("Enqueue(%q) error = %v, want ErrApplicationNotFound", id, err)
		}
	}
}

func TestEnqueue_SignalsWake(t *testing.T) {
	e := newEnv(t, "app-1")
	if _, _, err := e.svc.Enqueue(context.Background(), "app-1"); err != nil {
		t.Fatalf("Enqueue returned unexpected error: %v", err)
	}
	select {
	case <-e.svc.Wake():
	default:
		t.Error("Enqueue did not signal waiting workers")
	}
}

// ── Claim ──────────────────────────────────────────────────────────────────

func TestClaim_Empty(t *testing.T) {
	e := newEnv(t)
	if _, err := e.svc.Claim(context.Background()); !errors.Is(err, analysis.ErrNoJob) {
		t.Errorf("Claim error = %v, want ErrNoJob", err)
	}
}

func TestClaim_OneWinnerAmongConcurrentClaimants(t *testing.T) {
	e := newEnv(t, "app-1")
	if _, _, err := e.svc.Enqueue(context.Background(), "app-1"); err != nil {
		t.Fatalf("Enqueue returned unexpected error: %v", err)
	}

	const claimants = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.svc.Claim(context.Background())
			switch {
			case err == nil:
				winners.Add(1)
			case !errors.Is(err, analysis.ErrNoJob):
				t.Errorf("Claim returned unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("%d claimants won, want exactly 1", winners.Load())
	}
}

func TestClaim_OldestFirst(t *testing.T) {
	e := newEnv(t, "app-1", "app-2")
	ctx := context.Background()
	first, _, _ := e.svc.Enqueue(ctx, "app-1")
	e.clock.Advance(time.Second)
	_, _, _ = e.svc.Enqueue(ctx, "app-2")

	j, err := e.svc.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim returned unexpected error: %v", err)
	}
	if j.ID != first.ID {
		t.Errorf("claimed %s, want oldest %s", j.ID, first.ID)
	}
	if j.Lease == "" || j.ClaimedAt == nil {
		t.Errorf("claimed job has no lease: %+v", j)
	}
}

// ── Complete / Fail ────────────────────────────────────────────────────────

func TestComplete(t *testing.T) {
	e := newEnv(t, "app-1")
	ctx := context.Background()
	j := e.enqueueAndClaim(t, "app-1")

	done, err := e.svc.Complete(ctx, j.ID, j.Lease, sampleResult())
	if err != nil {
		t.Fatalf("Complete returned unexpected error: %v", err)
	}
	if done.State != analysis.StateCompleted || done.Result.Score != 80 {
		t.Errorf("completed job = %+v", done)
	}

	latest, err := e.svc.LatestResult(ctx, "app-1")
	if err != nil {
		t.Fatalf("LatestResult returned unexpected error: %v", err)
	}
	if latest.ID != j.ID || latest.Result == nil {
		t.Errorf("LatestResult = %+v", latest)
	}
	if got := e.notifier.States(); len(got) != 1 || got[0] != analysis.StateCompleted {
		t.Errorf("notifications = %v, want [COMPLETED]", got)
	}
}

// A rejected completion leaves neither the state change nor the result.
func TestComplete_RejectedIsAtomic(t *testing.T) {
	e := newEnv(t, "app-1")
	ctx := context.Background()
	j := e.enqueueAndClaim(t, "app-1")

	_, err := e.svc.Complete(ctx, j.ID, "stale-lease", sampleResult())
	if !errors.Is(err, analysis.ErrInvalidTransition) {
		t.Fatalf("Complete error = %v, want ErrInvalidTransition", err)
	}

	cur, _ := e.svc.Status(ctx, j.ID)
	if cur.State != analysis.StateRunning || cur.Result != nil {
		t.Errorf("job after rejected completion = %s/%v", cur.State, cur.Result)
	}
	if _, err := e.svc.LatestResult(ctx, "app-1"); !errors.Is(err, analysis.ErrNotAnalyzed) {
		t.Errorf("LatestResult error = %v, want ErrNotAnalyzed", err)
	}
	if e.logs.FilterLevelExact(zapcore.ErrorLevel).Len() == 0 {
		t.Error("rejected transition was not logged at error level")
	}
}

func TestComplete_InvalidResult(t *testing.T) {
	e := newEnv(t, "app-1")
	j := e.enqueueAndClaim(t, "app-1")

	bad := sampleResult()
	bad.Score = 140
	if _, err := e.svc.Complete(context.Background(), j.ID, j.Lease, bad); err == nil {
		t.Fatal("Complete accepted a score above 100")
	}
	cur, _ := e.svc.Status(context.Background(), j.ID)
	if cur.State != analysis.StateRunning {
		t.Errorf("state = %s, want RUNNING", cur.State)
	}
}

func TestComplete_TwiceIsRejected(t *testing.T) {
	e := newEnv(t, "app-1")
	ctx := context.Background()
	j := e.enqueueAndClaim(t, "app-1")
	if _, err := e.svc.Complete(ctx, j.ID, j.Lease, sampleResult()); err != nil {
		t.Fatalf("Complete returned unexpected error: %v", err)
	}
	if _, err := e.svc.Complete(ctx, j.ID, j.Lease, sampleResult()); !errors.Is(err, analysis.ErrInvalidTransition) {
		t.Errorf("second Complete error = %v, want ErrInvalidTransition", err)
	}
}

func TestFail_RetriesThenFails(t *testing.T) {
	e := newEnv(t, "app-1")
	ctx := context.Background()
	if _, _, err := e.svc.Enqueue(ctx, "app-1"); err != nil {
		t.Fatalf("Enqueue returned unexpected error: %v", err)
	}

	var last *analysis.Job
	for i := 0; i < analysis.DefaultMaxAttempts+2; i++ {
		j, err := e.svc.Claim(ctx)
		if errors.Is(err, analysis.ErrNoJob) {
			break
		}
		if err != nil {
			t.Fatalf("Claim returned unexpected error: %v", err)
		}
		last, err = e.svc.Fail(ctx, j.ID, j.Lease, analysis.Failure{Kind: analysis.FailureDataUnavailable, Reason: "profile service down"})
		if err != nil {
			t.Fatalf("Fail returned unexpected error: %v", err)
		}
	}

	if last.State != analysis.StateFailed {
		t.Fatalf("final state = %s, want FAILED", last.State)
	}
	if last.Attempts != analysis.DefaultMaxAttempts {
		t.Errorf("attempts = %d, want %d", last.Attempts, analysis.DefaultMaxAttempts)
	}
	if last.Failure.Kind != analysis.FailureDataUnavailable || last.Failure.Reason == "" {
		t.Errorf("failure = %+v, want readable data_unavailable", last.Failure)
	}
	if got := e.notifier.States(); len(got) != 1 || got[0] != analysis.StateFailed {
		t.Errorf("notifications = %v, want only the terminal failure", got)
	}
}

func TestFail_FirstFailureRequeuesEveryKindButCancelled(t *testing.T) {
	tests := []struct {
		kind analysis.FailureKind
		want analysis.State
	}{
		{analysis.FailureDataUnavailable, analysis.StateQueued},
		{analysis.FailureInvalidRequirement, analysis.StateQueued},
		{analysis.FailureScoring, analysis.StateQueued},
		{analysis.FailureTimeout, analysis.StateQueued},
		{analysis.FailureInternal, analysis.StateQueued},
		{analysis.FailureCancelled, analysis.StateFailed},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := newEnv(t, "app-1")
			j := e.enqueueAndClaim(t, "app-1")
			got, err := e.svc.Fail(context.Background(), j.ID, j.Lease, analysis.Failure{Kind: tt.kind, Reason: "x"})
			if err != nil {
				t.Fatalf("Fail returned unexpected error: %v", err)
			}
			if got.State != tt.want || got.Attempts != 1 {
				t.Errorf("after first failure: state=%s attempts=%d, want %s attempts=1", got.State, got.Attempts, tt.want)
			}
		})
	}
}

// ── Cancellation ───────────────────────────────────────────────────────────

func TestRequestCancellation_Queued(t *testing.T) {
	e := newEnv(t, "app-1")
	ctx := context.Background()
	j, _, _ := e.svc.Enqueue(ctx, "app-1")

	got, err := e.svc.RequestCancellation(ctx, j.ID)
	if err != nil {
		t.Fatalf("RequestCancellation returned unexpected error: %v", err)
	}
	if !got.Cancelled() {
		t.Errorf("job = %s/%v, want failed as cancelled", got.State, got.Failure)
	}
	if _, err := e.svc.Claim(ctx); !errors.Is(err, analysis.ErrNoJob) {
		t.Errorf("cancelled job was claimable: %v", err)
	}
}

func TestRequestCancellation_RunningThenComplete(t *testing.T) {
	e := newEnv(t, "app-1")
	ctx := context.Background()
	j := e.enqueueAndClaim(t, "app-1")

	flagged, err := e.svc.RequestCancellation(ctx, j.ID)
	if err != nil {
		t.Fatalf("RequestCancellation returned unexpected error: %v", err)
	}
	if flagged.State != analysis.StateRunning || !flagged.CancelRequested {
		t.Fatalf("job = %+v, want running with cancellation requested", flagged)
	}

	done, err := e.svc.Complete(ctx, j.ID, j.Lease, sampleResult())
	if !errors.Is(err, analysis.ErrCancelled) {
		t.Fatalf("Complete error = %v, want ErrCancelled", err)
	}
	if !done.Cancelled() || done.Result != nil {
		t.Errorf("job = %s/%v result=%v, want cancelled without result", done.State, done.Failure, done.Result)
	}
}

func TestRequestCancellation_Terminal(t *testing.T) {
	e := newEnv(t, "app-1")
	ctx := context.Background()
	j := e.enqueueAndClaim(t, "app-1")
	_, _ = e.svc.Complete(ctx, j.ID, j.Lease, sampleResult())

	if _, err := e.svc.RequestCancellation(ctx, j.ID); !errors.Is(err, analysis.ErrInvalidTransition) {
		t.Errorf("RequestCancellation error = %v, want ErrInvalidTransition", err)
	}
}

func TestRequestCancellation_Unknown(t *testing.T) {
	e := newEnv(t)
	if _, err := e.svc.RequestCancellation(context.Background(), "nope"); !errors.Is(err, analysis.ErrNotFound) {
		t.Errorf("RequestCancellation error = %v, want ErrNotFound", err)
	}
}

// ── Status / LatestResult ──────────────────────────────────────────────────

func TestStatus_Unknown(t *testing.T) {
	e := newEnv(t)
	if _, err := e.svc.Status(context.Background(), "nope"); !errors.Is(err, analysis.ErrNotFound) {
		t.Errorf("Status error = %v, want ErrNotFound", err)
	}
}

func TestLatestResult_PicksNewestCompletion(t *testing.T) {
	e := newEnv(t, "app-1")
	ctx := context.Background()

	first := e.enqueueAndClaim(t, "app-1")
	_, _ = e.svc.Complete(ctx, first.ID, first.Lease, sampleResult())

	e.clock.Advance(time.Minute)
	second := e.enqueueAndClaim(t, "app-1")
	res := sampleResult()
	res.Score = 42
	_, _ = e.svc.Complete(ctx, second.ID, second.Lease, res)

	// A later failing analysis does not hide the last result.
	e.clock.Advance(time.Minute)
	third := e.enqueueAndClaim(t, "app-1")
	_, _ = e.svc.Fail(ctx, third.ID, third.Lease, analysis.Failure{Kind: analysis.FailureScoring, Reason: "x"})

	latest, err := e.svc.LatestResult(ctx, "app-1")
	if err != nil {
		t.Fatalf("LatestResult returned unexpected error: %v", err)
	}
	if latest.ID != second.ID || latest.Result.Score != 42 {
		t.Errorf("LatestResult = %s (%v), want %s (42)", latest.ID, latest.Result.Score, second.ID)
	}
}

// ── Reaping ────────────────────────────────────────────────────────────────

func TestReapStale(t *testing.T) {
	e := newEnv(t, "app-1", "app-2")
	ctx := context.Background()

	stale := e.enqueueAndClaim(t, "app-1")
	e.clock.Advance(10 * time.Minute)
	fresh := e.enqueueAndClaim(t, "app-2")

	n, err := e.svc.ReapStale(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ReapStale returned unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d jobs, want 1", n)
	}

	got, _ := e.svc.Status(ctx, stale.ID)
	if got.State != analysis.StateQueued || got.Failure.Kind != analysis.FailureTimeout || got.Attempts != 1 {
		t.Errorf("reaped job = %s/%v attempts=%d, want re-queued after timeout", got.State, got.Failure, got.Attempts)
	}
	if cur, _ := e.svc.Status(ctx, fresh.ID); cur.State != analysis.StateRunning {
		t.Errorf("fresh job state = %s, want RUNNING", cur.State)
	}

	// The reaped worker finishes late: its lease is gone.
	if _, err := e.svc.Complete(ctx, stale.ID, stale.Lease, sampleResult()); !errors.Is(err, analysis.ErrInvalidTransition) {
		t.Errorf("late Complete error = %v, want ErrInvalidTransition", err)
	}
}
