// jobmate-analysis-service
//
// Application Analysis Pipeline: scores a candidate's curriculum against
// the requirements of the job they applied to.
//
//   - serve    REST + gRPC surface, worker pool, stale-job reaper and the
//     CMD_ANALYZE_JOB (Redis) / application.created (RabbitMQ) intake
//   - migrate  creates the analysis tables
//   - version  prints the build version
//
// Publishes EVENT_ANALYSIS_COMPLETED / EVENT_ANALYSIS_FAILED to Redis for
// the Gateway SSE forward.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
