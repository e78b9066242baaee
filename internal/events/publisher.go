package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobmate/analysis-service/internal/analysis"
	"jobmate/analysis-service/internal/logger"
)

// Outbound channels.
const (
	ChannelAnalysisCompleted = "EVENT_ANALYSIS_COMPLETED"
	ChannelAnalysisFailed    = "EVENT_ANALYSIS_FAILED"
)

// Publisher is the part of a Redis client used to publish events.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Event is the payload of an outbound analysis event.
type Event struct {
	Type          string   `json:"type"`
	AnalysisJobID string   `json:"analysisJobId"`
	ApplicationID string   `json:"applicationId"`
	CandidateID   string   `json:"candidateId"`
	JobID         string   `json:"jobId"`
	Score         *float64 `json:"score,omitempty"`
	Unmet         []string `json:"unmet,omitempty"`
	FailureKind   string   `json:"failureKind,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// EventFor builds the event announcing a terminal job.
func EventFor(j *analysis.Job) (Event, error) {
	e := Event{
		AnalysisJobID: j.ID,
		ApplicationID: j.ApplicationID,
		CandidateID:   j.CandidateID,
		JobID:         j.JobID,
	}
	switch j.State {
	case analysis.StateCompleted:
		e.Type = ChannelAnalysisCompleted
		score := j.Result.Score
		e.Score = &score
		e.Unmet = j.Result.Unmet
	case analysis.StateFailed:
		e.Type = ChannelAnalysisFailed
		if j.Failure != nil {
			e.FailureKind = string(j.Failure.Kind)
			e.Reason = j.Failure.Reason
		}
	default:
		return Event{}, fmt.Errorf("job %s is %s, not terminal", j.ID, j.State)
	}
	return e, nil
}

// RedisNotifier publishes analysis outcomes to Redis. Publishing is
// best-effort: failures are logged and never affect the job.
type RedisNotifier struct {
	pub Publisher
	log *zap.Logger
}

// NewRedisNotifier returns a notifier publishing through pub.
func NewRedisNotifier(pub Publisher, log *zap.Logger) *RedisNotifier {
	return &RedisNotifier{pub: pub, log: logger.WithFields(log, zap.String("component", "publisher"))}
}

var _ analysis.Notifier = (*RedisNotifier)(nil)

// Notify implements analysis.Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, j *analysis.Job) {
	fields := logger.JobFields(j.ID, j.ApplicationID, j.Attempts)

	e, err := EventFor(j)
	if err != nil {
		n.log.Warn("not publishing analysis event", append(fields, zap.Error(err))...)
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		n.log.Warn("encoding analysis event", append(fields, zap.Error(err))...)
		return
	}
	if err := n.pub.Publish(ctx, e.Type, payload).Err(); err != nil {
		n.log.Warn("publish "+e.Type+" failed", append(fields, zap.Error(err))...)
		return
	}
	n.log.Debug("published "+e.Type, fields...)
}
