// Package events connects the analysis service to the platform's message
// buses: it turns application events into enqueued analyses and publishes
// analysis outcomes.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"jobmate/analysis-service/internal/analysis"
	"jobmate/analysis-service/internal/logger"
)

// ChannelAnalyzeJob is the Redis channel the tracker publishes new
// applications on.
const ChannelAnalyzeJob = "CMD_ANALYZE_JOB"

// ErrMalformed is returned for messages that can never be processed.
var ErrMalformed = errors.New("malformed analysis command")

// Command asks for an application to be analysed. The tracker sends
// applicationId; application.created messages on RabbitMQ carry id.
type Command struct {
	Type          string `json:"type"`
	ApplicationID string `json:"applicationId"`
	ID            string `json:"id"`
	JobFeedID     string `json:"jobFeedId,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

// ParseCommand decodes a command payload.
func ParseCommand(payload []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.ApplicationID == "" {
		c.ApplicationID = c.ID
	}
	c.ApplicationID = strings.TrimSpace(c.ApplicationID)
	if c.ApplicationID == "" {
		return Command{}, fmt.Errorf("%w: no application id", ErrMalformed)
	}
	return c, nil
}

// Enqueuer is the part of analysis.Service the intake drives.
type Enqueuer interface {
	Enqueue(ctx context.Context, applicationID string) (*analysis.Job, bool, error)
}

// Intake turns command payloads into enqueued analyses.
type Intake struct {
	enq Enqueuer
	log *zap.Logger
}

// NewIntake returns an Intake enqueueing through enq.
func NewIntake(enq Enqueuer, log *zap.Logger) *Intake {
	return &Intake{enq: enq, log: logger.WithFields(log, zap.String("component", "intake"))}
}

// Handle processes one payload. Errors wrapping ErrMalformed or
// analysis.ErrApplicationNotFound will fail again on redelivery.
func (in *Intake) Handle(ctx context.Context, source string, payload []byte) error {
	cmd, err := ParseCommand(payload)
	if err != nil {
		in.log.Warn("dropping analysis command", zap.String("source", source),
			zap.String("payload", logger.Truncate(string(payload), 200)), zap.Error(err))
		return err
	}

	j, created, err := in.enq.Enqueue(ctx, cmd.ApplicationID)
	if err != nil {
		in.log.Warn("enqueue from event failed", zap.String("source", source),
			zap.String(logger.FieldApplicationID, cmd.ApplicationID), zap.Error(err))
		return err
	}
	in.log.Debug("analysis command handled", append(logger.JobFields(j.ID, j.ApplicationID, j.Attempts),
		zap.String("source", source), zap.Bool("created", created))...)
	return nil
}

// Permanent reports whether err from Handle should not be retried.
func Permanent(err error) bool {
	return errors.Is(err, ErrMalformed) || errors.Is(err, analysis.ErrApplicationNotFound)
}
