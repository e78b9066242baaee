package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSubscriber consumes CMD_ANALYZE_JOB from Redis pub/sub.
type RedisSubscriber struct {
	rdb    *redis.Client
	intake *Intake
	log    *zap.Logger
}

// NewRedisSubscriber returns a subscriber feeding intake.
func NewRedisSubscriber(rdb *redis.Client, intake *Intake) *RedisSubscriber {
	return &RedisSubscriber{rdb: rdb, intake: intake, log: intake.log}
}

// Run blocks, handling messages until ctx is done.
func (s *RedisSubscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, ChannelAnalyzeJob)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelAnalyzeJob, err)
	}
	s.log.Info("subscribed", zap.String("channel", ChannelAnalyzeJob))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("redis subscription %s closed", ChannelAnalyzeJob)
			}
			// Pub/sub has no redelivery; the error is already logged.
			_ = s.intake.Handle(ctx, "redis", []byte(msg.Payload))
		}
	}
}
