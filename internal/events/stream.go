// Package events publishes capability changes to a Redis stream so other
// services can follow the registry without polling it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-capabilities/internal/capability"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxLen caps the stream length; trimming is approximate.
const maxLen = 10000

// Message is the payload stored in the stream's "data" field.
type Message struct {
	ID string `json:"id"`
	capability.Event
}

// Stream publishes capability events via Redis Streams.
type Stream struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

// NewStream connects to Redis and returns a publisher for the named stream.
func NewStream(redisURL, stream string, logger *zap.Logger) (*Stream, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Stream{rdb: rdb, stream: stream, logger: logger}, nil
}

// Publish appends ev to the stream. It satisfies capability.Publisher.
func (s *Stream) Publish(ctx context.Context, ev capability.Event) error {
	data, err := json.Marshal(Message{ID: uuid.NewString(), Event: ev})
	if err != nil {
		return err
	}

	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(ev.Type),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.stream, err)
	}

	s.logger.Debug("published capability event",
		zap.String("type", string(ev.Type)),
		zap.Int64("agent_id", ev.AgentID),
		zap.String("skill_name", ev.SkillName))
	return nil
}

// Close shuts down the Redis connection.
func (s *Stream) Close() error {
	return s.rdb.Close()
}
