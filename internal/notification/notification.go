// Package notification delivers best-effort user-facing messages over
// the pub/sub channel. No ordering or delivery guarantee.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sink publishes a message to one user's channel.
type Sink interface {
	SendToUser(ctx context.Context, userID string, message map[string]interface{}) error
}

// RedisSink publishes messages on per-user Redis pub/sub channels,
// consumed by the realtime gateway.
type RedisSink struct {
	client        *redis.Client
	channelPrefix string
}

func NewRedisSink(client *redis.Client, channelPrefix string) *RedisSink {
	if channelPrefix == "" {
		channelPrefix = "notifications"
	}
	return &RedisSink{client: client, channelPrefix: channelPrefix}
}

func (s *RedisSink) SendToUser(ctx context.Context, userID string, message map[string]interface{}) error {
	if message == nil {
		message = map[string]interface{}{}
	}
	message["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	channel := fmt.Sprintf("%s:%s", s.channelPrefix, userID)
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification to %s: %w", channel, err)
	}
	return nil
}

// NopSink discards every message; used in tests and when the pub/sub
// channel is not configured.
type NopSink struct{}

func (NopSink) SendToUser(context.Context, string, map[string]interface{}) error { return nil }
