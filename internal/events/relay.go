package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRelay mirrors bus events into a Redis stream so processes other than
// the gateway (dashboards, support tooling) can observe forced logouts.
type RedisRelay struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

// NewRedisRelay builds a relay writing to stream.
func NewRedisRelay(client *redis.Client, stream string, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, stream: stream, logger: logger}
}

// Handler returns a bus handler that tags each event with deviceID.
// Relay failures are logged and never propagate to the publisher.
func (r *RedisRelay) Handler(deviceID string) Handler {
	return func(ctx context.Context, ev Event) {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		err := r.client.XAdd(writeCtx, &redis.XAddArgs{
			Stream: r.stream,
			Values: map[string]any{
				"device_id": deviceID,
				"kind":      string(ev.Kind),
				"reason":    ev.Reason,
				"at":        ev.At.UTC().Format(time.RFC3339Nano),
			},
		}).Err()
		if err != nil && r.logger != nil {
			r.logger.Warn("relay event failed",
				slog.String("stream", r.stream),
				slog.String("device_id", deviceID),
				slog.String("kind", string(ev.Kind)),
				slog.Any("error", err),
			)
		}
	}
}
