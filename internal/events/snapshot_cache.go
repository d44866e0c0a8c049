package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const latestSnapshotKey = "orderbook:latest"

// SnapshotCache keeps the most recent book snapshot in Redis so the API can
// serve the realtime view with a point read instead of a table scan.
type SnapshotCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewSnapshotCache wraps an existing Redis client.
func NewSnapshotCache(client *redis.Client, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{client: client, logger: logger}
}

// Handle is a bus Handler: it stores every BookUpdate payload under a fixed
// key, overwriting the previous snapshot.
func (c *SnapshotCache) Handle(event Event) {
	update, ok := event.Payload.(BookUpdate)
	if !ok {
		return
	}
	value, err := json.Marshal(update)
	if err != nil {
		c.logger.Error("failed to encode snapshot for cache", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, latestSnapshotKey, value, 0).Err(); err != nil {
		c.logger.Warn("failed to cache latest snapshot", zap.Error(err))
	}
}

// Latest returns the cached snapshot, or redis.Nil if none is cached yet.
func (c *SnapshotCache) Latest(ctx context.Context) (*BookUpdate, error) {
	value, err := c.client.Get(ctx, latestSnapshotKey).Bytes()
	if err != nil {
		return nil, err
	}
	var update BookUpdate
	if err := json.Unmarshal(value, &update); err != nil {
		return nil, err
	}
	return &update, nil
}
