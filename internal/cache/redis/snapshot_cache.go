package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const latestSnapshotKey = "tradecore:snapshot:latest"

// SnapshotCache implements domain.SnapshotCache: the most recent snapshot is
// kept at a fixed key, msgpack-encoded, for fast restore at startup. Postgres
// holds the durable history; this cache only accelerates the happy path.
type SnapshotCache struct {
	rdb *redis.Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{rdb: c.rdb}
}

// SetLatest overwrites the cached snapshot.
func (sc *SnapshotCache) SetLatest(ctx context.Context, snap domain.StateSnapshot) error {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot: %w", err)
	}
	if err := sc.rdb.Set(ctx, latestSnapshotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set latest snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the cached snapshot, or domain.ErrNotFound when the key
// does not exist.
func (sc *SnapshotCache) GetLatest(ctx context.Context) (domain.StateSnapshot, error) {
	data, err := sc.rdb.Get(ctx, latestSnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.StateSnapshot{}, fmt.Errorf("redis: get latest snapshot: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("redis: get latest snapshot: %w", err)
	}

	var snap domain.StateSnapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("redis: decode snapshot: %w", err)
	}
	return snap, nil
}
