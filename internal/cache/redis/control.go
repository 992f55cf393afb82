package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const (
	desiredStateKey = "tradecore:control:desired_state"
	actualStateKey  = "tradecore:control:actual_state"
	heartbeatKey    = "tradecore:control:heartbeat"

	// heartbeatTTL lets an external dashboard detect a dead bot: the key
	// expires shortly after the loop stops reporting.
	heartbeatTTL = 2 * time.Minute
)

// ControlSurface implements domain.ControlSurface over Redis keys. An
// operator (dashboard, CLI, redis-cli) writes the desired state; the loop
// reads it each tick and reports back its actual state and a heartbeat.
type ControlSurface struct {
	rdb *redis.Client
}

// NewControlSurface creates a ControlSurface backed by the given Client.
func NewControlSurface(c *Client) *ControlSurface {
	return &ControlSurface{rdb: c.rdb}
}

// DesiredState reads the operator's requested state. A missing key defaults
// to running so a fresh deployment starts trading without manual setup.
func (cs *ControlSurface) DesiredState(ctx context.Context) (domain.DesiredState, error) {
	val, err := cs.rdb.Get(ctx, desiredStateKey).Result()
	if errors.Is(err, redis.Nil) {
		return domain.DesiredRunning, nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: desired state: %w", err)
	}

	switch ds := domain.DesiredState(val); ds {
	case domain.DesiredRunning, domain.DesiredPaused, domain.DesiredStopped:
		return ds, nil
	default:
		return "", fmt.Errorf("redis: desired state: unknown value %q", val)
	}
}

// SetDesiredState writes the operator's requested state. Exposed for the
// operator-facing tooling; the loop itself never calls this.
func (cs *ControlSurface) SetDesiredState(ctx context.Context, state domain.DesiredState) error {
	if err := cs.rdb.Set(ctx, desiredStateKey, string(state), 0).Err(); err != nil {
		return fmt.Errorf("redis: set desired state: %w", err)
	}
	return nil
}

// ReportActual publishes the loop's actual state and heartbeat.
func (cs *ControlSurface) ReportActual(ctx context.Context, state string, heartbeat time.Time) error {
	pipe := cs.rdb.Pipeline()
	pipe.Set(ctx, actualStateKey, state, 0)
	pipe.Set(ctx, heartbeatKey, strconv.FormatInt(heartbeat.UnixMilli(), 10), heartbeatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: report actual state: %w", err)
	}
	return nil
}
