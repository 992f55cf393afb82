package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. The full
// snapshot travels as a JSONB payload; cash and equity are lifted into
// columns for ad-hoc querying.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// SaveSnapshot persists one snapshot. Saving the same snapshot id twice is a
// no-op, which keeps the persistence worker safe to retry.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap domain.StateSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres: marshal snapshot: %w", err)
	}

	const query = `
		INSERT INTO state_snapshots (id, cash, equity, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, snap.ID, snap.Cash, snap.Equity, payload, snap.Timestamp); err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// LoadLatestSnapshot returns the most recent snapshot, or domain.ErrNotFound
// when none has been saved yet.
func (s *SnapshotStore) LoadLatestSnapshot(ctx context.Context) (domain.StateSnapshot, error) {
	const query = `
		SELECT payload FROM state_snapshots
		ORDER BY created_at DESC
		LIMIT 1`

	var payload []byte
	err := s.pool.QueryRow(ctx, query).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StateSnapshot{}, fmt.Errorf("postgres: load latest snapshot: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("postgres: load latest snapshot: %w", err)
	}

	var snap domain.StateSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return domain.StateSnapshot{}, fmt.Errorf("postgres: decode snapshot: %w", err)
	}
	return snap, nil
}

// PruneSnapshots deletes all but the keep most recent snapshots and returns
// the ids it removed.
func (s *SnapshotStore) PruneSnapshots(ctx context.Context, keep int) ([]string, error) {
	const query = `
		DELETE FROM state_snapshots
		WHERE id NOT IN (
			SELECT id FROM state_snapshots
			ORDER BY created_at DESC
			LIMIT $1
		)
		RETURNING id`

	rows, err := s.pool.Query(ctx, query, keep)
	if err != nil {
		return nil, fmt.Errorf("postgres: prune snapshots: %w", err)
	}
	defer rows.Close()

	var pruned []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: prune snapshots: scan: %w", err)
		}
		pruned = append(pruned, id)
	}
	return pruned, rows.Err()
}
