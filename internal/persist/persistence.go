// Package persist owns snapshot persistence. State mutations only mark a
// dirty flag via a listener; a single worker goroutine writes snapshots on a
// timer, so persistence never does I/O inside the ledger's lock and a burst
// of mutations costs one write.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/state"
)

const pruneEvery = 10 // prune the store every N saves

// Worker persists ledger snapshots. store is the durable system of record;
// cache and archiver are optional accelerators.
type Worker struct {
	state    *state.TradingState
	store    domain.SnapshotStore
	cache    domain.SnapshotCache    // may be nil
	archiver domain.SnapshotArchiver // may be nil

	interval        time.Duration
	keep            int
	archiveInterval time.Duration

	dirty       chan struct{}
	saves       int
	lastArchive time.Time
	logger      *slog.Logger
}

// New builds a persistence worker. cache and archiver may be nil.
func New(st *state.TradingState, store domain.SnapshotStore, cache domain.SnapshotCache, archiver domain.SnapshotArchiver, interval time.Duration, keep int, archiveInterval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		state:           st,
		store:           store,
		cache:           cache,
		archiver:        archiver,
		interval:        interval,
		keep:            keep,
		archiveInterval: archiveInterval,
		dirty:           make(chan struct{}, 1),
		logger:          logger.With(slog.String("component", "persist")),
	}
}

// Listener returns the state listener that marks the ledger dirty. The send
// is non-blocking: the flag is level-triggered, not counted.
func (w *Worker) Listener() state.Listener {
	return func(domain.StateSnapshot) {
		select {
		case w.dirty <- struct{}{}:
		default:
		}
	}
}

// MarkDirty forces a save on the next cycle, used by callers outside the
// listener path (e.g. after a restore).
func (w *Worker) MarkDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// Run writes a snapshot every interval while the ledger is dirty, and a final
// snapshot on shutdown. Blocks until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("persistence worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			// Final save regardless of the dirty flag; shutdown must leave
			// the freshest state on disk.
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.save(saveCtx)
			cancel()
			w.logger.Info("persistence worker stopped")
			return nil
		case <-ticker.C:
			select {
			case <-w.dirty:
				w.save(ctx)
			default:
			}
		}
	}
}

func (w *Worker) save(ctx context.Context) {
	snap := w.state.Snapshot()

	if err := w.store.SaveSnapshot(ctx, snap); err != nil {
		w.logger.Error("snapshot save failed", slog.Any("error", err))
		// Leave the flag set so the next cycle retries.
		w.MarkDirty()
		return
	}

	if w.cache != nil {
		if err := w.cache.SetLatest(ctx, snap); err != nil {
			w.logger.Warn("snapshot cache update failed", slog.Any("error", err))
		}
	}

	w.saves++
	if w.keep > 0 && w.saves%pruneEvery == 0 {
		pruned, err := w.store.PruneSnapshots(ctx, w.keep)
		if err != nil {
			w.logger.Warn("snapshot prune failed", slog.Any("error", err))
		} else if len(pruned) > 0 {
			w.logger.Debug("snapshots pruned", slog.Int("count", len(pruned)))
		}
	}

	if w.archiver != nil && time.Since(w.lastArchive) >= w.archiveInterval {
		if err := w.archiver.Archive(ctx, snap); err != nil {
			w.logger.Warn("snapshot archive failed", slog.Any("error", err))
		} else {
			w.lastArchive = time.Now()
		}
	}

	w.logger.Debug("snapshot saved",
		slog.String("id", snap.ID),
		slog.Float64("equity", snap.Equity),
	)
}

// Restore loads the most recent snapshot into the ledger: the cache first,
// the durable store as fallback. Returns domain.ErrNotFound when neither has
// a snapshot (a fresh deployment).
func (w *Worker) Restore(ctx context.Context) error {
	if w.cache != nil {
		snap, err := w.cache.GetLatest(ctx)
		if err == nil {
			w.state.RestoreFromSnapshot(snap)
			w.logger.Info("state restored from cache", slog.String("id", snap.ID))
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("cache restore failed, trying store", slog.Any("error", err))
		}
	}

	snap, err := w.store.LoadLatestSnapshot(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("persist: restore: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("persist: restore: %w", err)
	}

	w.state.RestoreFromSnapshot(snap)
	w.logger.Info("state restored from store", slog.String("id", snap.ID))
	return nil
}
