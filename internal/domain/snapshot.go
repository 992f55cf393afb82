package domain

import (
	"context"
	"time"
)

// StateSnapshot is a serializable projection of the trading ledger, used for
// persistence and crash recovery.
type StateSnapshot struct {
	ID               string              `json:"id" msgpack:"id"`
	Cash             float64             `json:"cash" msgpack:"cash"`
	Equity           float64             `json:"equity" msgpack:"equity"`
	PeakEquity       float64             `json:"peak_equity" msgpack:"peak_equity"`
	Drawdown         float64             `json:"drawdown" msgpack:"drawdown"`
	DrawdownPercent  float64             `json:"drawdown_percent" msgpack:"drawdown_percent"`
	TradingEnabled   bool                `json:"trading_enabled" msgpack:"trading_enabled"`
	DailyPnL         float64             `json:"daily_pnl" msgpack:"daily_pnl"`
	TradesToday      int                 `json:"trades_today" msgpack:"trades_today"`
	OpenPositions    map[string]Position `json:"open_positions" msgpack:"open_positions"`
	OpenOrders       map[string]Order    `json:"open_orders" msgpack:"open_orders"`
	ExposurePerAsset map[string]float64  `json:"exposure_per_asset" msgpack:"exposure_per_asset"`
	Timestamp        time.Time           `json:"timestamp" msgpack:"timestamp"`
}

// SnapshotStore is the durable storage contract for ledger snapshots.
// LoadLatestSnapshot returns ErrNotFound when nothing has been saved yet.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s StateSnapshot) error
	LoadLatestSnapshot(ctx context.Context) (StateSnapshot, error)
	// PruneSnapshots deletes all but the newest keep rows and returns the
	// ids it removed.
	PruneSnapshots(ctx context.Context, keep int) ([]string, error)
}

// SnapshotCache is the hot-path cache for the most recent snapshot.
// GetLatest returns ErrNotFound when the cache is empty.
type SnapshotCache interface {
	SetLatest(ctx context.Context, s StateSnapshot) error
	GetLatest(ctx context.Context) (StateSnapshot, error)
}

// SnapshotArchiver ships snapshot history to cold storage.
type SnapshotArchiver interface {
	Archive(ctx context.Context, s StateSnapshot) error
}
