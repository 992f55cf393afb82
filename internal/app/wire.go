package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tradecore/internal/blob/s3"
	"github.com/alanyoungcy/tradecore/internal/cache/redis"
	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/fsm"
	"github.com/alanyoungcy/tradecore/internal/persist"
	"github.com/alanyoungcy/tradecore/internal/risk"
	"github.com/alanyoungcy/tradecore/internal/state"
	"github.com/alanyoungcy/tradecore/internal/store/postgres"
	"github.com/alanyoungcy/tradecore/internal/strategy"
)

// Dependencies bundles everything the trading modes need. Constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	State        *state.TradingState
	Machine      *fsm.Machine
	Registry     *strategy.Registry
	Orchestrator *strategy.Orchestrator
	Risk         *risk.Engine
	Sizer        *risk.PositionSizer

	// Persistence; all nil when persist.enabled is false.
	Persist  *persist.Worker
	Store    domain.SnapshotStore
	Cache    domain.SnapshotCache
	Archiver domain.SnapshotArchiver

	// Control surface; nil without redis.
	Control domain.ControlSurface
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		State:   state.New(cfg.Trading.InitialCash, logger),
		Machine: fsm.New(cfg.Risk.MaxPositions, cfg.Risk.CooldownAfterExit.Duration, logger),
	}
	deps.Risk = risk.NewEngine(deps.State, cfg.Risk, logger)
	deps.Sizer = risk.NewPositionSizer(cfg.Risk.MaxRiskPerTrade, cfg.Risk.MaxExposurePerAsset, cfg.Trading.MinOrderQty)

	deps.Registry = strategy.NewRegistry()
	registerStrategies(deps.Registry, cfg.Strategy, logger)
	deps.Orchestrator = strategy.NewOrchestrator(deps.Registry, cfg.Filters.MinConfidence, logger)

	// --- PostgreSQL (snapshot store) ---
	if cfg.Persist.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		deps.Store = postgres.NewSnapshotStore(pgClient.Pool())
	}

	// --- Redis (snapshot cache + control surface) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cache = redis.NewSnapshotCache(redisClient)
		deps.Control = redis.NewControlSurface(redisClient)
	}

	// --- S3 (snapshot archive) ---
	if cfg.Persist.Enabled && cfg.Persist.ArchiveEnabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3Client, "snapshots")
	}

	if cfg.Persist.Enabled {
		deps.Persist = persist.New(
			deps.State,
			deps.Store,
			deps.Cache,
			deps.Archiver,
			cfg.Persist.SaveInterval.Duration,
			cfg.Persist.KeepSnapshots,
			cfg.Persist.ArchiveInterval.Duration,
			logger,
		)
		deps.State.RegisterListener(deps.Persist.Listener())
	}

	return deps, cleanup, nil
}

// registerStrategies builds the enabled strategies from config.
func registerStrategies(reg *strategy.Registry, cfg config.StrategyConfig, logger *slog.Logger) {
	if cfg.MeanReversion.Enabled {
		reg.Register(strategy.NewMeanReversion(params(cfg.MeanReversion)))
	}
	if cfg.TrendContinuation.Enabled {
		reg.Register(strategy.NewTrendContinuation(params(cfg.TrendContinuation)))
	}
	logger.Info("strategies registered", slog.Any("names", reg.List()))
}

func params(p config.StrategyParams) strategy.Params {
	return strategy.Params{
		Weight:          p.Weight,
		Regimes:         p.Regimes,
		TimeExitMinutes: p.TimeExitMinutes,
	}
}

// restore loads the latest snapshot into the ledger. A fresh deployment with
// no snapshot anywhere is not an error.
func restore(ctx context.Context, deps *Dependencies, logger *slog.Logger) error {
	if deps.Persist == nil {
		return nil
	}
	if err := deps.Persist.Restore(ctx); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Info("no snapshot found, starting fresh")
			return nil
		}
		return fmt.Errorf("app: restore state: %w", err)
	}
	return nil
}
