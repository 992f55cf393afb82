// Package config defines the top-level configuration for the trading core and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// duration wraps time.Duration so TOML values like "30s" parse directly.
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADECORE_* environment
// variables.
type Config struct {
	Trading   TradingConfig   `toml:"trading"`
	Risk      RiskConfig      `toml:"risk"`
	Filters   FiltersConfig   `toml:"filters"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Executor  ExecutorConfig  `toml:"executor"`
	Exchange  ExchangeConfig  `toml:"exchange"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Persist   PersistConfig   `toml:"persist"`
	Profiling ProfilingConfig `toml:"profiling"`
	Mode      string          `toml:"mode"` // "paper" or "live"
	LogLevel  string          `toml:"log_level"`
	LogFile   string          `toml:"log_file"` // empty disables file output
}

// TradingConfig holds the scan-loop and account parameters.
type TradingConfig struct {
	InitialCash    float64  `toml:"initial_cash"`
	Leverage       float64  `toml:"leverage"`
	TakerFeeRate   float64  `toml:"taker_fee_rate"`
	TickInterval   duration `toml:"tick_interval"`
	UniverseSize   int      `toml:"universe_size"`
	MinVolume24h   float64  `toml:"min_volume_24h"`
	Symbols        []string `toml:"symbols"` // static universe; empty means use TopSymbols
	MinOrderQty    float64  `toml:"min_order_qty"`
	EnableOnStart  bool     `toml:"enable_on_start"`
	CandleInterval string   `toml:"candle_interval"`
	CandleDepth    int      `toml:"candle_depth"`
}

// RiskConfig holds the tunable parameters for the risk engine.
type RiskConfig struct {
	MaxRiskPerTrade       float64  `toml:"max_risk_per_trade"`
	MaxDailyLoss          float64  `toml:"max_daily_loss"`
	MaxDrawdown           float64  `toml:"max_drawdown"`
	MaxTradesPerDay       int      `toml:"max_trades_per_day"`
	MaxExposurePerAsset   float64  `toml:"max_exposure_per_asset"`
	MaxPositions          int      `toml:"max_positions"`
	AllowPositionStacking bool     `toml:"allow_position_stacking"`
	CooldownAfterExit     duration `toml:"cooldown_after_exit"`
}

// FiltersConfig holds the portfolio-level entry filters applied after risk
// approval.
type FiltersConfig struct {
	MinConfidence         float64 `toml:"min_confidence"`
	MaxCorrelation        float64 `toml:"max_correlation"`
	MaxPositionsPerSector int     `toml:"max_positions_per_sector"`
}

// StrategyParams configures a single registered strategy.
type StrategyParams struct {
	Enabled         bool     `toml:"enabled"`
	Weight          float64  `toml:"weight"`
	Regimes         []string `toml:"regimes"` // preferred regimes; "all" matches any
	TimeExitMinutes int      `toml:"time_exit_minutes"`
}

// StrategyConfig holds the orchestrator's strategy registry settings.
type StrategyConfig struct {
	MeanReversion     StrategyParams `toml:"mean_reversion"`
	TrendContinuation StrategyParams `toml:"trend_continuation"`
}

// ExecutorConfig holds order-execution parameters.
type ExecutorConfig struct {
	ReconcileInterval duration `toml:"reconcile_interval"`
	BaseSlippageBuy   float64  `toml:"base_slippage_buy"`
	BaseSlippageSell  float64  `toml:"base_slippage_sell"`
}

// ExchangeConfig holds venue API endpoints and credentials.
type ExchangeConfig struct {
	BaseURL        string   `toml:"base_url"`
	WSURL          string   `toml:"ws_url"`
	APIKey         string   `toml:"api_key"`
	APISecret      string   `toml:"api_secret"`
	RecvWindowMs   int      `toml:"recv_window_ms"`
	MaxRetries     int      `toml:"max_retries"`
	RequestTimeout duration `toml:"request_timeout"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
}

// PostgresConfig holds PostgreSQL connection parameters for the snapshot
// store.
type PostgresConfig struct {
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	SSLMode  string `toml:"ssl_mode"`
	MaxConns int    `toml:"pool_max_conns"`
	MinConns int    `toml:"pool_min_conns"`
}

// RedisConfig holds Redis connection parameters for the snapshot cache and
// the control surface.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the snapshot
// archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PersistConfig holds snapshot persistence cadence and retention.
type PersistConfig struct {
	Enabled         bool     `toml:"enabled"`
	SaveInterval    duration `toml:"save_interval"`
	KeepSnapshots   int      `toml:"keep_snapshots"`
	ArchiveEnabled  bool     `toml:"archive_enabled"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ProfilingConfig enables the optional pyroscope profiler.
type ProfilingConfig struct {
	Enabled       bool   `toml:"enabled"`
	ServerAddress string `toml:"server_address"`
}

// Defaults returns a Config populated with sane defaults for paper trading.
func Defaults() Config {
	return Config{
		Mode:     "paper",
		LogLevel: "info",
		Trading: TradingConfig{
			InitialCash:    10_000,
			Leverage:       10,
			TakerFeeRate:   0.00055,
			TickInterval:   duration{30 * time.Second},
			UniverseSize:   5,
			MinVolume24h:   5_000_000,
			MinOrderQty:    0.001,
			EnableOnStart:  true,
			CandleInterval: "1",
			CandleDepth:    100,
		},
		Risk: RiskConfig{
			MaxRiskPerTrade:     0.002,
			MaxDailyLoss:        0.005,
			MaxDrawdown:         0.05,
			MaxTradesPerDay:     10,
			MaxExposurePerAsset: 0.10,
			MaxPositions:        3,
			CooldownAfterExit:   duration{60 * time.Minute},
		},
		Filters: FiltersConfig{
			MinConfidence:         0.60,
			MaxCorrelation:        0.70,
			MaxPositionsPerSector: 2,
		},
		Strategy: StrategyConfig{
			MeanReversion:     StrategyParams{Enabled: true, Weight: 1.0, Regimes: []string{"ranging"}, TimeExitMinutes: 240},
			TrendContinuation: StrategyParams{Enabled: true, Weight: 1.0, Regimes: []string{"trending"}},
		},
		Executor: ExecutorConfig{
			ReconcileInterval: duration{30 * time.Second},
			BaseSlippageBuy:   0.0001,
			BaseSlippageSell:  0.0001,
		},
		Exchange: ExchangeConfig{
			BaseURL:        "https://api.bybit.com",
			WSURL:          "wss://stream.bybit.com/v5/private",
			RecvWindowMs:   5000,
			MaxRetries:     5,
			RequestTimeout: duration{15 * time.Second},
			RateLimitRPS:   8,
			RateLimitBurst: 16,
		},
		Persist: PersistConfig{
			Enabled:         true,
			SaveInterval:    duration{15 * time.Second},
			KeepSnapshots:   100,
			ArchiveInterval: duration{1 * time.Hour},
		},
	}
}

// Validate checks the configuration for inconsistencies that would make the
// core unsafe to run. It returns the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "paper", "live":
	default:
		return fmt.Errorf("config: unsupported mode %q (want paper or live)", c.Mode)
	}

	if c.Trading.InitialCash <= 0 {
		return fmt.Errorf("config: trading.initial_cash must be positive, got %v", c.Trading.InitialCash)
	}
	if c.Trading.Leverage < 1 {
		return fmt.Errorf("config: trading.leverage must be >= 1, got %v", c.Trading.Leverage)
	}
	if c.Trading.TickInterval.Duration <= 0 {
		return fmt.Errorf("config: trading.tick_interval must be positive")
	}

	if c.Risk.MaxRiskPerTrade <= 0 || c.Risk.MaxRiskPerTrade >= 1 {
		return fmt.Errorf("config: risk.max_risk_per_trade must be in (0,1), got %v", c.Risk.MaxRiskPerTrade)
	}
	if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss >= 1 {
		return fmt.Errorf("config: risk.max_daily_loss must be in (0,1), got %v", c.Risk.MaxDailyLoss)
	}
	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return fmt.Errorf("config: risk.max_drawdown must be in (0,1), got %v", c.Risk.MaxDrawdown)
	}
	if c.Risk.MaxPositions < 1 {
		return fmt.Errorf("config: risk.max_positions must be >= 1, got %d", c.Risk.MaxPositions)
	}
	if c.Risk.MaxTradesPerDay < 1 {
		return fmt.Errorf("config: risk.max_trades_per_day must be >= 1, got %d", c.Risk.MaxTradesPerDay)
	}

	if c.Filters.MinConfidence < 0 || c.Filters.MinConfidence > 1 {
		return fmt.Errorf("config: filters.min_confidence must be in [0,1], got %v", c.Filters.MinConfidence)
	}

	if strings.ToLower(c.Mode) == "live" {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("config: live mode requires exchange.api_key and exchange.api_secret")
		}
	}

	if c.Persist.Enabled {
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			return fmt.Errorf("config: persist.enabled requires postgres.dsn or postgres.host")
		}
		if c.Persist.KeepSnapshots < 1 {
			return fmt.Errorf("config: persist.keep_snapshots must be >= 1, got %d", c.Persist.KeepSnapshots)
		}
		if c.Persist.ArchiveEnabled && c.S3.Bucket == "" {
			return fmt.Errorf("config: persist.archive_enabled requires s3.bucket")
		}
	}

	return nil
}
