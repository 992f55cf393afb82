package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADECORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADECORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "TRADECORE_MODE")
	setStr(&cfg.LogLevel, "TRADECORE_LOG_LEVEL")
	setStr(&cfg.LogFile, "TRADECORE_LOG_FILE")

	setFloat64(&cfg.Trading.InitialCash, "TRADECORE_TRADING_INITIAL_CASH")
	setFloat64(&cfg.Trading.Leverage, "TRADECORE_TRADING_LEVERAGE")
	setDuration(&cfg.Trading.TickInterval, "TRADECORE_TRADING_TICK_INTERVAL")
	setStringSlice(&cfg.Trading.Symbols, "TRADECORE_TRADING_SYMBOLS")
	setBool(&cfg.Trading.EnableOnStart, "TRADECORE_TRADING_ENABLE_ON_START")

	setFloat64(&cfg.Risk.MaxRiskPerTrade, "TRADECORE_RISK_MAX_RISK_PER_TRADE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "TRADECORE_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxDrawdown, "TRADECORE_RISK_MAX_DRAWDOWN")
	setInt(&cfg.Risk.MaxTradesPerDay, "TRADECORE_RISK_MAX_TRADES_PER_DAY")
	setInt(&cfg.Risk.MaxPositions, "TRADECORE_RISK_MAX_POSITIONS")
	setBool(&cfg.Risk.AllowPositionStacking, "TRADECORE_RISK_ALLOW_POSITION_STACKING")

	setStr(&cfg.Exchange.BaseURL, "TRADECORE_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WSURL, "TRADECORE_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.APIKey, "TRADECORE_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "TRADECORE_EXCHANGE_API_SECRET")

	setStr(&cfg.Postgres.DSN, "TRADECORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADECORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADECORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADECORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADECORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADECORE_POSTGRES_PASSWORD")

	setStr(&cfg.Redis.Addr, "TRADECORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADECORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADECORE_REDIS_DB")

	setStr(&cfg.S3.Endpoint, "TRADECORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADECORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADECORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADECORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADECORE_S3_SECRET_KEY")

	setBool(&cfg.Persist.Enabled, "TRADECORE_PERSIST_ENABLED")
	setBool(&cfg.Persist.ArchiveEnabled, "TRADECORE_PERSIST_ARCHIVE_ENABLED")

	setBool(&cfg.Profiling.Enabled, "TRADECORE_PROFILING_ENABLED")
	setStr(&cfg.Profiling.ServerAddress, "TRADECORE_PROFILING_SERVER_ADDRESS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
