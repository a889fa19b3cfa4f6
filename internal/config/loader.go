package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies WAVEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
//
// An empty path skips the file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known WAVEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.WsURL, "WAVEBOT_EXCHANGE_WS_URL")
	setInt(&cfg.Exchange.DialRateLimit, "WAVEBOT_EXCHANGE_DIAL_RATE_LIMIT")
	setDuration(&cfg.Exchange.DialRateWindow, "WAVEBOT_EXCHANGE_DIAL_RATE_WINDOW")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, "WAVEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "WAVEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WAVEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WAVEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WAVEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WAVEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WAVEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WAVEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WAVEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WAVEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WAVEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WAVEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WAVEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WAVEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WAVEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WAVEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WAVEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WAVEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "WAVEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WAVEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WAVEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WAVEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WAVEBOT_S3_FORCE_PATH_STYLE")

	// ── Trading ──
	setFloat64(&cfg.Trading.StopLoss, "WAVEBOT_TRADING_STOP_LOSS")
	setFloat64(&cfg.Trading.MaxSpread, "WAVEBOT_TRADING_MAX_SPREAD")
	setFloat64(&cfg.Trading.StartAboveTarget, "WAVEBOT_TRADING_START_ABOVE_TARGET")
	setFloat64(&cfg.Trading.Epsilon, "WAVEBOT_TRADING_EPSILON")
	setInt(&cfg.Trading.WriteRetries, "WAVEBOT_TRADING_WRITE_RETRIES")
	setDuration(&cfg.Trading.RetryBaseDelay, "WAVEBOT_TRADING_RETRY_BASE_DELAY")
	setStr(&cfg.Trading.SymbolsFile, "WAVEBOT_TRADING_SYMBOLS_FILE")

	// ── Supervisor ──
	setDuration(&cfg.Supervisor.PollInterval, "WAVEBOT_SUPERVISOR_POLL_INTERVAL")
	setDuration(&cfg.Supervisor.StaleAfter, "WAVEBOT_SUPERVISOR_STALE_AFTER")
	setDuration(&cfg.Supervisor.BaseBackoff, "WAVEBOT_SUPERVISOR_BASE_BACKOFF")
	setDuration(&cfg.Supervisor.LeaseTTL, "WAVEBOT_SUPERVISOR_LEASE_TTL")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "WAVEBOT_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WAVEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WAVEBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WAVEBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "WAVEBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "WAVEBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WAVEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WAVEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WAVEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WAVEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WAVEBOT_MODE")
	setStr(&cfg.LogLevel, "WAVEBOT_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present, non-empty and parses.

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
