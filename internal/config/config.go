// Package config defines the top-level configuration for the trading agent
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WAVEBOT_* environment variables.
type Config struct {
	Exchange   ExchangeConfig   `toml:"exchange"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Trading    TradingConfig    `toml:"trading"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ExchangeConfig holds the push API endpoint.
type ExchangeConfig struct {
	WsURL string `toml:"ws_url"`
	// DialRateLimit caps websocket connects per DialRateWindow across all
	// processes sharing the Redis instance. Zero disables the limit.
	DialRateLimit  int      `toml:"dial_rate_limit"`
	DialRateWindow duration `toml:"dial_rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TradingConfig holds the controller thresholds and write policy.
type TradingConfig struct {
	StopLoss         float64 `toml:"stop_loss"`
	MaxSpread        float64 `toml:"max_spread"`
	StartAboveTarget float64 `toml:"start_above_target"`
	Epsilon          float64 `toml:"epsilon"`

	WriteRetries   int      `toml:"write_retries"`
	RetryBaseDelay duration `toml:"retry_base_delay"`

	// SymbolsFile points at an optional YAML file of per-symbol threshold
	// overrides.
	SymbolsFile string `toml:"symbols_file"`
}

// SupervisorConfig holds the per-trade task supervision parameters.
type SupervisorConfig struct {
	PollInterval duration `toml:"poll_interval"`
	// StaleAfter cancels an OPEN trade's task when its row has not been
	// updated for this long. Zero disables the check.
	StaleAfter  duration `toml:"stale_after"`
	BaseBackoff duration `toml:"base_backoff"`
	LeaseTTL    duration `toml:"lease_ttl"`
}

// ArchiveConfig holds closed-trade archival parameters.
type ArchiveConfig struct {
	RetentionDays int `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every route but /api/health. Empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with sensible default values suitable for
// local development.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			WsURL:          "wss://api2.poloniex.com",
			DialRateLimit:  0,
			DialRateWindow: duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wavebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wavebot",
			ForcePathStyle: true,
		},
		Trading: TradingConfig{
			StopLoss:         0.005,
			MaxSpread:        0.0025,
			StartAboveTarget: 0.015,
			Epsilon:          1e-10,
			WriteRetries:     5,
			RetryBaseDelay:   duration{500 * time.Millisecond},
		},
		Supervisor: SupervisorConfig{
			PollInterval: duration{10 * time.Second},
			StaleAfter:   duration{10 * time.Minute},
			BaseBackoff:  duration{time.Second},
			LeaseTTL:     duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   20,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_opened", "trade_closed", "trade_rejected"},
		},
		Mode:     "supervise",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":     true,
	"supervise": true,
	"server":    true,
	"archive":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, supervise, server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange
	if c.Exchange.WsURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}
	if c.Exchange.DialRateLimit < 0 {
		errs = append(errs, "exchange: dial_rate_limit must be >= 0")
	}
	if c.Exchange.DialRateLimit > 0 && c.Exchange.DialRateWindow.Duration <= 0 {
		errs = append(errs, "exchange: dial_rate_window must be > 0 when dial_rate_limit is set")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only touched by the archive mode.
	if strings.EqualFold(c.Mode, "archive") {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Trading
	if err := c.Trading.Thresholds().Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			errs = append(errs, "trading: "+line)
		}
	}
	if c.Trading.WriteRetries < 1 {
		errs = append(errs, "trading: write_retries must be >= 1")
	}
	if c.Trading.RetryBaseDelay.Duration <= 0 {
		errs = append(errs, "trading: retry_base_delay must be > 0")
	}

	// Supervisor
	if c.Supervisor.PollInterval.Duration <= 0 {
		errs = append(errs, "supervisor: poll_interval must be > 0")
	}
	if c.Supervisor.StaleAfter.Duration < 0 {
		errs = append(errs, "supervisor: stale_after must be >= 0")
	}
	if c.Supervisor.BaseBackoff.Duration <= 0 {
		errs = append(errs, "supervisor: base_backoff must be > 0")
	}
	if c.Supervisor.LeaseTTL.Duration < 3*time.Second {
		errs = append(errs, "supervisor: lease_ttl must be >= 3s")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
