package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wavebot/internal/controller"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, controller.DefaultThresholds(), cfg.Trading.Thresholds())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "arbitrage"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Trading.StopLoss = 0
	cfg.Trading.WriteRetries = 0
	cfg.Supervisor.LeaseTTL = duration{time.Second}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "arbitrage"`)
	assert.Contains(t, msg, `unknown log_level "loud"`)
	assert.Contains(t, msg, "redis: addr must not be empty")
	assert.Contains(t, msg, "trading: stop_loss must be in (0, 1)")
	assert.Contains(t, msg, "trading: write_retries must be >= 1")
	assert.Contains(t, msg, "supervisor: lease_ttl must be >= 3s")
}

func TestValidateArchiveNeedsBucket(t *testing.T) {
	cfg := Defaults()
	cfg.S3.Bucket = ""
	require.NoError(t, cfg.Validate())

	cfg.Mode = "archive"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket must not be empty")
}

func TestValidatePostgresDSNSkipsFields(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	require.Error(t, cfg.Validate())

	cfg.Postgres.DSN = "postgres://u:p@db:5432/wavebot"
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wavebot.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "trade"

[trading]
max_spread = 0.004
retry_base_delay = "250ms"

[supervisor]
poll_interval = "3s"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.Mode)
	assert.Equal(t, 0.004, cfg.Trading.MaxSpread)
	assert.Equal(t, 0.005, cfg.Trading.StopLoss)
	assert.Equal(t, 250*time.Millisecond, cfg.Trading.RetryBaseDelay.Duration)
	assert.Equal(t, 3*time.Second, cfg.Supervisor.PollInterval.Duration)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadBadFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[trading`), 0o600))
	_, err = Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WAVEBOT_MODE", "archive")
	t.Setenv("WAVEBOT_POSTGRES_DSN", "postgres://env")
	t.Setenv("WAVEBOT_REDIS_DB", "4")
	t.Setenv("WAVEBOT_TRADING_STOP_LOSS", "0.01")
	t.Setenv("WAVEBOT_SUPERVISOR_STALE_AFTER", "2m")
	t.Setenv("WAVEBOT_SERVER_ENABLED", "false")
	t.Setenv("WAVEBOT_NOTIFY_EVENTS", "trade_closed, ,trade_opened")
	t.Setenv("WAVEBOT_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "archive", cfg.Mode)
	assert.Equal(t, "postgres://env", cfg.Postgres.DSN)
	assert.Equal(t, 4, cfg.Redis.DB)
	assert.Equal(t, 0.01, cfg.Trading.StopLoss)
	assert.Equal(t, 2*time.Minute, cfg.Supervisor.StaleAfter.Duration)
	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, []string{"trade_closed", "trade_opened"}, cfg.Notify.Events)
	assert.Equal(t, 8000, cfg.Server.Port, "unparsable values are ignored")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Notify.TelegramToken = "tg"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.S3.AccessKey, "empty fields stay empty")

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "trade_opened", cfg.Notify.Events[0])
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
}

func TestSymbolThresholds(t *testing.T) {
	base := controller.DefaultThresholds()

	res, err := parseSymbolThresholds([]byte(`
symbols:
  usdt_ltc:
    stop_loss: 0.01
  USDT_ETH:
    max_spread: 0.004
    start_above_target: 0.02
`), NewSymbolThresholds(base))
	require.NoError(t, err)

	ltc := res.For("USDT_LTC")
	assert.Equal(t, 0.01, ltc.StopLoss)
	assert.Equal(t, base.MaxSpread, ltc.MaxSpread)

	eth := res.For("usdt_eth")
	assert.Equal(t, 0.004, eth.MaxSpread)
	assert.Equal(t, 0.02, eth.StartAboveTarget)
	assert.Equal(t, base.StopLoss, eth.StopLoss)

	assert.Equal(t, base, res.For("BTC_XMR"))
	assert.ElementsMatch(t, []string{"USDT_LTC", "USDT_ETH"}, res.Symbols())
}

func TestSymbolThresholdsInvalid(t *testing.T) {
	_, err := parseSymbolThresholds([]byte(`
symbols:
  USDT_LTC:
    stop_loss: 2
`), NewSymbolThresholds(controller.DefaultThresholds()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USDT_LTC")

	_, err = parseSymbolThresholds([]byte(`symbols: [`), NewSymbolThresholds(controller.DefaultThresholds()))
	require.Error(t, err)
}

func TestLoadSymbolThresholdsFile(t *testing.T) {
	res, err := LoadSymbolThresholds("", controller.DefaultThresholds())
	require.NoError(t, err)
	assert.Empty(t, res.Symbols())

	path := filepath.Join(t.TempDir(), "symbols.yaml")
	require.NoError(t, os.WriteFile(path, []byte("symbols:\n  USDT_LTC:\n    epsilon: 0.000001\n"), 0o600))
	res, err = LoadSymbolThresholds(path, controller.DefaultThresholds())
	require.NoError(t, err)
	assert.Equal(t, 0.000001, res.For("USDT_LTC").Epsilon)

	_, err = LoadSymbolThresholds(filepath.Join(t.TempDir(), "nope.yaml"), controller.DefaultThresholds())
	require.Error(t, err)
}
