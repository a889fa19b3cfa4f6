package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/alanyoungcy/wavebot/internal/cache/redis"
	"github.com/alanyoungcy/wavebot/internal/domain"
	"github.com/alanyoungcy/wavebot/internal/server/handler"
)

type emptyTrades struct{}

func (emptyTrades) Create(context.Context, domain.Candidate) (domain.Trade, error) {
	return domain.Trade{}, nil
}
func (emptyTrades) GetByID(context.Context, int64) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (emptyTrades) ListOpen(context.Context) ([]domain.Trade, error) { return nil, nil }

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	client := rediscache.NewFromRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	handlers := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{"redis": client}, logger),
		Trades: handler.NewTradeHandler(emptyTrades{}, logger),
		Book:   handler.NewBookHandler(rediscache.NewQuoteCache(client), logger),
	}
	return NewServer(cfg, handlers, rediscache.NewRateLimiter(client), logger)
}

func do(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	h := newTestServer(t, Config{}).Handler()

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/trades", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/trades/9", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/book/USDT_LTC", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(h, http.MethodDelete, "/api/trades/9", nil).Code)
}

func TestAuth(t *testing.T) {
	h := newTestServer(t, Config{APIKey: "s3cret"}).Handler()

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/health", nil).Code, "health is open")
	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/api/trades", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		do(h, http.MethodGet, "/api/trades", http.Header{"X-Api-Key": {"wrong"}}).Code)
	assert.Equal(t, http.StatusOK,
		do(h, http.MethodGet, "/api/trades", http.Header{"X-Api-Key": {"s3cret"}}).Code)
	assert.Equal(t, http.StatusOK,
		do(h, http.MethodGet, "/api/trades", http.Header{"Authorization": {"Bearer s3cret"}}).Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestServer(t, Config{RateLimit: 2}).Handler()
	from := http.Header{"X-Forwarded-For": {"203.0.113.9"}}

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/trades", from).Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/trades", from).Code)
	rec := do(h, http.MethodGet, "/api/trades", from)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	other := http.Header{"X-Forwarded-For": {"198.51.100.1"}}
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/api/trades", other).Code)
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, Config{CORSOrigins: []string{"http://localhost:3000"}, APIKey: "k"}).Handler()

	rec := do(h, http.MethodOptions, "/api/trades", http.Header{"Origin": {"http://localhost:3000"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(h, http.MethodGet, "/api/health", http.Header{"Origin": {"http://evil.example"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	rec = do(h, http.MethodOptions, "/api/trades", http.Header{"Origin": {"http://evil.example"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORSWildcard(t *testing.T) {
	h := newTestServer(t, Config{CORSOrigins: []string{"*"}}).Handler()

	rec := do(h, http.MethodOptions, "/api/trades", http.Header{"Origin": {"https://dash.example"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}
