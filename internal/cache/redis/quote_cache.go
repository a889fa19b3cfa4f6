package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// quoteTTL bounds how long a quote outlives its feed session.
const quoteTTL = 10 * time.Minute

// QuoteCache implements domain.QuoteCache.
//
// Key schema:
//
//	bbo:{symbol} - hash with fields "bid", "ask" and "ts" (unix nanos)
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func bboKey(symbol string) string { return "bbo:" + symbol }

// SetQuote replaces the stored book middle for q.Symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := bboKey(q.Symbol)
	pipe := qc.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"bid", strconv.FormatFloat(q.BestBid, 'f', -1, 64),
		"ask", strconv.FormatFloat(q.BestAsk, 'f', -1, 64),
		"ts", strconv.FormatInt(q.Time.UnixNano(), 10),
	)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote returns the stored book middle, or domain.ErrNotFound.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, bboKey(symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	q := domain.Quote{Symbol: symbol}
	if q.BestBid, err = strconv.ParseFloat(vals["bid"], 64); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s bid: %w", symbol, err)
	}
	if q.BestAsk, err = strconv.ParseFloat(vals["ask"], 64); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s ask: %w", symbol, err)
	}
	if ts, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		q.Time = time.Unix(0, ts).UTC()
	}
	return q, nil
}

var _ domain.QuoteCache = (*QuoteCache)(nil)
