package domain

import (
	"context"
	"time"
)

// Lease is a held claim on a key. Renew extends it; Release gives it up.
type Lease interface {
	Renew(ctx context.Context) error
	Release()
	TTL() time.Duration
}

// LeaseManager hands out exclusive, expiring claims.
type LeaseManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// QuoteCache stores the latest book middle per symbol.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter admits at most limit requests per key within a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}
