package domain

import (
	"context"
	"time"
)

// TradeStore persists trade rows. It is the only state shared between
// controllers and the rest of the system.
//
// Callers must ensure a single controller writes a given trade id at a time;
// see LeaseManager.
type TradeStore interface {
	Create(ctx context.Context, c Candidate) (Trade, error)
	GetByID(ctx context.Context, id int64) (Trade, error)
	ListOpen(ctx context.Context) ([]Trade, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Trade, error)
	MarkOpen(ctx context.Context, id int64, price, target float64, at time.Time, key string) error
	MarkClosed(ctx context.Context, id int64, price float64, at time.Time, key string) error
	Checkpoint(ctx context.Context, id int64, highestBid, target float64, at time.Time) error
	Delete(ctx context.Context, id int64) error
	DeleteBatch(ctx context.Context, ids []int64) (int64, error)
}
