package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// multipartThreshold is the payload size above which uploads are split.
const multipartThreshold = 16 * 1024 * 1024

// TradeArchiveStore is the part of the trade store the archiver needs.
type TradeArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
	DeleteBatch(ctx context.Context, ids []int64) (int64, error)
}

// archivedTrade is the JSONL record layout.
type archivedTrade struct {
	ID          int64      `json:"id"`
	Base        string     `json:"base"`
	Quote       string     `json:"quote"`
	OpenAverage float64    `json:"open_average"`
	Target      float64    `json:"target"`
	OpenPrice   *float64   `json:"open_price"`
	OpenAt      *time.Time `json:"open_at"`
	ClosePrice  *float64   `json:"close_price"`
	CloseAt     *time.Time `json:"close_at"`
	HighestBid  *float64   `json:"highest_bid"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Archiver implements domain.Archiver: closed trades are written as JSONL to
// object storage and then removed from the primary store.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	now    func() time.Time
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		now:    time.Now,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads every trade closed before the cutoff and deletes the
// uploaded rows. Rows are only deleted after the upload succeeded.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		a.logger.Info("nothing to archive", slog.Time("before", before))
		return 0, nil
	}

	buf, ids, err := marshalTrades(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before, a.now())
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBatch(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades delete after upload to %s: %w", path, err)
	}

	a.logger.Info("archived trades",
		slog.String("path", path),
		slog.Int("uploaded", len(trades)),
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}

func marshalTrades(trades []domain.Trade) ([]byte, []int64, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ids := make([]int64, 0, len(trades))
	for _, t := range trades {
		rec := archivedTrade{
			ID: t.ID, Base: t.Base, Quote: t.Quote,
			OpenAverage: t.OpenAverage, Target: t.Target,
			OpenPrice: t.OpenPrice, OpenAt: t.OpenAt,
			ClosePrice: t.ClosePrice, CloseAt: t.CloseAt,
			HighestBid: t.HighestBid,
			CreatedAt:  t.CreatedAt, UpdatedAt: t.UpdatedAt,
		}
		if err := enc.Encode(rec); err != nil {
			return nil, nil, err
		}
		ids = append(ids, t.ID)
	}
	return buf.Bytes(), ids, nil
}

// archivePath partitions archives by the cutoff month. The run time keeps
// repeated runs in the same month from overwriting each other.
//
//	archive/trades/2025-01/20250214T030000Z.jsonl
func archivePath(kind string, before, runAt time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, before.UTC().Format("2006-01"), runAt.UTC().Format("20060102T150405Z"))
}

var _ domain.Archiver = (*Archiver)(nil)
