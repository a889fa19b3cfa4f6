package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, base, quote, open_average, target,
	open_price, open_at, close_price, close_at, highest_bid,
	last_action_id, created_at, updated_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	err := row.Scan(
		&t.ID, &t.Base, &t.Quote, &t.OpenAverage, &t.Target,
		&t.OpenPrice, &t.OpenAt, &t.ClosePrice, &t.CloseAt, &t.HighestBid,
		&t.LastActionID, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	defer rows.Close()
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Create inserts a trade awaiting entry from a promoted candidate.
func (s *TradeStore) Create(ctx context.Context, c domain.Candidate) (domain.Trade, error) {
	if err := c.Validate(); err != nil {
		return domain.Trade{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO trades (base, quote, target, open_average)
		VALUES ($1, $2, $3, $4)
		RETURNING `+tradeSelectCols,
		c.Base, c.Quote, c.Target, c.OpenAverage,
	)
	t, err := scanTrade(row)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("postgres: create trade %s_%s: %w", c.Base, c.Quote, err)
	}
	return t, nil
}

// GetByID returns the trade with the given id.
func (s *TradeStore) GetByID(ctx context.Context, id int64) (domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %d: %w", id, err)
	}
	return t, nil
}

// ListOpen returns every trade that is awaiting entry or open.
func (s *TradeStore) ListOpen(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades WHERE close_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open trades: %w", err)
	}
	return trades, nil
}

// ListClosedBefore returns closed trades with close_at before the cutoff.
func (s *TradeStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM trades
		 WHERE close_at IS NOT NULL AND close_at < $1
		 ORDER BY close_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}

// MarkOpen records the entry fill. Repeating the call with the same key
// after it already landed succeeds; any other write to an opened trade
// returns domain.ErrAlreadyExists.
func (s *TradeStore) MarkOpen(ctx context.Context, id int64, price, target float64, at time.Time, key string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades
		SET open_price = $2, target = $3, open_at = $4, updated_at = $4,
		    highest_bid = NULL, last_action_id = $5
		WHERE id = $1 AND close_at IS NULL
		  AND (open_price IS NULL OR last_action_id = $5)`,
		id, price, target, at, key,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark trade %d open: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrMissing(ctx, id)
	}
	return nil
}

// MarkClosed records the exit fill, with the same key semantics as MarkOpen.
func (s *TradeStore) MarkClosed(ctx context.Context, id int64, price float64, at time.Time, key string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades
		SET close_price = $2, close_at = $3, updated_at = $3, last_action_id = $4
		WHERE id = $1 AND open_price IS NOT NULL
		  AND (close_at IS NULL OR last_action_id = $4)`,
		id, price, at, key,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark trade %d closed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrMissing(ctx, id)
	}
	return nil
}

// Checkpoint refreshes the recovery fields of an open trade. The stored
// target only moves up.
func (s *TradeStore) Checkpoint(ctx context.Context, id int64, highestBid, target float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades
		SET highest_bid = $2, target = GREATEST(target, $3), updated_at = $4
		WHERE id = $1 AND open_price IS NOT NULL AND close_at IS NULL`,
		id, highestBid, target, at,
	)
	if err != nil {
		return fmt.Errorf("postgres: checkpoint trade %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a trade that never entered.
func (s *TradeStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE id = $1 AND open_price IS NULL`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete trade %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.conflictOrMissing(ctx, id)
	}
	return nil
}

// DeleteBatch removes closed trades by id and returns how many went.
func (s *TradeStore) DeleteBatch(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trades WHERE id = ANY($1) AND close_at IS NOT NULL`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %d trades: %w", len(ids), err)
	}
	return tag.RowsAffected(), nil
}

func (s *TradeStore) conflictOrMissing(ctx context.Context, id int64) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM trades WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check trade %d: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return fmt.Errorf("postgres: trade %d: %w", id, domain.ErrAlreadyExists)
}
