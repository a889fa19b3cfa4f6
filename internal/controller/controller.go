// Package controller runs the per-trade decision state machine. Step is the
// pure transition function; Controller applies its actions to the trade
// store.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/wavebot/internal/domain"
	"github.com/alanyoungcy/wavebot/internal/orderbook"
	"github.com/alanyoungcy/wavebot/internal/platform/poloniex"
	"github.com/alanyoungcy/wavebot/internal/retry"
)

// EventSink receives trade lifecycle events.
type EventSink interface {
	Emit(ctx context.Context, ev domain.TradeEvent) error
}

// Options tunes write retries and side channels. Zero values pick defaults.
type Options struct {
	WriteRetries   int
	RetryBaseDelay time.Duration
	Sink           EventSink
	Now            func() time.Time
}

// Controller owns the in-memory state of one trade. It is not safe for
// concurrent use; the feed session drives it from a single goroutine.
type Controller struct {
	trade      domain.Trade
	thresholds Thresholds
	store      domain.TradeStore
	sink       EventSink
	state      State

	retries   int
	baseDelay time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Controller resumed from the stored trade row.
func New(trade domain.Trade, th Thresholds, store domain.TradeStore, logger *slog.Logger, opts Options) *Controller {
	c := &Controller{
		trade:      trade,
		thresholds: th,
		store:      store,
		sink:       opts.Sink,
		state:      Resume(trade),
		retries:    opts.WriteRetries,
		baseDelay:  opts.RetryBaseDelay,
		now:        opts.Now,
		logger: logger.With(
			slog.String("component", "controller"),
			slog.Int64("trade_id", trade.ID),
			slog.String("symbol", trade.Symbol()),
		),
	}
	if c.retries <= 0 {
		c.retries = 5
	}
	if c.baseDelay <= 0 {
		c.baseDelay = 500 * time.Millisecond
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Trade returns the trade this controller was created for.
func (c *Controller) Trade() domain.Trade { return c.trade }

// State returns a copy of the current state. The book is shared.
func (c *Controller) State() State { return c.state }

// Done reports whether the trade reached a terminal state.
func (c *Controller) Done() bool { return c.state.Done }

// Middle resolves the best bid and ask of the current book.
func (c *Controller) Middle() domain.BookMiddle {
	return orderbook.FindMiddle(c.state.Book)
}

// Handle feeds one message through Step and executes the resulting actions.
// It reports whether the trade is finished. A returned error is fatal to the
// session: it wraps domain.ErrPersistence when a decided write could not be
// stored, or domain.ErrMalformedFrame when the book rejected an update.
func (c *Controller) Handle(ctx context.Context, msg poloniex.Message) (bool, error) {
	next, actions := Step(c.thresholds, c.state, msg, c.now())
	for _, a := range actions {
		if err := c.apply(ctx, a); err != nil {
			return false, err
		}
	}
	c.state = next
	return next.Done, nil
}

func (c *Controller) apply(ctx context.Context, a Action) error {
	id := c.trade.ID

	switch a := a.(type) {
	case Enter:
		key := uuid.NewString()
		if err := c.write(ctx, "mark open", func(ctx context.Context) error {
			return c.store.MarkOpen(ctx, id, a.Price, a.Target, a.At, key)
		}); err != nil {
			return err
		}
		c.logger.Info("entered trade",
			slog.Float64("price", a.Price),
			slog.Float64("target", a.Target),
		)
		c.emit(ctx, domain.TradeEvent{Event: domain.EventTradeOpened, Price: a.Price, Target: a.Target, Time: a.At})

	case Exit:
		key := uuid.NewString()
		if err := c.write(ctx, "mark closed", func(ctx context.Context) error {
			return c.store.MarkClosed(ctx, id, a.Price, a.At, key)
		}); err != nil {
			return err
		}
		c.logger.Info("exited trade", slog.Float64("price", a.Price))
		c.emit(ctx, domain.TradeEvent{Event: domain.EventTradeClosed, Price: a.Price, Time: a.At})

	case Checkpoint:
		if err := c.write(ctx, "checkpoint", func(ctx context.Context) error {
			return c.store.Checkpoint(ctx, id, a.HighestBid, a.Target, a.At)
		}); err != nil {
			return err
		}
		c.logger.Debug("checkpoint",
			slog.Float64("highest_bid", a.HighestBid),
			slog.Float64("target", a.Target),
		)

	case Reject:
		if err := c.write(ctx, "delete", func(ctx context.Context) error {
			err := c.store.Delete(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return err
		}); err != nil {
			return err
		}
		c.logger.Info("rejected trade", slog.String("reason", a.Reason))
		c.emit(ctx, domain.TradeEvent{Event: domain.EventTradeRejected, Reason: a.Reason, Time: c.now()})

	case Resync:
		c.logger.Warn("order book dropped, waiting for snapshot")

	case Fault:
		return fmt.Errorf("controller: trade %d: %w: %v", id, domain.ErrMalformedFrame, a.Err)
	}
	return nil
}

// write retries op with backoff. Not-found and conflict answers from the
// store are final.
func (c *Controller) write(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, c.retries, c.baseDelay, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAlreadyExists) {
			return retry.Permanent(err)
		}
		c.logger.Warn("store write failed",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("controller: trade %d: %s: %w: %w", c.trade.ID, op, domain.ErrPersistence, err)
	}
	return nil
}

func (c *Controller) emit(ctx context.Context, ev domain.TradeEvent) {
	if c.sink == nil {
		return
	}
	ev.TradeID = c.trade.ID
	ev.Symbol = c.trade.Symbol()
	if err := c.sink.Emit(ctx, ev); err != nil {
		c.logger.Warn("emit trade event failed",
			slog.String("event", ev.Event),
			slog.String("error", err.Error()),
		)
	}
}
