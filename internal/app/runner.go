package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wavebot/internal/cache/redis"
	"github.com/alanyoungcy/wavebot/internal/controller"
	"github.com/alanyoungcy/wavebot/internal/domain"
	"github.com/alanyoungcy/wavebot/internal/feed"
	"github.com/alanyoungcy/wavebot/internal/supervisor"
)

// dialRateKey is the limiter key shared by every process dialing the feed.
const dialRateKey = "ws:dial"

// ThresholdSource resolves controller thresholds per symbol.
type ThresholdSource interface {
	For(symbol string) controller.Thresholds
}

// tradeRunner drives one trade: it claims the trade's lease, re-reads the
// row, and runs a feed session into a fresh controller.
type tradeRunner struct {
	trades     domain.TradeStore
	leases     domain.LeaseManager
	leaseTTL   time.Duration
	thresholds ThresholdSource
	dial       feed.Dialer
	quotes     feed.BookPublisher
	opts       controller.Options
	logger     *slog.Logger
}

// Run implements supervisor.Runner.
func (r *tradeRunner) Run(ctx context.Context, tr domain.Trade) error {
	return supervisor.WithLease(ctx, r.leases, redis.TradeLeaseKey(tr.ID), r.leaseTTL, r.logger,
		func(ctx context.Context) error {
			return r.runLeased(ctx, tr.ID)
		})
}

func (r *tradeRunner) runLeased(ctx context.Context, id int64) error {
	// The listed row may predate a write by the previous lease holder.
	tr, err := r.trades.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Info("trade gone before start", slog.Int64("trade_id", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("runner: load trade %d: %w", id, err)
	}
	if tr.State() == domain.TradeClosed {
		return nil
	}

	ctrl := controller.New(tr, r.thresholds.For(tr.Symbol()), r.trades, r.logger, r.opts)
	sess := feed.NewSession(r.dial, tr.Symbol(), ctrl, r.logger.With(slog.Int64("trade_id", tr.ID)))
	if r.quotes != nil {
		sess.SetPublisher(r.quotes)
	}
	return sess.Run(ctx)
}

// rateLimitedDialer waits on limiter before each dial. A nil limiter or
// non-positive limit returns dial unchanged.
func rateLimitedDialer(dial feed.Dialer, limiter domain.RateLimiter, limit int, window time.Duration) feed.Dialer {
	if limiter == nil || limit <= 0 {
		return dial
	}
	return func(ctx context.Context) (feed.Conn, error) {
		if err := limiter.Wait(ctx, dialRateKey, limit, window); err != nil {
			return nil, fmt.Errorf("dial rate limit: %w", err)
		}
		return dial(ctx)
	}
}

func (a *App) newTradeRunner(deps *Dependencies) *tradeRunner {
	dial := rateLimitedDialer(
		feed.PoloniexDialer(a.cfg.Exchange.WsURL),
		deps.RateLimiter,
		a.cfg.Exchange.DialRateLimit,
		a.cfg.Exchange.DialRateWindow.Duration,
	)
	return &tradeRunner{
		trades:     deps.TradeStore,
		leases:     deps.Leases,
		leaseTTL:   a.cfg.Supervisor.LeaseTTL.Duration,
		thresholds: deps.Thresholds,
		dial:       dial,
		quotes:     deps.Quotes,
		opts: controller.Options{
			WriteRetries:   a.cfg.Trading.WriteRetries,
			RetryBaseDelay: a.cfg.Trading.RetryBaseDelay.Duration,
			Sink:           deps.Events,
		},
		logger: a.logger.With(slog.String("component", "runner")),
	}
}
