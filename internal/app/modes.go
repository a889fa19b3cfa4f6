package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/wavebot/internal/cache/redis"
	"github.com/alanyoungcy/wavebot/internal/notify"
	"github.com/alanyoungcy/wavebot/internal/server"
	"github.com/alanyoungcy/wavebot/internal/server/handler"
	"github.com/alanyoungcy/wavebot/internal/server/ws"
	"github.com/alanyoungcy/wavebot/internal/supervisor"
)

// TradeMode drives a single trade until it closes or is rejected.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies, tradeID int64) error {
	a.logger.InfoContext(ctx, "starting trade mode", slog.Int64("trade_id", tradeID))

	tr, err := deps.TradeStore.GetByID(ctx, tradeID)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	stopNotify := a.startNotifyForwarder(ctx, g, deps)

	g.Go(func() error {
		defer stopNotify()
		return a.newTradeRunner(deps).Run(ctx, tr)
	})
	return g.Wait()
}

// SuperviseMode runs one task per open trade, plus the notification
// forwarder and the HTTP server when enabled.
func (a *App) SuperviseMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting supervise mode")

	g, ctx := errgroup.WithContext(ctx)

	sup := supervisor.New(deps.TradeStore, a.newTradeRunner(deps).Run, supervisor.Config{
		PollInterval: a.cfg.Supervisor.PollInterval.Duration,
		StaleAfter:   a.cfg.Supervisor.StaleAfter.Duration,
		BaseBackoff:  a.cfg.Supervisor.BaseBackoff.Duration,
	}, a.logger)

	g.Go(func() error {
		err := sup.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.startNotifyForwarder(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// ServerMode serves the HTTP API only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ArchiveMode moves closed trades older than the retention window to object
// storage once and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode requires blob storage")
	}
	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode", slog.Time("before", before))

	n, err := deps.Archiver.ArchiveTrades(ctx, before)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete", slog.Int64("trades", n))
	return nil
}

// startNotifyForwarder adds the trade event forwarder to g when any sender
// is configured. The returned func stops it early.
func (a *App) startNotifyForwarder(ctx context.Context, g *errgroup.Group, deps *Dependencies) func() {
	if deps.Notifier == nil || !deps.Notifier.Enabled() {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	fwd := notify.NewForwarder(deps.SignalBus, redis.TradesChannel, deps.Notifier, a.logger)
	g.Go(func() error {
		err := fwd.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	return cancel
}

// startHTTPServer adds an HTTP server goroutine to g. The server is shut down
// gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.Postgres,
			"redis":    deps.Redis,
		}, a.logger),
		Trades: handler.NewTradeHandler(deps.TradeStore, a.logger),
		Book:   handler.NewBookHandler(deps.Quotes, a.logger),
		Live:   ws.NewHub(deps.SignalBus, redis.TradesChannel, a.cfg.Mode, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(func() error {
		err := handlers.Live.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
