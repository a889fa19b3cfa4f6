// Package supervisor keeps one task running per open trade and restarts
// tasks that fail, panic or go stale.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alanyoungcy/wavebot/internal/domain"
	"github.com/alanyoungcy/wavebot/internal/retry"
)

// TradeLister lists trades that still need a controller.
type TradeLister interface {
	ListOpen(ctx context.Context) ([]domain.Trade, error)
}

// Runner drives one trade until it finishes or ctx is cancelled.
type Runner func(ctx context.Context, trade domain.Trade) error

// Config controls polling, staleness and restart pacing.
type Config struct {
	PollInterval time.Duration
	StaleAfter   time.Duration
	BaseBackoff  time.Duration
}

// Stats is a point-in-time view of the supervised tasks.
type Stats struct {
	Running  int     `json:"running"`
	Waiting  int     `json:"waiting"`
	TradeIDs []int64 `json:"trade_ids"`
}

type task struct {
	cancel    context.CancelFunc
	running   bool
	startedAt time.Time
	failures  int
	nextStart time.Time
}

// Supervisor polls the store and runs one task per open trade. Each task is
// its own failure domain.
type Supervisor struct {
	trades TradeLister
	run    Runner
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[int64]*task
	wg    sync.WaitGroup
}

// New creates a Supervisor. Zero config values pick defaults.
func New(trades TradeLister, run Runner, cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	return &Supervisor{
		trades: trades,
		run:    run,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "supervisor")),
		tasks:  make(map[int64]*task),
	}
}

// Run polls until ctx is cancelled, then cancels every task and waits for
// them to return.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started",
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Duration("stale_after", s.cfg.StaleAfter),
	)
	defer s.logger.Info("supervisor stopped")
	defer s.wg.Wait()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.poll(ctx)
		select {
		case <-ctx.Done():
			s.stopAll()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats reports the current tasks.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{TradeIDs: make([]int64, 0, len(s.tasks))}
	for id, t := range s.tasks {
		if t.running {
			st.Running++
			st.TradeIDs = append(st.TradeIDs, id)
		} else {
			st.Waiting++
		}
	}
	return st
}

func (s *Supervisor) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	trades, err := s.trades.ListOpen(ctx)
	if err != nil {
		s.logger.Error("list open trades failed", slog.String("error", err.Error()))
		return
	}

	now := s.now()
	open := make(map[int64]struct{}, len(trades))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tr := range trades {
		open[tr.ID] = struct{}{}
		t := s.tasks[tr.ID]

		if t != nil && t.running {
			if s.stale(tr, t, now) {
				s.logger.Warn("trade stale, restarting",
					slog.Int64("trade_id", tr.ID),
					slog.Time("updated_at", tr.UpdatedAt),
				)
				t.cancel()
			}
			continue
		}
		if t != nil && now.Before(t.nextStart) {
			continue
		}
		if t == nil {
			t = &task{}
			s.tasks[tr.ID] = t
		}
		s.start(ctx, tr, t, now)
	}

	for id, t := range s.tasks {
		if _, ok := open[id]; !ok && !t.running {
			delete(s.tasks, id)
		}
	}
}

func (s *Supervisor) stale(tr domain.Trade, t *task, now time.Time) bool {
	if s.cfg.StaleAfter <= 0 || tr.State() != domain.TradeOpen {
		return false
	}
	return now.Sub(tr.UpdatedAt) > s.cfg.StaleAfter && now.Sub(t.startedAt) > s.cfg.StaleAfter
}

// start must be called with s.mu held.
func (s *Supervisor) start(ctx context.Context, tr domain.Trade, t *task, now time.Time) {
	taskCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true
	t.startedAt = now

	logger := s.logger.With(slog.Int64("trade_id", tr.ID), slog.String("symbol", tr.Symbol()))
	logger.Info("starting trade task", slog.Int("failures", t.failures))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		err := s.safeRun(taskCtx, tr)
		s.finish(ctx, t, err, logger)
	}()
}

func (s *Supervisor) finish(parent context.Context, t *task, err error, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.running = false
	switch {
	case err == nil:
		t.failures = 0
		t.nextStart = s.now().Add(s.cfg.BaseBackoff)
		logger.Info("trade task finished")
		return
	case parent.Err() != nil:
		return
	case errors.Is(err, domain.ErrLockHeld):
		logger.Info("trade owned by another worker", slog.String("reason", err.Error()))
	case errors.Is(err, context.Canceled):
		logger.Warn("trade task cancelled")
	default:
		logger.Error("trade task failed", slog.String("reason", err.Error()))
	}
	t.nextStart = s.now().Add(retry.Delay(s.cfg.BaseBackoff, t.failures))
	t.failures++
}

// safeRun turns a panic in the runner into an error.
func (s *Supervisor) safeRun(ctx context.Context, tr domain.Trade) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("trade task panicked",
				slog.Int64("trade_id", tr.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("supervisor: trade %d panicked: %v", tr.ID, r)
		}
	}()
	return s.run(ctx, tr)
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.running && t.cancel != nil {
			t.cancel()
		}
	}
}
