package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// WithLease claims key for ttl, runs fn while renewing the lease every ttl/3,
// and releases it afterwards. If a renewal fails, fn's context is cancelled
// and the renewal error is returned; it wraps domain.ErrLockLost when the
// lease changed hands.
func WithLease(ctx context.Context, leases domain.LeaseManager, key string, ttl time.Duration, logger *slog.Logger, fn func(ctx context.Context) error) error {
	lease, err := leases.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer lease.Release()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := lease.Renew(runCtx); err != nil {
					if runCtx.Err() != nil {
						return
					}
					logger.Error("lease renewal failed",
						slog.String("lease", key),
						slog.String("error", err.Error()),
					)
					cancel(err)
					return
				}
			}
		}
	}()

	err = fn(runCtx)
	cancel(nil)
	<-renewDone

	if cause := context.Cause(runCtx); cause != nil && cause != context.Canceled && ctx.Err() == nil {
		return cause
	}
	return err
}
