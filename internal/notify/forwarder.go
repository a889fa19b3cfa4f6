package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// Forwarder subscribes to a trade event channel on the signal bus and hands
// each event to the Notifier. It lets one process notify for trades run by
// every worker.
type Forwarder struct {
	bus      domain.SignalBus
	channel  string
	notifier *Notifier
	logger   *slog.Logger
}

// NewForwarder creates a Forwarder for channel.
func NewForwarder(bus domain.SignalBus, channel string, notifier *Notifier, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		bus:      bus,
		channel:  channel,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_forwarder")),
	}
}

// Run forwards events until ctx is cancelled or the subscription closes.
func (f *Forwarder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	f.logger.Info("notify forwarder started", slog.String("channel", f.channel))
	defer f.logger.Info("notify forwarder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.TradeEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				f.logger.Debug("dropping undecodable trade event",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
				continue
			}
			if err := f.notifier.NotifyTrade(ctx, ev); err != nil {
				f.logger.Warn("trade notification failed",
					slog.Int64("trade_id", ev.TradeID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
