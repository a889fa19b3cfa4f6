// Package notify fans trade lifecycle events out to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// Sender delivers one message to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender, filtered by event type.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list lets every event
// through.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return len(n.senders) > 0
}

// Notify sends title and message if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyTrade formats and sends a trade lifecycle event.
func (n *Notifier) NotifyTrade(ctx context.Context, ev domain.TradeEvent) error {
	title, message := formatTradeEvent(ev)
	return n.Notify(ctx, ev.Event, title, message)
}

// dispatch tries every sender; one failure does not stop the others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func formatTradeEvent(ev domain.TradeEvent) (string, string) {
	ts := ev.Time.UTC().Format("2006-01-02 15:04:05Z")
	switch ev.Event {
	case domain.EventTradeOpened:
		return fmt.Sprintf("Opened %s", ev.Symbol),
			fmt.Sprintf("trade %d bought at %g, stop %g (%s)", ev.TradeID, ev.Price, ev.Target, ts)
	case domain.EventTradeClosed:
		return fmt.Sprintf("Closed %s", ev.Symbol),
			fmt.Sprintf("trade %d sold at %g (%s)", ev.TradeID, ev.Price, ts)
	case domain.EventTradeRejected:
		return fmt.Sprintf("Rejected %s", ev.Symbol),
			fmt.Sprintf("trade %d dropped: %s (%s)", ev.TradeID, ev.Reason, ts)
	default:
		return ev.Event, fmt.Sprintf("trade %d %s (%s)", ev.TradeID, ev.Symbol, ts)
	}
}
