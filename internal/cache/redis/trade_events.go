package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// Trade event channel names.
const (
	TradesChannel = "trades"
	TradesStream  = "trades:events"
)

// TradeEventPublisher writes trade lifecycle events to the live channel and
// the durable stream.
type TradeEventPublisher struct {
	bus domain.SignalBus
}

// NewTradeEventPublisher creates a publisher on top of bus.
func NewTradeEventPublisher(bus domain.SignalBus) *TradeEventPublisher {
	return &TradeEventPublisher{bus: bus}
}

// Emit publishes ev. Both writes are attempted even if one fails.
func (p *TradeEventPublisher) Emit(ctx context.Context, ev domain.TradeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal trade event: %w", err)
	}
	return errors.Join(
		p.bus.Publish(ctx, TradesChannel, payload),
		p.bus.StreamAppend(ctx, TradesStream, payload),
	)
}
