package domain

import (
	"fmt"
	"time"
)

// TradeState is the lifecycle state of a trade.
type TradeState string

const (
	TradeAwaitingEntry TradeState = "awaiting_entry"
	TradeOpen          TradeState = "open"
	TradeClosed        TradeState = "closed"
	TradeRejected      TradeState = "rejected"
)

// Trade is the durable record of one position. A row without an open price
// is awaiting entry; a row with a close time is terminal. Rejected trades
// have no row at all.
type Trade struct {
	ID           int64
	Base         string
	Quote        string
	OpenAverage  float64
	Target       float64
	OpenPrice    *float64
	OpenAt       *time.Time
	ClosePrice   *float64
	CloseAt      *time.Time
	HighestBid   *float64
	LastActionID *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Symbol returns the feed channel name, e.g. "USDT_LTC".
func (t Trade) Symbol() string {
	return fmt.Sprintf("%s_%s", t.Base, t.Quote)
}

// State derives the lifecycle state from the row fields.
func (t Trade) State() TradeState {
	switch {
	case t.CloseAt != nil:
		return TradeClosed
	case t.OpenPrice != nil:
		return TradeOpen
	default:
		return TradeAwaitingEntry
	}
}

// Candidate is a ranked shortlist entry that can be promoted to a trade.
type Candidate struct {
	Base        string
	Quote       string
	Target      float64
	OpenAverage float64
}

// Validate checks that a candidate can become a trade.
func (c Candidate) Validate() error {
	if c.Base == "" || c.Quote == "" {
		return fmt.Errorf("%w: base and quote are required", ErrInvalidTrade)
	}
	if c.Target <= 0 {
		return fmt.Errorf("%w: target must be > 0", ErrInvalidTrade)
	}
	if c.OpenAverage < 0 {
		return fmt.Errorf("%w: open_average must be >= 0", ErrInvalidTrade)
	}
	return nil
}

// TradeEvent is a lifecycle notification emitted by a controller.
type TradeEvent struct {
	Event   string    `json:"event"`
	TradeID int64     `json:"trade_id"`
	Symbol  string    `json:"symbol"`
	Price   float64   `json:"price,omitempty"`
	Target  float64   `json:"target,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Time    time.Time `json:"time"`
}

const (
	EventTradeOpened   = "trade_opened"
	EventTradeClosed   = "trade_closed"
	EventTradeRejected = "trade_rejected"
)
