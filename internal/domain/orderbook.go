package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the side of the book a price level rests on.
type Side int

const (
	SideAsk Side = iota
	SideBid
)

func (s Side) String() string {
	if s == SideBid {
		return "bid"
	}
	return "ask"
}

// PriceLevel is a single resting level in an order book.
type PriceLevel struct {
	Side  Side
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookMiddle holds the best bid and best ask of a book. Either may be nil
// when that side of the book is empty.
type BookMiddle struct {
	HighestBid *PriceLevel
	LowestAsk  *PriceLevel
}

// Complete reports whether both sides of the book resolved.
func (m BookMiddle) Complete() bool {
	return m.HighestBid != nil && m.LowestAsk != nil
}

// Quote is the published view of a book middle for one symbol.
type Quote struct {
	Symbol  string
	BestBid float64
	BestAsk float64
	Time    time.Time
}
