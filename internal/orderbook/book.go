// Package orderbook keeps an in-memory two-sided price level table built
// from a snapshot and kept current with single-level deltas.
package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// Epsilon is the size below which a level is treated as removed.
var Epsilon = decimal.New(1, -10)

// Book maps the exact price string received from the feed to its level.
// A nil Book means no snapshot has been received yet.
type Book map[string]domain.PriceLevel

// LoadSnapshot builds a fresh book from the ask and bid sides of a snapshot.
// Levels with a size below Epsilon are not stored.
func LoadSnapshot(asks, bids map[string]string) (Book, error) {
	book := make(Book, len(asks)+len(bids))
	if err := book.merge(domain.SideAsk, asks); err != nil {
		return nil, err
	}
	if err := book.merge(domain.SideBid, bids); err != nil {
		return nil, err
	}
	return book, nil
}

func (b Book) merge(side domain.Side, levels map[string]string) error {
	for price, size := range levels {
		lvl, err := parseLevel(side, price, size)
		if err != nil {
			return err
		}
		if lvl.Size.LessThan(Epsilon) {
			continue
		}
		b[price] = lvl
	}
	return nil
}

// ApplyDelta updates a single level in place and returns the book. A nil
// book stays nil. A size below Epsilon removes the level. Applying the same
// delta twice leaves the book as applying it once.
func ApplyDelta(book Book, side domain.Side, price, size string) (Book, error) {
	if book == nil {
		return nil, nil
	}

	lvl, err := parseLevel(side, price, size)
	if err != nil {
		return book, err
	}
	if lvl.Size.LessThan(Epsilon) {
		delete(book, price)
		return book, nil
	}
	book[price] = lvl
	return book, nil
}

// FindMiddle returns the highest bid and lowest ask in one pass over the book.
func FindMiddle(book Book) domain.BookMiddle {
	var mid domain.BookMiddle
	for key := range book {
		lvl := book[key]
		switch lvl.Side {
		case domain.SideBid:
			if mid.HighestBid == nil || lvl.Price.GreaterThan(mid.HighestBid.Price) {
				mid.HighestBid = &lvl
			}
		default:
			if mid.LowestAsk == nil || lvl.Price.LessThan(mid.LowestAsk.Price) {
				mid.LowestAsk = &lvl
			}
		}
	}
	return mid
}

func parseLevel(side domain.Side, price, size string) (domain.PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("orderbook: price %q: %w", price, err)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("orderbook: size %q: %w", size, err)
	}
	return domain.PriceLevel{Side: side, Price: p, Size: s}, nil
}
