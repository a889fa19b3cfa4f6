package controller

import (
	"math"
	"time"

	"github.com/alanyoungcy/wavebot/internal/domain"
	"github.com/alanyoungcy/wavebot/internal/orderbook"
	"github.com/alanyoungcy/wavebot/internal/platform/poloniex"
)

// Reset tells the controller its book can no longer be trusted, e.g. after
// a sequence gap. The book is dropped until the next snapshot.
type Reset struct{}

func (Reset) Tag() string { return "reset" }

// State is everything a controller knows about its trade between events.
type State struct {
	Phase       domain.TradeState
	Target      float64
	OpenAverage float64
	Book        orderbook.Book

	// LastBid is the highest bid the OPEN evaluation last acted on.
	LastBid *float64
	// LastFill is the price of the most recent simulated fill.
	LastFill *float64

	Done bool
}

// Action is a side effect decided by Step.
type Action interface {
	isAction()
}

// Enter records the entry fill.
type Enter struct {
	Price  float64
	Target float64
	At     time.Time
}

// Exit records the exit fill.
type Exit struct {
	Price float64
	At    time.Time
}

// Checkpoint refreshes the recovery fields of an open trade.
type Checkpoint struct {
	HighestBid float64
	Target     float64
	At         time.Time
}

// Reject deletes a trade that never entered.
type Reject struct {
	Reason string
}

// Resync reports that the book was dropped and a fresh snapshot is needed.
type Resync struct{}

// Fault reports an update the book could not apply.
type Fault struct {
	Err error
}

func (Enter) isAction()      {}
func (Exit) isAction()       {}
func (Checkpoint) isAction() {}
func (Reject) isAction()     {}
func (Resync) isAction()     {}
func (Fault) isAction()      {}

// Reject reasons.
const (
	ReasonBelowTarget = "below target"
	ReasonAboveTarget = "above target"
)

// Resume rebuilds controller state from a stored trade row.
func Resume(t domain.Trade) State {
	s := State{
		Target:      t.Target,
		OpenAverage: t.OpenAverage,
	}
	switch t.State() {
	case domain.TradeClosed:
		s.Phase = domain.TradeClosed
		s.LastFill = copyFloat(t.ClosePrice)
		s.Done = true
	case domain.TradeOpen:
		s.Phase = domain.TradeOpen
		s.LastFill = copyFloat(t.OpenPrice)
		s.LastBid = copyFloat(t.HighestBid)
	default:
		s.Phase = domain.TradeAwaitingEntry
	}
	return s
}

// Step advances s by one feed message. It performs no I/O. The returned
// state owns s.Book, which is modified in place.
func Step(th Thresholds, s State, msg poloniex.Message, now time.Time) (State, []Action) {
	if s.Done {
		return s, nil
	}

	switch m := msg.(type) {
	case poloniex.Snapshot:
		book, err := orderbook.LoadSnapshot(m.Asks, m.Bids)
		if err != nil {
			return s, []Action{Fault{Err: err}}
		}
		s.Book = book
	case poloniex.Delta:
		book, err := orderbook.ApplyDelta(s.Book, m.Side, m.Price, m.Size)
		if err != nil {
			return s, []Action{Fault{Err: err}}
		}
		s.Book = book
	case Reset:
		s.Book = nil
		return s, []Action{Resync{}}
	default:
		return s, nil
	}

	mid := orderbook.FindMiddle(s.Book)
	if !mid.Complete() {
		return s, nil
	}
	bid := mid.HighestBid.Price.InexactFloat64()
	ask := mid.LowestAsk.Price.InexactFloat64()

	switch s.Phase {
	case domain.TradeAwaitingEntry:
		return awaitingEntry(th, s, bid, ask, now)
	case domain.TradeOpen:
		return open(th, s, bid, ask, now)
	}
	return s, nil
}

func awaitingEntry(th Thresholds, s State, bid, ask float64, now time.Time) (State, []Action) {
	if bid < s.Target {
		s.Phase = domain.TradeRejected
		s.Done = true
		return s, []Action{Reject{Reason: ReasonBelowTarget}}
	}
	if (bid-s.Target)/s.Target > th.StartAboveTarget {
		s.Phase = domain.TradeRejected
		s.Done = true
		return s, []Action{Reject{Reason: ReasonAboveTarget}}
	}
	if Spread(bid, ask) > th.MaxSpread {
		return s, nil
	}

	s.Phase = domain.TradeOpen
	s.Target = ask * (1 - th.StopLoss)
	s.LastFill = &ask
	s.LastBid = &bid
	return s, []Action{Enter{Price: ask, Target: s.Target, At: now}}
}

func open(th Thresholds, s State, bid, ask float64, now time.Time) (State, []Action) {
	if s.LastBid != nil && math.Abs(bid-*s.LastBid) <= th.Epsilon {
		return s, nil
	}
	s.LastBid = &bid

	if bid < s.Target {
		if ExitSpread(bid, ask) > th.MaxSpread {
			return s, []Action{Checkpoint{HighestBid: bid, Target: s.Target, At: now}}
		}
		s.Phase = domain.TradeClosed
		s.LastFill = &bid
		s.Done = true
		return s, []Action{Exit{Price: bid, At: now}}
	}

	if candidate := bid * (1 - th.StopLoss); candidate > s.Target {
		s.Target = candidate
	}
	return s, []Action{Checkpoint{HighestBid: bid, Target: s.Target, At: now}}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
