package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wavebot/internal/domain"
	"github.com/alanyoungcy/wavebot/internal/platform/poloniex"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshot(bid, ask string) poloniex.Snapshot {
	return poloniex.Snapshot{
		CurrencyPair: "USDT_LTC",
		Asks:         map[string]string{ask: "1"},
		Bids:         map[string]string{bid: "1"},
	}
}

func bidDelta(price, size string) poloniex.Delta {
	return poloniex.Delta{Side: domain.SideBid, Price: price, Size: size}
}

func askDelta(price, size string) poloniex.Delta {
	return poloniex.Delta{Side: domain.SideAsk, Price: price, Size: size}
}

func awaiting(target float64) State {
	return State{Phase: domain.TradeAwaitingEntry, Target: target, OpenAverage: target}
}

func TestStepEntry(t *testing.T) {
	s, actions := Step(DefaultThresholds(), awaiting(100), snapshot("101", "101.2"), t0)

	require.Len(t, actions, 1)
	enter, ok := actions[0].(Enter)
	require.True(t, ok, "got %T", actions[0])
	assert.Equal(t, 101.2, enter.Price)
	assert.InDelta(t, 100.694, enter.Target, 1e-9)
	assert.Equal(t, t0, enter.At)

	assert.Equal(t, domain.TradeOpen, s.Phase)
	assert.InDelta(t, 100.694, s.Target, 1e-9)
	require.NotNil(t, s.LastBid)
	assert.Equal(t, 101.0, *s.LastBid)
	require.NotNil(t, s.LastFill)
	assert.Equal(t, 101.2, *s.LastFill)
	assert.False(t, s.Done)
}

func TestStepRejectBelowTarget(t *testing.T) {
	s, actions := Step(DefaultThresholds(), awaiting(100), snapshot("98", "98.1"), t0)

	require.Equal(t, []Action{Reject{Reason: ReasonBelowTarget}}, actions)
	assert.Equal(t, domain.TradeRejected, s.Phase)
	assert.True(t, s.Done)
	assert.Nil(t, s.LastFill)
}

func TestStepRejectAboveTarget(t *testing.T) {
	s, actions := Step(DefaultThresholds(), awaiting(100), snapshot("101.6", "101.7"), t0)

	require.Equal(t, []Action{Reject{Reason: ReasonAboveTarget}}, actions)
	assert.True(t, s.Done)
}

func TestStepEntryDefersOnWideSpread(t *testing.T) {
	th := DefaultThresholds()
	s, actions := Step(th, awaiting(100), snapshot("101", "101.5"), t0)
	assert.Empty(t, actions)
	assert.Equal(t, domain.TradeAwaitingEntry, s.Phase)

	// The ask tightens: entry goes through on the delta.
	s, actions = Step(th, s, askDelta("101.1", "2"), t0.Add(time.Second))
	require.Len(t, actions, 1)
	assert.Equal(t, 101.1, actions[0].(Enter).Price)
	assert.Equal(t, domain.TradeOpen, s.Phase)
}

func TestStepWaitsForBothSides(t *testing.T) {
	th := DefaultThresholds()
	s, actions := Step(th, awaiting(100), poloniex.Snapshot{Asks: map[string]string{"101.2": "1"}}, t0)
	assert.Empty(t, actions)
	assert.NotNil(t, s.Book)

	s, actions = Step(th, s, bidDelta("101", "1"), t0)
	require.Len(t, actions, 1)
	assert.IsType(t, Enter{}, actions[0])
}

func TestStepDeltaBeforeSnapshotIsDropped(t *testing.T) {
	s, actions := Step(DefaultThresholds(), awaiting(100), bidDelta("101", "1"), t0)
	assert.Empty(t, actions)
	assert.Nil(t, s.Book)
}

// openAt110 enters at 101.2 and then lifts the bid to 110, leaving the book
// with bids {101, 110} and asks {110.1}.
func openAt110(t *testing.T, th Thresholds) State {
	t.Helper()
	s, actions := Step(th, awaiting(100), snapshot("101", "101.2"), t0)
	require.IsType(t, Enter{}, actions[0])

	s, actions = Step(th, s, askDelta("110.1", "1"), t0)
	assert.Empty(t, actions, "unchanged bid is not re-evaluated")
	s, actions = Step(th, s, askDelta("101.2", "0"), t0)
	assert.Empty(t, actions)

	s, actions = Step(th, s, bidDelta("110", "1"), t0.Add(time.Minute))
	require.Len(t, actions, 1)
	cp := actions[0].(Checkpoint)
	assert.Equal(t, 110.0, cp.HighestBid)
	assert.InDelta(t, 109.45, cp.Target, 1e-9)
	assert.InDelta(t, 109.45, s.Target, 1e-9)
	return s
}

func TestStepRatchetThenExit(t *testing.T) {
	th := DefaultThresholds()
	s := openAt110(t, th)

	s, actions := Step(th, s, bidDelta("108", "1"), t0)
	assert.Empty(t, actions)
	s, actions = Step(th, s, askDelta("108.1", "1"), t0)
	assert.Empty(t, actions)

	now := t0.Add(2 * time.Minute)
	s, actions = Step(th, s, bidDelta("110", "0"), now)
	require.Equal(t, []Action{Exit{Price: 108, At: now}}, actions)
	assert.Equal(t, domain.TradeClosed, s.Phase)
	assert.True(t, s.Done)
	assert.Equal(t, 108.0, *s.LastFill)
}

func TestStepDeferredExitOnWideSpread(t *testing.T) {
	th := DefaultThresholds()
	s := openAt110(t, th)

	s, _ = Step(th, s, bidDelta("108", "1"), t0)
	s, _ = Step(th, s, askDelta("108.5", "1"), t0)

	now := t0.Add(2 * time.Minute)
	s, actions := Step(th, s, bidDelta("110", "0"), now)
	require.Equal(t, []Action{Checkpoint{HighestBid: 108, Target: s.Target, At: now}}, actions)
	assert.InDelta(t, 109.45, s.Target, 1e-9, "target never decreases")
	assert.Equal(t, domain.TradeOpen, s.Phase)
	assert.Equal(t, 108.0, *s.LastBid)
	assert.False(t, s.Done)

	// The bid moves again inside a tight spread: exit.
	s, _ = Step(th, s, bidDelta("108.4", "1"), t0)
	assert.Equal(t, domain.TradeClosed, s.Phase)
}

func TestStepSpreadGates(t *testing.T) {
	th := DefaultThresholds()

	// 0.2704/108 is above MaxSpread but 0.2704/108.2704 is not: exits
	// measure against the ask.
	last := 110.0
	s := State{Phase: domain.TradeOpen, Target: 109.45, LastBid: &last}
	s, actions := Step(th, s, snapshot("108", "108.2704"), t0)
	require.Equal(t, []Action{Exit{Price: 108, At: t0}}, actions)
	assert.Equal(t, domain.TradeClosed, s.Phase)
	assert.True(t, s.Done)

	// The same gap on entry is measured against the bid and defers.
	s, actions = Step(th, awaiting(100), snapshot("101", "101.253"), t0)
	assert.Empty(t, actions)
	assert.Equal(t, domain.TradeAwaitingEntry, s.Phase)
}

func TestStepTargetNeverDecreases(t *testing.T) {
	th := DefaultThresholds()
	s := State{Phase: domain.TradeOpen, Target: 100}
	s, _ = Step(th, s, snapshot("120", "120.1"), t0)
	high := s.Target

	// A lower bid still above target only refreshes the checkpoint.
	s, actions := Step(th, s, bidDelta("119", "1"), t0)
	assert.Empty(t, actions, "119 is below the best bid, nothing changed")
	s, actions = Step(th, s, bidDelta("120", "0"), t0)
	require.Len(t, actions, 1)
	cp := actions[0].(Checkpoint)
	assert.Equal(t, 119.0, cp.HighestBid)
	assert.Equal(t, high, cp.Target)
	assert.Equal(t, high, s.Target)
}

func TestStepResetDropsBook(t *testing.T) {
	th := DefaultThresholds()
	s, _ := Step(th, awaiting(100), poloniex.Snapshot{Asks: map[string]string{"200": "1"}}, t0)
	require.NotNil(t, s.Book)

	s, actions := Step(th, s, Reset{}, t0)
	assert.Equal(t, []Action{Resync{}}, actions)
	assert.Nil(t, s.Book)

	s, actions = Step(th, s, bidDelta("101", "1"), t0)
	assert.Empty(t, actions)
	assert.Nil(t, s.Book)
}

func TestStepIgnoresAfterDone(t *testing.T) {
	s := State{Phase: domain.TradeClosed, Done: true}
	next, actions := Step(DefaultThresholds(), s, snapshot("1", "2"), t0)
	assert.Empty(t, actions)
	assert.Nil(t, next.Book)
}

func TestStepUnknownMessage(t *testing.T) {
	s, actions := Step(DefaultThresholds(), awaiting(100), poloniex.Unknown{Command: "t"}, t0)
	assert.Empty(t, actions)
	assert.Equal(t, domain.TradeAwaitingEntry, s.Phase)
}

func TestStepFaultOnBadLevel(t *testing.T) {
	_, actions := Step(DefaultThresholds(), awaiting(100), poloniex.Snapshot{Asks: map[string]string{"x": "1"}}, t0)
	require.Len(t, actions, 1)
	assert.IsType(t, Fault{}, actions[0])
}

func TestResume(t *testing.T) {
	open, bid, closePrice := 101.2, 105.0, 104.0
	closeAt := t0

	t.Run("awaiting", func(t *testing.T) {
		s := Resume(domain.Trade{Target: 100, OpenAverage: 99})
		assert.Equal(t, domain.TradeAwaitingEntry, s.Phase)
		assert.Equal(t, 100.0, s.Target)
		assert.Equal(t, 99.0, s.OpenAverage)
		assert.Nil(t, s.LastBid)
		assert.Nil(t, s.Book)
	})

	t.Run("open", func(t *testing.T) {
		s := Resume(domain.Trade{Target: 104.475, OpenPrice: &open, HighestBid: &bid})
		assert.Equal(t, domain.TradeOpen, s.Phase)
		assert.Equal(t, 104.475, s.Target)
		assert.Equal(t, open, *s.LastFill)
		assert.Equal(t, bid, *s.LastBid)
		assert.False(t, s.Done)
	})

	t.Run("closed", func(t *testing.T) {
		s := Resume(domain.Trade{OpenPrice: &open, ClosePrice: &closePrice, CloseAt: &closeAt})
		assert.Equal(t, domain.TradeClosed, s.Phase)
		assert.True(t, s.Done)
	})
}

func TestResumedTradeSkipsUnchangedBid(t *testing.T) {
	open, bid := 101.2, 105.0
	s := Resume(domain.Trade{Target: 104.475, OpenPrice: &open, HighestBid: &bid})

	s, actions := Step(DefaultThresholds(), s, snapshot("105", "105.1"), t0)
	assert.Empty(t, actions)
	assert.Equal(t, domain.TradeOpen, s.Phase)
}

func TestThresholdsValidate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())

	err := Thresholds{StopLoss: 1, MaxSpread: 0, StartAboveTarget: -1, Epsilon: 0}.Validate()
	require.Error(t, err)
	for _, field := range []string{"stop_loss", "max_spread", "start_above_target", "epsilon"} {
		assert.Contains(t, err.Error(), field)
	}
}
