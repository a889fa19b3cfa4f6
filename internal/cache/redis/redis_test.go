package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLeaseExclusive(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLeaseManager(c)
	ctx := context.Background()

	l, err := lm.Acquire(ctx, TradeLeaseKey(42), time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("lease:trade:42"))
	assert.Equal(t, time.Minute, l.TTL())

	_, err = lm.Acquire(ctx, TradeLeaseKey(42), time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	l.Release()
	l.Release()
	assert.False(t, mr.Exists("lease:trade:42"))

	l2, err := lm.Acquire(ctx, TradeLeaseKey(42), time.Minute)
	require.NoError(t, err)
	l2.Release()
}

func TestLeaseRenew(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLeaseManager(c)
	ctx := context.Background()

	l, err := lm.Acquire(ctx, "trade:1", 10*time.Second)
	require.NoError(t, err)

	mr.FastForward(8 * time.Second)
	require.NoError(t, l.Renew(ctx))
	assert.Equal(t, 10*time.Second, mr.TTL("lease:trade:1"))

	mr.FastForward(11 * time.Second)
	assert.ErrorIs(t, l.Renew(ctx), domain.ErrLockLost)
}

func TestLeaseReleaseKeepsOtherHolder(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLeaseManager(c)
	ctx := context.Background()

	l, err := lm.Acquire(ctx, "trade:1", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	other, err := lm.Acquire(ctx, "trade:1", time.Minute)
	require.NoError(t, err)

	l.Release()
	assert.True(t, mr.Exists("lease:trade:1"), "stale holder must not free a new holder's lease")
	assert.ErrorIs(t, l.Renew(ctx), domain.ErrLockLost)
	require.NoError(t, other.Renew(ctx))
}

func TestQuoteCache(t *testing.T) {
	c, mr := newTestClient(t)
	qc := NewQuoteCache(c)
	ctx := context.Background()

	_, err := qc.GetQuote(ctx, "USDT_LTC")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, qc.SetQuote(ctx, domain.Quote{Symbol: "USDT_LTC", BestBid: 101, BestAsk: 101.2, Time: ts}))
	assert.Equal(t, "101.2", mr.HGet("bbo:USDT_LTC", "ask"))
	assert.Positive(t, mr.TTL("bbo:USDT_LTC"))

	q, err := qc.GetQuote(ctx, "USDT_LTC")
	require.NoError(t, err)
	assert.Equal(t, domain.Quote{Symbol: "USDT_LTC", BestBid: 101, BestAsk: 101.2, Time: ts}, q)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, "empty", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, "s", []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, "s", []byte("b")))

	msgs, err = bus.StreamRead(ctx, "s", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("a"), msgs[0].Payload)

	rest, err := bus.StreamRead(ctx, "s", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, []byte("b"), rest[0].Payload)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "trades")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "trades", []byte("hello")))

	select {
	case got := <-ch:
		assert.Equal(t, []byte("hello"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	for range ch {
	}
}

func TestTradeEventPublisher(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	live, err := bus.Subscribe(ctx, TradesChannel)
	require.NoError(t, err)

	ev := domain.TradeEvent{
		Event:   domain.EventTradeOpened,
		TradeID: 5,
		Symbol:  "USDT_LTC",
		Price:   101.2,
		Target:  100.694,
		Time:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, NewTradeEventPublisher(bus).Emit(ctx, ev))

	select {
	case payload := <-live:
		var got domain.TradeEvent
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, ev, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no live event")
	}

	stored, err := bus.StreamRead(ctx, TradesStream, "0", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "dial", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "dial", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	waitCtx, cancel := context.WithTimeout(ctx, 120*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(waitCtx, "dial", 3, time.Minute), context.DeadlineExceeded)
}

func TestNewFromRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewFromRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer c.Close()
	assert.NoError(t, c.Ping(context.Background()))
}
