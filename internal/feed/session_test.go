package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wavebot/internal/controller"
	"github.com/alanyoungcy/wavebot/internal/domain"
	"github.com/alanyoungcy/wavebot/internal/platform/poloniex"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   []poloniex.Frame
	readErr  error
	commands []string
	closed   bool
}

func (c *fakeConn) Subscribe(_ context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, "subscribe "+symbol)
	return nil
}

func (c *fakeConn) Unsubscribe(_ context.Context, symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, "unsubscribe "+symbol)
	return nil
}

func (c *fakeConn) ReadFrame(context.Context) (poloniex.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		if c.readErr != nil {
			return poloniex.Frame{}, c.readErr
		}
		return poloniex.Frame{}, fmt.Errorf("eof: %w", domain.ErrWSDisconnect)
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeHandler struct {
	seen   []poloniex.Message
	doneAt int
	err    error
	mid    domain.BookMiddle
}

func (h *fakeHandler) Handle(_ context.Context, msg poloniex.Message) (bool, error) {
	h.seen = append(h.seen, msg)
	if h.err != nil {
		return false, h.err
	}
	return h.doneAt > 0 && len(h.seen) >= h.doneAt, nil
}

func (h *fakeHandler) Middle() domain.BookMiddle { return h.mid }

type recordingPublisher struct {
	quotes []domain.Quote
}

func (p *recordingPublisher) SetQuote(_ context.Context, q domain.Quote) error {
	p.quotes = append(p.quotes, q)
	return nil
}

func dialer(c *fakeConn) Dialer {
	return func(context.Context) (Conn, error) { return c, nil }
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func batch(channel uint32, seq uint64, msgs ...poloniex.Message) poloniex.Frame {
	return poloniex.Frame{ChannelID: channel, Sequence: seq, Messages: msgs}
}

func delta(price string) poloniex.Delta {
	return poloniex.Delta{Side: domain.SideBid, Price: price, Size: "1"}
}

func snap() poloniex.Snapshot {
	return poloniex.Snapshot{CurrencyPair: "USDT_LTC"}
}

func TestSessionSubscribesAndStopsWhenDone(t *testing.T) {
	conn := &fakeConn{frames: []poloniex.Frame{
		{Heartbeat: true, ChannelID: poloniex.HeartbeatChannel},
		batch(148, 1, snap(), delta("1")),
		batch(148, 2, delta("2"), delta("3"), delta("4")),
		batch(148, 3, delta("5")),
	}}
	h := &fakeHandler{doneAt: 3}

	err := NewSession(dialer(conn), "USDT_LTC", h, quietLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"subscribe USDT_LTC"}, conn.commands)
	require.Len(t, h.seen, 3, "messages after the stop signal are not processed")
	assert.Equal(t, delta("2"), h.seen[2])
	assert.True(t, conn.closed)
}

func TestSessionLocksFirstChannel(t *testing.T) {
	conn := &fakeConn{frames: []poloniex.Frame{
		{Heartbeat: true, ChannelID: poloniex.HeartbeatChannel},
		batch(148, 10, snap()),
		batch(999, 11, delta("x")),
		batch(148, 11, delta("1")),
	}}
	h := &fakeHandler{}

	err := NewSession(dialer(conn), "USDT_LTC", h, quietLogger()).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrWSDisconnect)
	assert.Equal(t, []poloniex.Message{snap(), delta("1")}, h.seen)
}

func TestSessionSkipsDuplicateBatches(t *testing.T) {
	conn := &fakeConn{frames: []poloniex.Frame{
		batch(148, 5, snap()),
		batch(148, 6, delta("1")),
		batch(148, 6, delta("1")),
		batch(148, 4, delta("0")),
		batch(148, 7, delta("2")),
	}}
	h := &fakeHandler{}

	_ = NewSession(dialer(conn), "USDT_LTC", h, quietLogger()).Run(context.Background())
	assert.Equal(t, []poloniex.Message{snap(), delta("1"), delta("2")}, h.seen)
	assert.Equal(t, []string{"subscribe USDT_LTC"}, conn.commands)
}

func TestSessionResyncsOnGap(t *testing.T) {
	conn := &fakeConn{frames: []poloniex.Frame{
		batch(148, 5, snap()),
		batch(148, 8, delta("1")),
		batch(148, 12, delta("2")),
		batch(148, 2, snap()),
		batch(148, 3, delta("3")),
		batch(148, 5, delta("4")),
	}}
	h := &fakeHandler{}

	_ = NewSession(dialer(conn), "USDT_LTC", h, quietLogger()).Run(context.Background())

	assert.Equal(t, []string{
		"subscribe USDT_LTC",
		"unsubscribe USDT_LTC",
		"subscribe USDT_LTC",
		"unsubscribe USDT_LTC",
		"subscribe USDT_LTC",
	}, conn.commands, "one resync while waiting, a second after the new snapshot")

	assert.Equal(t, []poloniex.Message{
		snap(),
		controller.Reset{}, delta("1"),
		delta("2"),
		snap(),
		delta("3"),
		controller.Reset{}, delta("4"),
	}, h.seen)
}

func TestSessionIgnoresSubscriptionAcks(t *testing.T) {
	conn := &fakeConn{frames: []poloniex.Frame{
		{Ack: true, Subscribed: true, ChannelID: 148},
		batch(148, 5, snap()),
		batch(148, 8, delta("1")),
		{Ack: true, ChannelID: 148},
		{Ack: true, Subscribed: true, ChannelID: 148},
		batch(148, 1, snap()),
		batch(148, 2, delta("2")),
	}}
	h := &fakeHandler{}

	err := NewSession(dialer(conn), "USDT_LTC", h, quietLogger()).Run(context.Background())
	require.ErrorIs(t, err, domain.ErrWSDisconnect)

	assert.Equal(t, []string{
		"subscribe USDT_LTC",
		"unsubscribe USDT_LTC",
		"subscribe USDT_LTC",
	}, conn.commands, "acks neither lock a channel nor count as a gap")
	assert.Equal(t, []poloniex.Message{
		snap(),
		controller.Reset{}, delta("1"),
		snap(),
		delta("2"),
	}, h.seen)
}

func TestSessionHandlerErrorIsFatal(t *testing.T) {
	conn := &fakeConn{frames: []poloniex.Frame{batch(148, 1, snap())}}
	h := &fakeHandler{err: fmt.Errorf("write: %w", domain.ErrPersistence)}

	err := NewSession(dialer(conn), "USDT_LTC", h, quietLogger()).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.True(t, conn.closed)
}

func TestSessionDecodeErrorIsFatal(t *testing.T) {
	conn := &fakeConn{readErr: fmt.Errorf("poloniex: %w: bad", domain.ErrMalformedFrame)}

	err := NewSession(dialer(conn), "USDT_LTC", &fakeHandler{}, quietLogger()).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrMalformedFrame)
	assert.True(t, conn.closed)
}

func TestSessionDialError(t *testing.T) {
	dial := func(context.Context) (Conn, error) { return nil, errors.New("refused") }
	err := NewSession(dial, "USDT_LTC", &fakeHandler{}, quietLogger()).Run(context.Background())
	assert.ErrorContains(t, err, "refused")
}

func TestSessionPublishesMiddle(t *testing.T) {
	bid := domain.PriceLevel{Side: domain.SideBid, Price: decimal.RequireFromString("101"), Size: decimal.NewFromInt(1)}
	ask := domain.PriceLevel{Side: domain.SideAsk, Price: decimal.RequireFromString("101.2"), Size: decimal.NewFromInt(1)}
	conn := &fakeConn{frames: []poloniex.Frame{batch(148, 1, snap()), batch(148, 2, delta("1"))}}
	h := &fakeHandler{mid: domain.BookMiddle{HighestBid: &bid, LowestAsk: &ask}}
	pub := &recordingPublisher{}

	s := NewSession(dialer(conn), "USDT_LTC", h, quietLogger())
	s.SetPublisher(pub)
	_ = s.Run(context.Background())

	require.Len(t, pub.quotes, 2)
	assert.Equal(t, "USDT_LTC", pub.quotes[0].Symbol)
	assert.Equal(t, 101.0, pub.quotes[0].BestBid)
	assert.Equal(t, 101.2, pub.quotes[0].BestAsk)
}

func TestSessionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn := &fakeConn{frames: []poloniex.Frame{batch(148, 1, snap())}}

	err := NewSession(dialer(conn), "USDT_LTC", &fakeHandler{}, quietLogger()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
