// Package feed runs one order book subscription for one trade and drives the
// trade's controller from it.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/wavebot/internal/controller"
	"github.com/alanyoungcy/wavebot/internal/domain"
	"github.com/alanyoungcy/wavebot/internal/platform/poloniex"
)

// Conn is a subscribed feed connection.
type Conn interface {
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error
	ReadFrame(ctx context.Context) (poloniex.Frame, error)
	Close() error
}

// Dialer opens a new Conn.
type Dialer func(ctx context.Context) (Conn, error)

// PoloniexDialer dials the push API at wsURL.
func PoloniexDialer(wsURL string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, err := poloniex.Dial(ctx, wsURL)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Handler consumes book messages for one trade. *controller.Controller
// implements it.
type Handler interface {
	Handle(ctx context.Context, msg poloniex.Message) (bool, error)
	Middle() domain.BookMiddle
}

// BookPublisher receives the book middle after every processed batch.
type BookPublisher interface {
	SetQuote(ctx context.Context, q domain.Quote) error
}

// Session owns one connection for the lifetime of one controller run.
type Session struct {
	dial      Dialer
	symbol    string
	handler   Handler
	publisher BookPublisher
	logger    *slog.Logger

	channel   uint32
	locked    bool
	lastSeq   uint64
	resyncing bool
}

// NewSession creates a session that subscribes to symbol, e.g. "USDT_LTC".
func NewSession(dial Dialer, symbol string, handler Handler, logger *slog.Logger) *Session {
	return &Session{
		dial:    dial,
		symbol:  symbol,
		handler: handler,
		logger: logger.With(
			slog.String("component", "feed_session"),
			slog.String("symbol", symbol),
		),
	}
}

// SetPublisher enables publishing of the book middle.
func (s *Session) SetPublisher(p BookPublisher) {
	s.publisher = p
}

// Run connects, subscribes and feeds every batch to the handler until the
// handler reports the trade finished (nil), a frame fails to decode, a write
// fails, the connection drops, or ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	// ReadFrame does not watch ctx; closing the connection unblocks it.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	if err := conn.Subscribe(ctx, s.symbol); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	s.logger.Info("subscribed")

	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: %w", err)
		}

		done, err := s.handleFrame(ctx, conn, frame)
		if err != nil {
			return fmt.Errorf("feed: %w", err)
		}
		if done {
			s.logger.Info("trade finished, closing feed")
			return nil
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, conn Conn, frame poloniex.Frame) (bool, error) {
	if frame.Heartbeat {
		return false, nil
	}
	if frame.Ack {
		s.logger.Debug("subscription ack",
			slog.Uint64("channel_id", uint64(frame.ChannelID)),
			slog.Bool("subscribed", frame.Subscribed),
		)
		return false, nil
	}

	if !s.locked {
		s.locked = true
		s.channel = frame.ChannelID
		s.lastSeq = frame.Sequence
		s.logger.Info("channel locked", slog.Uint64("channel_id", uint64(frame.ChannelID)))
	} else {
		if frame.ChannelID != s.channel {
			s.logger.Debug("ignoring frame from other channel", slog.Uint64("channel_id", uint64(frame.ChannelID)))
			return false, nil
		}

		switch {
		case s.resyncing:
			// Any numbering is accepted until the fresh snapshot arrives.
		case frame.Sequence <= s.lastSeq:
			s.logger.Debug("skipping duplicate batch",
				slog.Uint64("seq", frame.Sequence),
				slog.Uint64("last_seq", s.lastSeq),
			)
			return false, nil
		case frame.Sequence != s.lastSeq+1:
			s.logger.Warn("sequence gap, resubscribing",
				slog.Uint64("seq", frame.Sequence),
				slog.Uint64("last_seq", s.lastSeq),
			)
			if err := s.resync(ctx, conn); err != nil {
				return false, err
			}
		}
		s.lastSeq = frame.Sequence
	}

	for _, msg := range frame.Messages {
		if _, ok := msg.(poloniex.Snapshot); ok {
			s.resyncing = false
		}
		done, err := s.handler.Handle(ctx, msg)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
	}

	s.publish(ctx)
	return false, nil
}

func (s *Session) resync(ctx context.Context, conn Conn) error {
	if _, err := s.handler.Handle(ctx, controller.Reset{}); err != nil {
		return err
	}
	s.resyncing = true
	if err := conn.Unsubscribe(ctx, s.symbol); err != nil {
		return err
	}
	return conn.Subscribe(ctx, s.symbol)
}

func (s *Session) publish(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	mid := s.handler.Middle()
	if !mid.Complete() {
		return
	}
	q := domain.Quote{
		Symbol:  s.symbol,
		BestBid: mid.HighestBid.Price.InexactFloat64(),
		BestAsk: mid.LowestAsk.Price.InexactFloat64(),
		Time:    time.Now().UTC(),
	}
	if err := s.publisher.SetQuote(ctx, q); err != nil {
		s.logger.Debug("publish book middle failed", slog.String("error", err.Error()))
	}
}
