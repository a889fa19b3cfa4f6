package poloniex

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

const (
	// DefaultURL is the public push API endpoint.
	DefaultURL = "wss://api2.poloniex.com"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// WSClient is a single websocket connection to the push API. Reads are
// synchronous: the caller drives the read loop through ReadFrame.
type WSClient struct {
	conn *websocket.Conn

	// writeMu serialises writes; gorilla connections allow one concurrent writer.
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the push API at wsURL and starts the keepalive pinger.
func Dial(ctx context.Context, wsURL string) (*WSClient, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("poloniex/ws: connect: %w", err)
	}

	c := &WSClient{
		conn: conn,
		done: make(chan struct{}),
	}

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pingLoop()

	return c, nil
}

// Subscribe requests the order book channel for symbol, e.g. "USDT_LTC".
func (c *WSClient) Subscribe(ctx context.Context, symbol string) error {
	if err := c.send(Command{Command: "subscribe", Channel: symbol}); err != nil {
		return fmt.Errorf("poloniex/ws: subscribe %s: %w", symbol, err)
	}
	return nil
}

// Unsubscribe leaves the order book channel for symbol.
func (c *WSClient) Unsubscribe(ctx context.Context, symbol string) error {
	if err := c.send(Command{Command: "unsubscribe", Channel: symbol}); err != nil {
		return fmt.Errorf("poloniex/ws: unsubscribe %s: %w", symbol, err)
	}
	return nil
}

// ReadFrame blocks until the next text frame arrives and decodes it.
// Transport failures wrap domain.ErrWSDisconnect; shape failures wrap
// domain.ErrMalformedFrame.
func (c *WSClient) ReadFrame(ctx context.Context) (Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		return Frame{}, fmt.Errorf("poloniex/ws: read: %w: %v", domain.ErrWSDisconnect, err)
	}
	return Decode(data)
}

// Close sends a close frame and tears down the connection. Safe to call
// more than once.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *WSClient) send(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (c *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
