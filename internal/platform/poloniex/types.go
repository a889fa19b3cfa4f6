package poloniex

import "github.com/alanyoungcy/wavebot/internal/domain"

// HeartbeatChannel is the reserved channel id the exchange uses for
// heartbeat frames.
const HeartbeatChannel uint32 = 1010

// Command tags of order book sub-messages.
const (
	TagSnapshot = "i"
	TagDelta    = "o"
)

// Command is an outbound subscription request.
type Command struct {
	Command string `json:"command"`
	Channel string `json:"channel"`
}

// Frame is one decoded inbound frame. Heartbeat and ack frames carry no
// channel data; every other frame is a numbered batch of sub-messages.
type Frame struct {
	Heartbeat bool
	// Ack marks a subscription acknowledgement; Subscribed tells subscribe
	// from unsubscribe.
	Ack        bool
	Subscribed bool
	ChannelID  uint32
	Sequence  uint64
	Messages  []Message
}

// Message is one sub-message of a batch. The concrete type is one of
// Snapshot, Delta or Unknown.
type Message interface {
	Tag() string
}

// Snapshot replaces the whole order book. Maps are price string to size
// string exactly as received.
type Snapshot struct {
	CurrencyPair string
	Asks         map[string]string
	Bids         map[string]string
}

// Delta changes a single price level.
type Delta struct {
	Side        domain.Side
	Price       string
	Size        string
	TimestampMs int64
}

// Unknown is any sub-message with a tag this client does not act on.
type Unknown struct {
	Command string
}

func (Snapshot) Tag() string  { return TagSnapshot }
func (Delta) Tag() string     { return TagDelta }
func (u Unknown) Tag() string { return u.Command }

// snapshotPayload is the wire shape of the second element of an "i" message.
type snapshotPayload struct {
	CurrencyPair string              `json:"currencyPair"`
	OrderBook    []map[string]string `json:"orderBook"`
}
