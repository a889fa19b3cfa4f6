package poloniex

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/wavebot/internal/domain"
)

// Decode parses one raw text frame. Any deviation from the expected shape
// yields an error wrapping domain.ErrMalformedFrame.
func Decode(raw []byte) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return Frame{}, malformed("frame is not an array: %v", err)
	}
	if len(parts) == 0 {
		return Frame{}, malformed("empty frame")
	}

	var channel uint32
	if err := json.Unmarshal(parts[0], &channel); err != nil {
		return Frame{}, malformed("channel id: %v", err)
	}
	if channel == HeartbeatChannel {
		if len(parts) != 1 {
			return Frame{}, malformed("heartbeat with %d elements", len(parts))
		}
		return Frame{Heartbeat: true, ChannelID: channel}, nil
	}

	if len(parts) == 2 {
		return decodeAck(channel, parts[1])
	}
	if len(parts) != 3 {
		return Frame{}, malformed("channel %d: expected 3 elements, got %d", channel, len(parts))
	}

	var seq uint64
	if err := json.Unmarshal(parts[1], &seq); err != nil {
		return Frame{}, malformed("channel %d: sequence: %v", channel, err)
	}

	var rawMsgs []json.RawMessage
	if err := json.Unmarshal(parts[2], &rawMsgs); err != nil || rawMsgs == nil {
		return Frame{}, malformed("channel %d: messages are not an array", channel)
	}

	msgs := make([]Message, 0, len(rawMsgs))
	for i, rm := range rawMsgs {
		msg, err := decodeMessage(rm)
		if err != nil {
			return Frame{}, fmt.Errorf("channel %d seq %d message %d: %w", channel, seq, i, err)
		}
		msgs = append(msgs, msg)
	}

	return Frame{ChannelID: channel, Sequence: seq, Messages: msgs}, nil
}

// decodeAck parses the [channel, 0|1] frame the exchange sends to confirm an
// unsubscribe (0) or subscribe (1).
func decodeAck(channel uint32, raw json.RawMessage) (Frame, error) {
	var flag int
	if err := json.Unmarshal(raw, &flag); err != nil || (flag != 0 && flag != 1) {
		return Frame{}, malformed("channel %d: expected 3 elements or a 0/1 ack, got %s", channel, raw)
	}
	return Frame{Ack: true, ChannelID: channel, Subscribed: flag == 1}, nil
}

func decodeMessage(raw json.RawMessage) (Message, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || len(fields) == 0 {
		return nil, malformed("sub-message is not a non-empty array")
	}

	var tag string
	if err := json.Unmarshal(fields[0], &tag); err != nil {
		return nil, malformed("command tag: %v", err)
	}

	switch tag {
	case TagSnapshot:
		return decodeSnapshot(fields)
	case TagDelta:
		return decodeDelta(fields)
	default:
		return Unknown{Command: tag}, nil
	}
}

// ["i", {"currencyPair": "...", "orderBook": [{asks}, {bids}]}]
func decodeSnapshot(fields []json.RawMessage) (Message, error) {
	if len(fields) < 2 {
		return nil, malformed("snapshot without payload")
	}

	var p snapshotPayload
	if err := json.Unmarshal(fields[1], &p); err != nil {
		return nil, malformed("snapshot payload: %v", err)
	}
	if len(p.OrderBook) != 2 {
		return nil, malformed("snapshot: expected 2 book sides, got %d", len(p.OrderBook))
	}

	snap := Snapshot{
		CurrencyPair: p.CurrencyPair,
		Asks:         p.OrderBook[0],
		Bids:         p.OrderBook[1],
	}
	if snap.Asks == nil {
		snap.Asks = map[string]string{}
	}
	if snap.Bids == nil {
		snap.Bids = map[string]string{}
	}
	for _, side := range []map[string]string{snap.Asks, snap.Bids} {
		for price, size := range side {
			if err := checkNumber(price, size); err != nil {
				return nil, err
			}
		}
	}
	return snap, nil
}

// ["o", <1 bid | 0 ask>, "<price>", "<size>", <epoch_ms>]
func decodeDelta(fields []json.RawMessage) (Message, error) {
	if len(fields) != 4 && len(fields) != 5 {
		return nil, malformed("delta: expected 4 or 5 elements, got %d", len(fields))
	}

	var flag int
	if err := json.Unmarshal(fields[1], &flag); err != nil {
		return nil, malformed("delta side flag: %v", err)
	}

	var d Delta
	if err := json.Unmarshal(fields[2], &d.Price); err != nil {
		return nil, malformed("delta price: %v", err)
	}
	if err := json.Unmarshal(fields[3], &d.Size); err != nil {
		return nil, malformed("delta size: %v", err)
	}
	if err := checkNumber(d.Price, d.Size); err != nil {
		return nil, err
	}

	d.Side = domain.SideAsk
	if flag == 1 {
		d.Side = domain.SideBid
	}

	if len(fields) == 5 {
		ts, err := decodeTimestamp(fields[4])
		if err != nil {
			return nil, err
		}
		d.TimestampMs = ts
	}
	return d, nil
}

// The exchange has sent the timestamp both as a number and as a string.
func decodeTimestamp(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, malformed("delta timestamp: %v", err)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, malformed("delta timestamp %q: %v", s, err)
	}
	return n, nil
}

func checkNumber(price, size string) error {
	if _, err := decimal.NewFromString(price); err != nil {
		return malformed("price %q: %v", price, err)
	}
	if _, err := decimal.NewFromString(size); err != nil {
		return malformed("size %q: %v", size, err)
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("poloniex: %w: %s", domain.ErrMalformedFrame, fmt.Sprintf(format, args...))
}
