package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"deribit-client/internal/exchange"
	"deribit-client/internal/exchange/deribit"
	"deribit-client/internal/jsonrpc"
)

type Kind string

const (
	KindOrderBook   Kind = "order_book"
	KindOrderUpdate Kind = "order_update"
	KindReply       Kind = "reply"
	KindOther       Kind = "other"
)

const (
	bookPrefix  = "book."
	orderPrefix = "user.orders."
)

// BookChannel names the order book channel, e.g. book.BTC-PERPETUAL.100ms.
func BookChannel(instrument, interval string) string {
	return fmt.Sprintf("%s%s.%s", bookPrefix, instrument, interval)
}

// OrderChannel names the private order channel, e.g. user.orders.BTC-PERPETUAL.raw.
func OrderChannel(instrument, interval string) string {
	return fmt.Sprintf("%s%s.%s", orderPrefix, instrument, interval)
}

// Message is one decoded frame. Notifications carry Channel and Data;
// replies to our own requests carry ID and Result or Error.
type Message struct {
	ID      *uint64
	Method  string
	Channel string
	Data    json.RawMessage
	Result  json.RawMessage
	Error   *jsonrpc.Error
	Raw     json.RawMessage
}

type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpc.Error  `json:"error"`
}

type wireParams struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	Type    string          `json:"type"`
}

func (m Message) Kind() Kind {
	switch {
	case m.Method == "subscription" && strings.HasPrefix(m.Channel, bookPrefix):
		return KindOrderBook
	case m.Method == "subscription" && strings.HasPrefix(m.Channel, orderPrefix):
		return KindOrderUpdate
	case m.ID != nil:
		return KindReply
	default:
		return KindOther
	}
}

// decodeMessage also returns the heartbeat type ("heartbeat" or
// "test_request") for heartbeat frames, empty otherwise.
func decodeMessage(data []byte) (Message, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, "", errors.New("frame is not a JSON object")
	}
	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Message{}, "", err
	}

	msg := Message{
		ID:     w.ID,
		Method: w.Method,
		Result: w.Result,
		Error:  w.Error,
		Raw:    json.RawMessage(trimmed),
	}
	if len(w.Params) > 0 {
		var p wireParams
		if err := json.Unmarshal(w.Params, &p); err == nil {
			msg.Channel = p.Channel
			msg.Data = p.Data
			if w.Method == "heartbeat" {
				return msg, p.Type, nil
			}
		}
	}
	return msg, "", nil
}

// DecodeOrderUpdate reads the orders carried by a user.orders notification.
// Raw channels push one order object, aggregated ones push an array.
func DecodeOrderUpdate(m Message) ([]exchange.Order, error) {
	if m.Kind() != KindOrderUpdate {
		return nil, errors.Errorf("not an order update: %s", m.Channel)
	}

	trimmed := bytes.TrimSpace(m.Data)
	var items []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errors.Wrap(err, "decode order update")
		}
	} else {
		items = []json.RawMessage{trimmed}
	}

	orders := make([]exchange.Order, 0, len(items))
	for _, item := range items {
		ord, ok := deribit.ParseOrder(item)
		if !ok {
			return nil, &exchange.ShapeError{Method: m.Channel, Missing: []string{"data.order_id"}, Payload: m.Raw}
		}
		orders = append(orders, ord)
	}
	return orders, nil
}

type BookLevel struct {
	Action string // new, change or delete
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// BookUpdate is a book notification as sent; deltas are not applied.
type BookUpdate struct {
	Type         string // snapshot or change
	Instrument   string
	Timestamp    int64
	ChangeID     int64
	PrevChangeID int64
	Bids         []BookLevel
	Asks         []BookLevel
}

type wireBook struct {
	Type         string              `json:"type"`
	Instrument   string              `json:"instrument_name"`
	Timestamp    int64               `json:"timestamp"`
	ChangeID     int64               `json:"change_id"`
	PrevChangeID int64               `json:"prev_change_id"`
	Bids         [][]json.RawMessage `json:"bids"`
	Asks         [][]json.RawMessage `json:"asks"`
}

func DecodeBookUpdate(m Message) (*BookUpdate, error) {
	if m.Kind() != KindOrderBook {
		return nil, errors.Errorf("not a book update: %s", m.Channel)
	}
	var w wireBook
	if err := json.Unmarshal(m.Data, &w); err != nil {
		return nil, errors.Wrap(err, "decode book update")
	}
	bids, err := bookLevels(w.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := bookLevels(w.Asks)
	if err != nil {
		return nil, err
	}
	return &BookUpdate{
		Type:         w.Type,
		Instrument:   w.Instrument,
		Timestamp:    w.Timestamp,
		ChangeID:     w.ChangeID,
		PrevChangeID: w.PrevChangeID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func bookLevels(rows [][]json.RawMessage) ([]BookLevel, error) {
	levels := make([]BookLevel, 0, len(rows))
	for _, row := range rows {
		var lvl BookLevel
		if len(row) == 3 {
			if err := json.Unmarshal(row[0], &lvl.Action); err != nil {
				return nil, errors.Wrap(err, "book level action")
			}
			row = row[1:]
		}
		if len(row) != 2 {
			return nil, errors.Errorf("book level has %d fields", len(row))
		}
		if err := lvl.Price.UnmarshalJSON(row[0]); err != nil {
			return nil, errors.Wrap(err, "book level price")
		}
		if err := lvl.Amount.UnmarshalJSON(row[1]); err != nil {
			return nil, errors.Wrap(err, "book level amount")
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}
