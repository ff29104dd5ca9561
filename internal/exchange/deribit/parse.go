package deribit

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"deribit-client/internal/exchange"
)

// object is a lazily decoded JSON object.
type object map[string]json.RawMessage

func asObject(raw json.RawMessage) (object, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var o object
	if err := json.Unmarshal(trimmed, &o); err != nil {
		return nil, false
	}
	return o, true
}

func (o object) str(key string) (string, bool) {
	raw, ok := o[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// num accepts JSON numbers and numeric strings. Null and anything else
// (e.g. "market_price") report false.
func (o object) num(key string) (decimal.Decimal, bool) {
	raw, ok := o[key]
	if !ok {
		return decimal.Zero, false
	}
	s := strings.Trim(string(bytes.TrimSpace(raw)), `"`)
	if s == "" || s == "null" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func (o object) integer(key string) int64 {
	d, _ := o.num(key)
	return d.IntPart()
}

func (o object) child(key string) (object, bool) {
	raw, ok := o[key]
	if !ok {
		return nil, false
	}
	return asObject(raw)
}

// parseOrder maps an order object. Missing state means unknown.
func parseOrder(o object) exchange.Order {
	var ord exchange.Order
	ord.ID, _ = o.str("order_id")
	ord.Instrument, _ = o.str("instrument_name")
	if dir, ok := o.str("direction"); ok {
		ord.Side = exchange.Side(dir)
	}
	if typ, ok := o.str("order_type"); ok {
		ord.Type = exchange.OrderType(typ)
	}
	ord.Amount, _ = o.num("amount")
	ord.FilledAmount, _ = o.num("filled_amount")
	ord.Price, _ = o.num("price")
	ord.AveragePrice, _ = o.num("average_price")
	ord.Label, _ = o.str("label")

	state, _ := o.str("order_state")
	ord.State = exchange.ParseOrderState(state)
	return ord
}

// parseLevels reads [[price, amount], ...]. Book notifications prefix each
// level with an action ("new", "change", "delete"); that form is accepted too.
func parseLevels(raw json.RawMessage) []exchange.PriceLevel {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil
	}
	levels := make([]exchange.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) == 3 {
			row = row[1:]
		}
		if len(row) != 2 {
			continue
		}
		pair := object{"p": row[0], "a": row[1]}
		price, ok1 := pair.num("p")
		amount, ok2 := pair.num("a")
		if !ok1 || !ok2 {
			continue
		}
		levels = append(levels, exchange.PriceLevel{Price: price, Amount: amount})
	}
	return levels
}

// ParseOrder maps a raw order object as found in replies and user.orders
// notifications.
func ParseOrder(raw json.RawMessage) (exchange.Order, bool) {
	o, ok := asObject(raw)
	if !ok {
		return exchange.Order{}, false
	}
	ord := parseOrder(o)
	ord.Raw = raw
	return ord, ord.ID != ""
}
