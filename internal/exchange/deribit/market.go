package deribit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"deribit-client/internal/exchange"
)

// GetOrderBook fetches a depth-limited snapshot. It is a public call and
// sends no Authorization header. An empty instrument uses the configured one.
func (c *Client) GetOrderBook(ctx context.Context, instrument string) (*exchange.OrderBookSnapshot, error) {
	if instrument == "" {
		instrument = c.cfg.Instrument
	}

	resp, err := c.call(ctx, methodOrderBook, map[string]any{
		"instrument_name": instrument,
		"depth":           c.cfg.Depth,
	}, false)
	if err != nil {
		return nil, err
	}
	if err := requireResult(methodOrderBook, resp); err != nil {
		return nil, err
	}

	result, _ := asObject(resp.Result)
	stats, _ := result.child("stats")

	var missing []string
	need := func(o object, key, name string) decimal.Decimal {
		v, ok := o.num(key)
		if !ok {
			missing = append(missing, name)
		}
		return v
	}

	book := &exchange.OrderBookSnapshot{
		BestBid:    need(result, "best_bid_price", "result.best_bid_price"),
		BestAsk:    need(result, "best_ask_price", "result.best_ask_price"),
		LastPrice:  need(result, "last_price", "result.last_price"),
		High24h:    need(stats, "high", "result.stats.high"),
		Low24h:     need(stats, "low", "result.stats.low"),
		Volume24h:  need(stats, "volume", "result.stats.volume"),
		IndexPrice: need(result, "index_price", "result.index_price"),
		MarkPrice:  need(result, "mark_price", "result.mark_price"),
	}
	if len(missing) > 0 {
		return nil, &exchange.ShapeError{Method: methodOrderBook, Missing: missing, Payload: payloadOf(resp)}
	}

	book.Instrument, _ = result.str("instrument_name")
	if book.Instrument == "" {
		book.Instrument = instrument
	}
	book.Timestamp = result.integer("timestamp")
	if funding, ok := result.num("funding_8h"); ok {
		book.Funding8h = &funding
	}
	book.Bids = parseLevels(result["bids"])
	book.Asks = parseLevels(result["asks"])
	return book, nil
}

// GetPositions lists position snapshots for currency, or the configured
// currency when empty.
func (c *Client) GetPositions(ctx context.Context, currency string) ([]exchange.Position, error) {
	if currency == "" {
		currency = c.cfg.Currency
	}

	resp, err := c.call(ctx, methodPositions, map[string]any{"currency": currency}, true)
	if err != nil {
		return nil, err
	}
	if err := requireResult(methodPositions, resp); err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	trimmed := bytes.TrimSpace(resp.Result)
	if len(trimmed) == 0 || trimmed[0] != '[' || json.Unmarshal(trimmed, &rows) != nil {
		return nil, &exchange.ShapeError{Method: methodPositions, Missing: []string{"result[]"}, Payload: payloadOf(resp)}
	}

	positions := make([]exchange.Position, 0, len(rows))
	for i, row := range rows {
		o, ok := asObject(row)
		if !ok {
			return nil, &exchange.ShapeError{
				Method:  methodPositions,
				Missing: []string{fmt.Sprintf("result[%d]", i)},
				Payload: payloadOf(resp),
			}
		}
		var p exchange.Position
		p.Instrument, _ = o.str("instrument_name")
		p.Size, _ = o.num("size")
		p.Direction, _ = o.str("direction")
		p.EntryPrice, _ = o.num("average_price")
		p.MarkPrice, _ = o.num("mark_price")
		p.UnrealizedPnL, _ = o.num("floating_profit_loss")
		p.RealizedPnL, _ = o.num("realized_profit_loss")
		p.Leverage, _ = o.num("leverage")
		positions = append(positions, p)
	}
	return positions, nil
}
