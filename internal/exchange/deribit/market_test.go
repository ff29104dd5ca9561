package deribit

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deribit-client/internal/exchange"
)

const bookReply = `{
  "jsonrpc": "2.0",
  "id": 3,
  "result": {
    "timestamp": 1700000000000,
    "instrument_name": "BTC-PERPETUAL",
    "best_bid_price": 50000.5,
    "best_ask_price": 50001,
    "last_price": 50000.5,
    "index_price": 49998.12,
    "mark_price": 50000.1,
    "funding_8h": 0.0001,
    "stats": {"high": 51000, "low": 49000, "volume": 1234.5},
    "bids": [[50000.5, 1200], [50000, 800]],
    "asks": [[50001, 300]]
  }
}`

func TestGetOrderBookIsPublic(t *testing.T) {
	srv := newStubService(t, map[string]string{"/public/get_order_book": bookReply})
	c := NewClient(testConfig(srv.URL))
	c.Session().SetToken("tok123")

	book, err := c.GetOrderBook(context.Background(), "BTC-PERPETUAL")
	require.NoError(t, err)

	seen := srv.last()
	assert.Empty(t, seen.auth, "order book must not carry a bearer token")
	assert.Equal(t, "public/get_order_book", seen.method)
	assert.Equal(t, "BTC-PERPETUAL", seen.params["instrument_name"])
	assert.Equal(t, 10.0, seen.params["depth"])

	assert.Equal(t, "BTC-PERPETUAL", book.Instrument)
	assert.Equal(t, int64(1700000000000), book.Timestamp)
	assert.True(t, book.BestBid.Equal(decimal.RequireFromString("50000.5")))
	assert.True(t, book.BestAsk.Equal(decimal.NewFromInt(50001)))
	assert.True(t, book.LastPrice.Equal(decimal.RequireFromString("50000.5")))
	assert.True(t, book.High24h.Equal(decimal.NewFromInt(51000)))
	assert.True(t, book.Low24h.Equal(decimal.NewFromInt(49000)))
	assert.True(t, book.Volume24h.Equal(decimal.RequireFromString("1234.5")))
	assert.True(t, book.IndexPrice.Equal(decimal.RequireFromString("49998.12")))
	assert.True(t, book.MarkPrice.Equal(decimal.RequireFromString("50000.1")))
	require.NotNil(t, book.Funding8h)
	assert.True(t, book.Funding8h.Equal(decimal.RequireFromString("0.0001")))
	require.Len(t, book.Bids, 2)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Bids[1].Amount.Equal(decimal.NewFromInt(800)))
}

func TestGetOrderBookDefaults(t *testing.T) {
	mock := newMock(bookReply)
	cfg := testConfig("https://test.invalid")
	cfg.Depth = 0
	cfg.Instrument = "ETH-PERPETUAL"
	c := NewClient(cfg, WithTransport(mock))

	_, err := c.GetOrderBook(context.Background(), "")
	require.NoError(t, err)

	call := mock.last()
	assert.Empty(t, call.token)
	assert.Equal(t, "ETH-PERPETUAL", call.req.Params["instrument_name"])
	assert.Equal(t, 10.0, call.req.Params["depth"])
}

func TestGetOrderBookFundingOptional(t *testing.T) {
	c := NewClient(testConfig("https://test.invalid"), WithTransport(newMock(`{"result":{
		"best_bid_price": 1, "best_ask_price": 2, "last_price": 1.5,
		"index_price": 1.4, "mark_price": 1.45,
		"stats": {"high": 2, "low": 1, "volume": 10}}}`)))

	book, err := c.GetOrderBook(context.Background(), "BTC-27DEC24")
	require.NoError(t, err)
	assert.Nil(t, book.Funding8h)
	assert.Empty(t, book.Bids)
}

func TestGetOrderBookNeverPartial(t *testing.T) {
	tests := map[string]struct {
		reply   string
		missing []string
	}{
		"no result": {
			reply:   `{"jsonrpc":"2.0","id":3}`,
			missing: []string{"result"},
		},
		"error envelope": {
			reply: `{"error":{"code":10020,"message":"invalid_instrument"}}`,
		},
		"no stats": {
			reply: `{"result":{"best_bid_price":1,"best_ask_price":2,"last_price":1,"index_price":1,"mark_price":1}}`,
			missing: []string{"result.stats.high", "result.stats.low", "result.stats.volume"},
		},
		"null bid": {
			reply:   `{"result":{"best_bid_price":null,"best_ask_price":2,"last_price":1,"index_price":1,"mark_price":1,"stats":{"high":1,"low":1,"volume":1}}}`,
			missing: []string{"result.best_bid_price"},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := NewClient(testConfig("https://test.invalid"), WithTransport(newMock(tt.reply)))
			book, err := c.GetOrderBook(context.Background(), "BTC-PERPETUAL")
			assert.Nil(t, book)
			require.Error(t, err)

			if tt.missing == nil {
				var svc *exchange.ServiceError
				assert.True(t, errors.As(err, &svc))
				return
			}
			var shape *exchange.ShapeError
			require.True(t, errors.As(err, &shape))
			assert.Equal(t, tt.missing, shape.Missing)
		})
	}
}

func TestGetPositions(t *testing.T) {
	c, mock := authedClient(`{"result":[
		{"instrument_name":"BTC-PERPETUAL","size":-1500,"direction":"sell","average_price":50100.5,"mark_price":50000,"floating_profit_loss":0.0003,"realized_profit_loss":-0.0001,"leverage":10},
		{"instrument_name":"BTC-27DEC24","size":200,"direction":"buy","average_price":52000,"mark_price":52500,"floating_profit_loss":-0.002}
	]}`)

	positions, err := c.GetPositions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, "BTC", mock.last().req.Params["currency"])
	assert.Equal(t, "tok123", mock.last().token)

	short := positions[0]
	assert.Equal(t, "BTC-PERPETUAL", short.Instrument)
	assert.True(t, short.Size.Equal(decimal.NewFromInt(-1500)))
	assert.False(t, short.Long())
	assert.True(t, short.EntryPrice.Equal(decimal.RequireFromString("50100.5")))
	assert.True(t, short.UnrealizedPnL.Equal(decimal.RequireFromString("0.0003")))
	assert.True(t, short.Leverage.Equal(decimal.NewFromInt(10)))

	assert.True(t, positions[1].Long())
	assert.True(t, positions[1].MarkPrice.Equal(decimal.NewFromInt(52500)))
}

func TestGetPositionsExplicitCurrencyAndEmpty(t *testing.T) {
	c, mock := authedClient(`{"result":[]}`)

	positions, err := c.GetPositions(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Equal(t, "ETH", mock.last().req.Params["currency"])
}

func TestGetPositionsShapeErrors(t *testing.T) {
	for name, reply := range map[string]string{
		"no result":     `{"jsonrpc":"2.0"}`,
		"object result": `{"result":{"size":1}}`,
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := authedClient(reply)
			_, err := c.GetPositions(context.Background(), "")
			assert.True(t, errors.Is(err, exchange.ErrInvalidResponseShape))
		})
	}
}

func TestGetPositionsRejectsNonObjectRow(t *testing.T) {
	c, _ := authedClient(`{"result":[{"instrument_name":"BTC-PERPETUAL","size":10},"garbage"]}`)

	positions, err := c.GetPositions(context.Background(), "")
	assert.Nil(t, positions)
	var shape *exchange.ShapeError
	require.True(t, errors.As(err, &shape))
	assert.Equal(t, []string{"result[1]"}, shape.Missing)
	assert.Contains(t, string(shape.Payload), "garbage")
}
