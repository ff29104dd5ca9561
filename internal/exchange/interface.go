package exchange

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Exchange defines the trading surface a driver talks to
type Exchange interface {
	// Market Data
	GetOrderBook(ctx context.Context, instrument string) (*OrderBookSnapshot, error)

	// Account
	GetPositions(ctx context.Context, currency string) ([]Position, error)

	// Trading
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	ModifyOrder(ctx context.Context, orderID string, amount, price decimal.Decimal) (*Order, error)
	CancelOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderState(ctx context.Context, orderID string) (*Order, error)
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeLimit || t == OrderTypeMarket
}

type OrderState string

const (
	OrderStateOpen        OrderState = "open"
	OrderStateFilled      OrderState = "filled"
	OrderStateCancelled   OrderState = "cancelled"
	OrderStateRejected    OrderState = "rejected"
	OrderStateUntriggered OrderState = "untriggered"
	OrderStateUnknown     OrderState = "unknown"
)

// ParseOrderState maps the service's order_state string; anything
// unrecognised is OrderStateUnknown.
func ParseOrderState(s string) OrderState {
	switch st := OrderState(strings.ToLower(s)); st {
	case OrderStateOpen, OrderStateFilled, OrderStateCancelled, OrderStateRejected, OrderStateUntriggered:
		return st
	default:
		return OrderStateUnknown
	}
}

// Terminal reports whether no further transition is expected.
func (s OrderState) Terminal() bool {
	return s == OrderStateFilled || s == OrderStateCancelled || s == OrderStateRejected
}

type OrderRequest struct {
	Instrument string
	Side       Side
	Type       OrderType
	Amount     decimal.Decimal
	Price      decimal.Decimal // limit orders only
	ReduceOnly bool
	PostOnly   bool
	Label      string
}

// Order is a point-in-time snapshot reported by the service.
type Order struct {
	ID           string
	Instrument   string
	Side         Side
	Type         OrderType
	Amount       decimal.Decimal
	FilledAmount decimal.Decimal
	Price        decimal.Decimal
	AveragePrice decimal.Decimal
	State        OrderState
	Label        string
	// Raw is the full decoded reply the snapshot came from.
	Raw json.RawMessage
}

type Position struct {
	Instrument    string
	Size          decimal.Decimal // negative means short
	Direction     string
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	Leverage      decimal.Decimal
}

func (p Position) Long() bool {
	return p.Size.IsPositive()
}

type PriceLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

type OrderBookSnapshot struct {
	Instrument string
	Timestamp  int64
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	LastPrice  decimal.Decimal
	High24h    decimal.Decimal
	Low24h     decimal.Decimal
	Volume24h  decimal.Decimal
	IndexPrice decimal.Decimal
	MarkPrice  decimal.Decimal
	// Funding8h is only reported for perpetuals.
	Funding8h *decimal.Decimal
	Bids      []PriceLevel
	Asks      []PriceLevel
}
