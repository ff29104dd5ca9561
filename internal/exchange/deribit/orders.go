package deribit

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"deribit-client/internal/exchange"
	"deribit-client/internal/jsonrpc"
)

// PlaceOrder submits a new order. The endpoint follows req.Side
// (private/buy or private/sell) and req.Type is sent as its own field.
func (c *Client) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.Order, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}

	method := methodBuy
	if req.Side == exchange.SideSell {
		method = methodSell
	}

	resp, err := c.call(ctx, method, orderParams(req), true)
	if err != nil {
		return nil, err
	}
	if err := requireResult(method, resp); err != nil {
		return nil, err
	}

	id, err := extractOrderID(method, resp)
	if err != nil {
		return nil, err
	}

	ord := orderFromResult(resp)
	ord.ID = id
	if ord.Instrument == "" {
		ord.Instrument = req.Instrument
	}
	if ord.Side == "" {
		ord.Side = req.Side
	}
	if ord.Type == "" {
		ord.Type = req.Type
	}
	if ord.Amount.IsZero() {
		ord.Amount = req.Amount
	}

	c.log.WithFields(logrus.Fields{
		"order_id":   ord.ID,
		"instrument": ord.Instrument,
		"side":       ord.Side,
		"type":       ord.Type,
		"state":      ord.State,
	}).Info("order placed")
	return &ord, nil
}

// CancelOrder asks the service to cancel orderID. Cancelling an order that
// is already gone yields either a cancelled snapshot or a ServiceError.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*exchange.Order, error) {
	return c.orderSnapshot(ctx, methodCancel, orderID)
}

// GetOrderState fetches the current snapshot of orderID.
func (c *Client) GetOrderState(ctx context.Context, orderID string) (*exchange.Order, error) {
	return c.orderSnapshot(ctx, methodOrderState, orderID)
}

func (c *Client) orderSnapshot(ctx context.Context, method, orderID string) (*exchange.Order, error) {
	if orderID == "" {
		return nil, errors.Wrap(exchange.ErrInvalidOrder, "order id is required")
	}

	resp, err := c.call(ctx, method, map[string]any{"order_id": orderID}, true)
	if err != nil {
		return nil, err
	}
	if err := requireResult(method, resp); err != nil {
		return nil, err
	}

	result, _ := asObject(resp.Result)
	var missing []string
	if _, ok := result.str("order_id"); !ok {
		missing = append(missing, "result.order_id")
	}
	if _, ok := result.str("order_state"); !ok {
		missing = append(missing, "result.order_state")
	}
	if len(missing) > 0 {
		return nil, &exchange.ShapeError{Method: method, Missing: missing, Payload: payloadOf(resp)}
	}

	ord := parseOrder(result)
	ord.Raw = payloadOf(resp)
	c.log.WithFields(logrus.Fields{
		"method":   method,
		"order_id": ord.ID,
		"state":    ord.State,
	}).Info("order snapshot")
	return &ord, nil
}

// ModifyOrder edits amount and price of an open order. Only the presence of
// a result is required; an unrecognisable order payload yields state unknown.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, amount, price decimal.Decimal) (*exchange.Order, error) {
	if orderID == "" {
		return nil, errors.Wrap(exchange.ErrInvalidOrder, "order id is required")
	}
	if !amount.IsPositive() {
		return nil, errors.Wrapf(exchange.ErrInvalidOrder, "amount must be positive, got %s", amount)
	}
	if !price.IsPositive() {
		return nil, errors.Wrapf(exchange.ErrInvalidOrder, "price must be positive, got %s", price)
	}

	resp, err := c.call(ctx, methodEdit, map[string]any{
		"order_id": orderID,
		"amount":   amount.InexactFloat64(),
		"price":    price.InexactFloat64(),
	}, true)
	if err != nil {
		return nil, err
	}
	if err := requireResult(methodEdit, resp); err != nil {
		return nil, err
	}

	ord := orderFromResult(resp)
	if ord.ID == "" {
		ord.ID = orderID
	}
	c.log.WithFields(logrus.Fields{
		"order_id": ord.ID,
		"state":    ord.State,
	}).Info("order modified")
	return &ord, nil
}

// validateOrder rejects requests the service would refuse anyway.
func validateOrder(req *exchange.OrderRequest) error {
	switch {
	case req == nil:
		return errors.Wrap(exchange.ErrInvalidOrder, "nil request")
	case req.Instrument == "":
		return errors.Wrap(exchange.ErrInvalidOrder, "instrument is required")
	case !req.Side.Valid():
		return errors.Wrapf(exchange.ErrInvalidOrder, "unknown side %q", req.Side)
	case !req.Type.Valid():
		return errors.Wrapf(exchange.ErrInvalidOrder, "unknown order type %q", req.Type)
	case !req.Amount.IsPositive():
		return errors.Wrapf(exchange.ErrInvalidOrder, "amount must be positive, got %s", req.Amount)
	case req.Type == exchange.OrderTypeLimit && !req.Price.IsPositive():
		return errors.Wrapf(exchange.ErrInvalidOrder, "limit price must be positive, got %s", req.Price)
	}
	return nil
}

// orderParams builds the placement params. price is present only for limit
// orders; market orders must not carry one.
func orderParams(req *exchange.OrderRequest) map[string]any {
	params := map[string]any{
		"instrument_name": req.Instrument,
		"amount":          req.Amount.InexactFloat64(),
		"type":            string(req.Type),
	}
	if req.Type == exchange.OrderTypeLimit {
		params["price"] = req.Price.InexactFloat64()
	}
	if req.ReduceOnly {
		params["reduce_only"] = true
	}
	if req.PostOnly {
		params["post_only"] = true
	}
	if req.Label != "" {
		params["label"] = req.Label
	}
	return params
}

// extractOrderID accepts result.order_id and result.order.order_id, in that order.
func extractOrderID(method string, resp *jsonrpc.Response) (string, error) {
	if id, ok := resp.String("order_id"); ok && id != "" {
		return id, nil
	}
	if id, ok := resp.String("order", "order_id"); ok && id != "" {
		return id, nil
	}
	return "", &exchange.ShapeError{
		Method:  method,
		Missing: []string{"result.order_id", "result.order.order_id"},
		Payload: payloadOf(resp),
	}
}

// orderFromResult parses result.order when present, else result itself.
func orderFromResult(resp *jsonrpc.Response) exchange.Order {
	result, _ := asObject(resp.Result)
	obj := result
	if nested, ok := result.child("order"); ok {
		obj = nested
	}
	ord := parseOrder(obj)
	ord.Raw = payloadOf(resp)
	return ord
}
