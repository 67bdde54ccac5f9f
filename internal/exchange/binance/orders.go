package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/google/uuid"

	"mafin/internal/orders"
	"mafin/logger"
)

// Binance rejects a cancel of an order that is no longer open with this
// code ("Unknown order sent").
const codeUnknownOrder = -2011

func fnum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// PlaceLimit submits a GTC limit order and returns the exchange order
// id. A fresh client order id is generated per placement.
func (c *Client) PlaceLimit(ctx context.Context, symbol, side string, quantity, price float64) (int64, error) {
	clientID := uuid.NewString()
	var res *binance.CreateOrderResponse
	err := c.do(ctx, "place limit "+symbol, func(ctx context.Context) error {
		var err error
		res, err = c.spot.NewCreateOrderService().
			Symbol(symbol).
			Side(binance.SideType(side)).
			Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Quantity(fnum(quantity)).
			Price(fnum(price)).
			NewClientOrderID(clientID).
			Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	c.log.WithComponent("binance_orders").WithFields(logger.Fields{
		"symbol": symbol, "side": side, "order_id": res.OrderID,
		"price": price, "quantity": quantity,
	}).Debug("limit order accepted")
	return res.OrderID, nil
}

// PlaceMarket submits a market order and returns the exchange order id.
func (c *Client) PlaceMarket(ctx context.Context, symbol, side string, quantity float64) (int64, error) {
	clientID := uuid.NewString()
	var res *binance.CreateOrderResponse
	err := c.do(ctx, "place market "+symbol, func(ctx context.Context) error {
		var err error
		res, err = c.spot.NewCreateOrderService().
			Symbol(symbol).
			Side(binance.SideType(side)).
			Type(binance.OrderTypeMarket).
			Quantity(fnum(quantity)).
			NewClientOrderID(clientID).
			Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return res.OrderID, nil
}

// Cancel cancels one order. An "unknown order" rejection means the
// order already left the book; that is a definitive answer, not a
// transient failure, so it is surfaced as orders.ErrOrderGone without
// retrying.
func (c *Client) Cancel(ctx context.Context, symbol string, orderID int64) error {
	err := c.do(ctx, "cancel "+symbol, func(ctx context.Context) error {
		_, err := c.spot.NewCancelOrderService().
			Symbol(symbol).
			OrderID(orderID).
			Do(ctx)
		return err
	})
	if isUnknownOrder(err) {
		return fmt.Errorf("cancel %s order %d: %w", symbol, orderID, orders.ErrOrderGone)
	}
	return err
}

func isUnknownOrder(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeUnknownOrder
}
