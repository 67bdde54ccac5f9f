// Package orders submits exchange orders and tracks resting limit
// orders against a live price oracle, cancelling and replacing them
// when the market drifts away from the resting price.
package orders

import (
	"context"
	"errors"

	"mafin/internal/store"
)

// ErrOrderGone reports that a cancel was rejected because the order no
// longer exists on the exchange, which for a resting limit order means
// it filled (or was cancelled externally) before the cancel arrived.
var ErrOrderGone = errors.New("order no longer open on exchange")

// Order sides as the exchange spells them.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Submitter places and cancels orders on the exchange. PlaceLimit and
// PlaceMarket return the exchange order id. Cancel returns ErrOrderGone
// (possibly wrapped) when the order is already closed.
type Submitter interface {
	PlaceLimit(ctx context.Context, symbol, side string, quantity, price float64) (int64, error)
	PlaceMarket(ctx context.Context, symbol, side string, quantity float64) (int64, error)
	Cancel(ctx context.Context, symbol string, orderID int64) error
}

// CacheReader reads cached feed contents. Satisfied by the cache
// directory.
type CacheReader interface {
	SpotOrders(symbol string) store.Batch
	SpotOpenOrders(symbol string) store.Batch
}

// PriceOracle serves the latest observed price per symbol. Satisfied by
// the quote board.
type PriceOracle interface {
	Last(symbol string) (float64, bool)
}
