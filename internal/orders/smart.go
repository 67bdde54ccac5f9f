package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"mafin/internal/store"
	"mafin/logger"
)

// State of a smart order.
type State int32

const (
	// Resting means a limit order is (or is being re-placed) on the book.
	Resting State = iota
	// Filled is terminal: the order executed, no replacement happens.
	Filled
)

func (s State) String() string {
	switch s {
	case Resting:
		return "resting"
	case Filled:
		return "filled"
	default:
		return "unknown"
	}
}

// SmartOrder keeps one limit order near the market. While resting it
// polls the price oracle; when the price drifts at least
// minDeltaPercent away from the resting price it cancels the order and
// re-places it at the current price. A fill notification, or a cancel
// rejected because the order already closed, moves it to Filled.
type SmartOrder struct {
	symbol   string
	side     string
	quantity float64

	sub    Submitter
	oracle PriceOracle
	log    *logger.Entry

	minDeltaPercent float64
	pollInterval    time.Duration

	mu       sync.Mutex
	orderID  int64
	refPrice float64
	resting  bool

	state    int32
	fillOnce sync.Once
	filled   chan struct{}

	journal        *store.Series
	lastJournalKey int64
	onReplace      func(oldID, newID int64)
}

var journalSchema = []string{"date", "event", "order_id", "price"}

// journalEvent appends one row to the per-order scratch series. Journal
// failures are logged and otherwise ignored; the journal is an audit
// aid, not part of the order lifecycle.
func (o *SmartOrder) journalEvent(event string, orderID int64, price float64) {
	if o.journal == nil {
		return
	}
	now := time.Now().UnixMilli()
	// Keys must stay strictly increasing for the merge filter, even
	// when a cancel and its replacement land in the same millisecond.
	if now <= o.lastJournalKey {
		now = o.lastJournalKey + 1
	}
	o.lastJournalKey = now
	err := o.journal.MergeAppend(store.Batch{
		Schema: journalSchema,
		Records: []store.Record{{
			Key: now,
			Values: []string{
				strconv.FormatInt(now, 10),
				event,
				strconv.FormatInt(orderID, 10),
				strconv.FormatFloat(price, 'f', -1, 64),
			},
		}},
	})
	if err != nil {
		o.log.WithError(err).Warn("journal append failed")
	}
}

// OrderID returns the exchange id of the currently resting order.
func (o *SmartOrder) OrderID() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.orderID
}

// Symbol returns the order's trading pair.
func (o *SmartOrder) Symbol() string {
	return o.symbol
}

// State returns the current lifecycle state.
func (o *SmartOrder) State() State {
	return State(atomic.LoadInt32(&o.state))
}

// Done is closed when the order reaches Filled.
func (o *SmartOrder) Done() <-chan struct{} {
	return o.filled
}

// Fill marks the order filled. Idempotent; safe from any goroutine.
func (o *SmartOrder) Fill() {
	o.fillOnce.Do(func() {
		atomic.StoreInt32(&o.state, int32(Filled))
		close(o.filled)
	})
}

// Run polls the oracle until the order fills or the context ends. The
// scratch journal is disposed on the way out.
func (o *SmartOrder) Run(ctx context.Context) {
	defer func() {
		if o.journal != nil {
			if err := o.journal.Dispose(); err != nil {
				o.log.WithError(err).Warn("journal dispose failed")
			}
		}
	}()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	o.log.WithFields(logger.Fields{
		"order_id": o.OrderID(),
		"side":     o.side,
	}).Info("smart order tracking started")

	for {
		select {
		case <-ctx.Done():
			o.log.WithFields(logger.Fields{"order_id": o.OrderID()}).Info("smart order tracking stopped")
			return
		case <-o.filled:
			o.log.WithFields(logger.Fields{"order_id": o.OrderID()}).Info("smart order filled")
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll runs one drift check. When an earlier cycle cancelled the order
// but failed to place the replacement, poll retries the placement first
// so there is never a window with two live orders.
func (o *SmartOrder) poll(ctx context.Context) {
	if o.State() == Filled {
		return
	}
	cur, ok := o.oracle.Last(o.symbol)
	if !ok || cur <= 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.resting {
		o.place(ctx, cur)
		return
	}
	if o.refPrice <= 0 {
		return
	}

	drift := math.Abs(cur-o.refPrice) / o.refPrice * 100
	if drift < o.minDeltaPercent {
		return
	}

	o.log.WithFields(logger.Fields{
		"order_id":      o.orderID,
		"resting_price": o.refPrice,
		"current_price": cur,
		"drift_percent": drift,
	}).Info("price drifted, replacing order")
	o.replace(ctx, cur)
}

// replace cancels the resting order and, only once the cancel is
// confirmed, places a fresh one at the current price. Callers hold mu.
func (o *SmartOrder) replace(ctx context.Context, cur float64) {
	err := o.sub.Cancel(ctx, o.symbol, o.orderID)
	switch {
	case errors.Is(err, ErrOrderGone):
		// The order closed before the cancel landed: it filled.
		o.journalEvent("filled-before-cancel", o.orderID, o.refPrice)
		o.Fill()
		return
	case err != nil:
		o.log.WithError(err).WithFields(logger.Fields{
			"order_id": o.orderID,
		}).Warn("cancel failed, keeping resting order")
		return
	}

	logger.IncrementOrderCanceled()
	o.resting = false
	o.journalEvent("canceled", o.orderID, o.refPrice)
	o.place(ctx, cur)
}

// place submits a limit order at price and records it as the resting
// order. Callers hold mu.
func (o *SmartOrder) place(ctx context.Context, price float64) {
	id, err := o.sub.PlaceLimit(ctx, o.symbol, o.side, o.quantity, price)
	if err != nil {
		o.log.WithError(err).Error(fmt.Sprintf("placement at %v failed, retrying next poll", price))
		return
	}
	logger.IncrementOrderPlaced()

	oldID := o.orderID
	o.orderID = id
	o.refPrice = price
	o.resting = true
	o.journalEvent("placed", id, price)

	if o.onReplace != nil {
		o.onReplace(oldID, id)
	}
}
