package orders

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"mafin/config"
	"mafin/internal/store"
	"mafin/logger"
)

// Manager is the single entry point for order submission. It wraps the
// exchange submitter, answers order lookups from the cached feeds and
// owns the registry of live smart orders so fill notifications from the
// user stream reach the right tracker.
type Manager struct {
	sub    Submitter
	cache  CacheReader
	oracle PriceOracle
	cfg    config.OrdersConfig

	scratchRoot string
	log         *logger.Log

	mu    sync.Mutex
	smart map[int64]*SmartOrder
	wg    sync.WaitGroup
}

// NewManager wires a manager. scratchRoot hosts the per-order journal
// series of smart orders.
func NewManager(sub Submitter, cache CacheReader, oracle PriceOracle, cfg config.OrdersConfig, scratchRoot string) *Manager {
	return &Manager{
		sub:         sub,
		cache:       cache,
		oracle:      oracle,
		cfg:         cfg,
		scratchRoot: scratchRoot,
		log:         logger.GetLogger(),
		smart:       make(map[int64]*SmartOrder),
	}
}

// LimitBuy places a limit buy and returns the exchange order id.
func (m *Manager) LimitBuy(ctx context.Context, symbol string, quantity, price float64) (int64, error) {
	return m.placeLimit(ctx, symbol, SideBuy, quantity, price)
}

// LimitSell places a limit sell and returns the exchange order id.
func (m *Manager) LimitSell(ctx context.Context, symbol string, quantity, price float64) (int64, error) {
	return m.placeLimit(ctx, symbol, SideSell, quantity, price)
}

// MarketBuy places a market buy and returns the exchange order id.
func (m *Manager) MarketBuy(ctx context.Context, symbol string, quantity float64) (int64, error) {
	return m.placeMarket(ctx, symbol, SideBuy, quantity)
}

// MarketSell places a market sell and returns the exchange order id.
func (m *Manager) MarketSell(ctx context.Context, symbol string, quantity float64) (int64, error) {
	return m.placeMarket(ctx, symbol, SideSell, quantity)
}

func (m *Manager) placeLimit(ctx context.Context, symbol, side string, quantity, price float64) (int64, error) {
	id, err := m.sub.PlaceLimit(ctx, symbol, side, quantity, price)
	if err != nil {
		return 0, fmt.Errorf("place %s limit %s: %w", side, symbol, err)
	}
	logger.IncrementOrderPlaced()
	m.log.WithComponent("orders_manager").WithFields(logger.Fields{
		"symbol": symbol, "side": side, "order_id": id, "price": price, "quantity": quantity,
	}).Info("limit order placed")
	return id, nil
}

func (m *Manager) placeMarket(ctx context.Context, symbol, side string, quantity float64) (int64, error) {
	id, err := m.sub.PlaceMarket(ctx, symbol, side, quantity)
	if err != nil {
		return 0, fmt.Errorf("place %s market %s: %w", side, symbol, err)
	}
	logger.IncrementOrderPlaced()
	m.log.WithComponent("orders_manager").WithFields(logger.Fields{
		"symbol": symbol, "side": side, "order_id": id, "quantity": quantity,
	}).Info("market order placed")
	return id, nil
}

// Cancel cancels one order. ErrOrderGone passes through so callers can
// distinguish an already-closed order from a live failure.
func (m *Manager) Cancel(ctx context.Context, symbol string, orderID int64) error {
	if err := m.sub.Cancel(ctx, symbol, orderID); err != nil {
		return err
	}
	logger.IncrementOrderCanceled()
	return nil
}

// Order looks an order up by id in the cached order history for the
// symbol. The bool reports whether the order was found.
func (m *Manager) Order(symbol string, orderID int64) (store.Record, bool) {
	batch := m.cache.SpotOrders(symbol)
	for _, rec := range batch.Records {
		if rec.Key == orderID {
			return rec, true
		}
	}
	return store.Record{}, false
}

// OpenOrders returns the cached open orders for a symbol.
func (m *Manager) OpenOrders(symbol string) store.Batch {
	return m.cache.SpotOpenOrders(symbol)
}

// CancelAllOpen cancels every cached open order for a symbol. Orders
// that closed since the cache was refreshed are skipped silently.
func (m *Manager) CancelAllOpen(ctx context.Context, symbol string) error {
	var errs []error
	for _, rec := range m.cache.SpotOpenOrders(symbol).Records {
		err := m.Cancel(ctx, symbol, rec.Key)
		if err != nil && !errors.Is(err, ErrOrderGone) {
			errs = append(errs, fmt.Errorf("cancel order %d: %w", rec.Key, err))
		}
	}
	return errors.Join(errs...)
}

// StartSmartOrder places a limit order and starts tracking it against
// the price oracle. The tracker runs until the order fills or ctx ends;
// Wait blocks until every tracker has exited.
func (m *Manager) StartSmartOrder(ctx context.Context, symbol, side string, quantity, price float64) (*SmartOrder, error) {
	id, err := m.placeLimit(ctx, symbol, side, quantity, price)
	if err != nil {
		return nil, err
	}

	journalPath := filepath.Join(m.scratchRoot, "SmartOrders",
		fmt.Sprintf("%s-%d", symbol, id), "journal.csv")
	journal, jerr := store.NewSeries(journalPath)
	if jerr != nil {
		// The order is live; track it without a journal.
		m.log.WithComponent("orders_manager").WithError(jerr).Warn("smart order journal unavailable")
		journal = nil
	}

	o := &SmartOrder{
		symbol:          symbol,
		side:            side,
		quantity:        quantity,
		sub:             m.sub,
		oracle:          m.oracle,
		minDeltaPercent: m.cfg.MinDeltaPercent,
		pollInterval:    m.cfg.PollInterval,
		orderID:         id,
		refPrice:        price,
		resting:         true,
		filled:          make(chan struct{}),
		journal:         journal,
		log: m.log.WithComponent("smart_order").WithFields(logger.Fields{
			"symbol": symbol,
		}),
	}
	o.onReplace = func(oldID, newID int64) { m.rekey(o, oldID, newID) }
	o.journalEvent("placed", id, price)

	m.mu.Lock()
	m.smart[id] = o
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		o.Run(ctx)
		m.remove(o)
	}()
	return o, nil
}

// rekey moves a smart order's registry slot after a replacement so the
// user stream can still route fills by exchange order id.
func (m *Manager) rekey(o *SmartOrder, oldID, newID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.smart[oldID] == o {
		delete(m.smart, oldID)
	}
	m.smart[newID] = o
}

func (m *Manager) remove(o *SmartOrder) {
	id := o.OrderID()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.smart[id] == o {
		delete(m.smart, id)
	}
}

// HandleOrderUpdate routes an execution report from the user stream to
// the matching smart order. Only fills are terminal here; external
// cancels surface on the tracker's next cancel attempt instead.
func (m *Manager) HandleOrderUpdate(symbol string, orderID int64, status string) {
	if status != "FILLED" {
		return
	}
	m.mu.Lock()
	o := m.smart[orderID]
	m.mu.Unlock()
	if o == nil {
		return
	}
	m.log.WithComponent("orders_manager").WithFields(logger.Fields{
		"symbol": symbol, "order_id": orderID,
	}).Info("fill routed to smart order")
	o.Fill()
}

// Tracked returns the number of live smart orders.
func (m *Manager) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.smart)
}

// Wait blocks until every smart order tracker has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}
