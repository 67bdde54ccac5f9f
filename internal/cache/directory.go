// Package cache owns the registry of feed synchronizers and routes
// domain events to their hot triggers.
package cache

import (
	"context"
	"fmt"
	"sync"

	"mafin/config"
	"mafin/internal/feed"
	"mafin/internal/store"
	"mafin/internal/trigger"
	"mafin/logger"
)

// Source retrieves fresh batches from the exchange, one method per feed
// kind. Incremental feeds take a since key (the last key already in the
// store, 0 when the store is empty) so implementations can bound their
// request window.
type Source interface {
	Klines(ctx context.Context, symbol, timeframe string, since int64) (store.Batch, error)
	SpotTrades(ctx context.Context, symbol string, since int64) (store.Batch, error)
	SpotOrders(ctx context.Context, symbol string, since int64) (store.Batch, error)
	SpotOpenOrders(ctx context.Context, symbol string) (store.Batch, error)
	FuturesTrades(ctx context.Context, symbol string, since int64) (store.Batch, error)
	FuturesOrders(ctx context.Context, symbol string, since int64) (store.Batch, error)
	Balance(ctx context.Context, asset string) (store.Batch, error)
	SymbolRules(ctx context.Context, symbol string) (store.Batch, error)
}

// DomainEvent is a business-level occurrence that may invalidate cached
// feeds. Symbol is empty for events without a symbol scope.
type DomainEvent struct {
	Kind   string
	Symbol string
}

// EventOrderStatusChanged signals that an order for Symbol changed
// status on the exchange.
const EventOrderStatusChanged = "order-status-changed"

// Directory provisions one synchronizer per configured feed identity
// and exposes their stores to readers. The registry is written once in
// Start and only read afterwards, so lookups take no lock.
type Directory struct {
	cfg *config.Config
	src Source
	log *logger.Log

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	order []feed.Identity
	syncs map[feed.Identity]*feed.Synchronizer
	trigs map[feed.TriggerKey][]*trigger.Trigger
}

// New creates a directory over the given configuration and source. No
// feeds run until Start is called.
func New(cfg *config.Config, src Source) *Directory {
	return &Directory{
		cfg:   cfg,
		src:   src,
		log:   logger.GetLogger(),
		syncs: make(map[feed.Identity]*feed.Synchronizer),
		trigs: make(map[feed.TriggerKey][]*trigger.Trigger),
	}
}

// identities expands the configuration into the full list of feed
// identities the directory maintains.
func (d *Directory) identities() []feed.Identity {
	var ids []feed.Identity
	for _, sym := range d.cfg.Binance.Pairs {
		for _, tf := range d.cfg.Binance.Timeframes {
			ids = append(ids, feed.Identity{Kind: feed.Candles, Symbol: sym, Timeframe: tf})
		}
	}
	for _, sym := range d.cfg.Binance.Pairs {
		ids = append(ids,
			feed.Identity{Kind: feed.SpotTrades, Symbol: sym},
			feed.Identity{Kind: feed.SpotOrders, Symbol: sym},
			feed.Identity{Kind: feed.SpotOpenOrders, Symbol: sym},
			feed.Identity{Kind: feed.SymbolRules, Symbol: sym},
		)
	}
	for _, sym := range d.cfg.Binance.FuturesPairs {
		ids = append(ids,
			feed.Identity{Kind: feed.FuturesTrades, Symbol: sym},
			feed.Identity{Kind: feed.FuturesOrders, Symbol: sym},
		)
	}
	for _, asset := range d.cfg.Binance.BalanceAssets {
		ids = append(ids, feed.Identity{Kind: feed.Balance, Symbol: asset})
	}
	return ids
}

// Start provisions every configured feed and launches its refresh loop.
// Feeds begin with an immediate fetch, so shortly after Start the store
// tree is populated.
func (d *Directory) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("cache directory already running")
	}

	log := d.log.WithComponent("cache_directory")

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for _, id := range d.identities() {
		series, err := store.NewSeries(id.Path(d.cfg.Storage.Root))
		if err != nil {
			cancel()
			d.wg.Wait()
			return fmt.Errorf("provision series for %s: %w", id, err)
		}

		trig := trigger.New()
		s := feed.NewSynchronizer(id, series, trig, d.fetchFunc(id, series), d.waitPolicy(id))

		d.order = append(d.order, id)
		d.syncs[id] = s
		key := id.TriggerKey()
		d.trigs[key] = append(d.trigs[key], trig)

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			s.Run(runCtx)
		}()
	}

	d.running = true
	log.WithFields(logger.Fields{"feeds": len(d.order)}).Info("cache directory started")
	return nil
}

// Stop cancels every refresh loop and waits for them to exit. Stores
// stay readable after Stop.
func (d *Directory) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	d.cancel()
	d.wg.Wait()
	d.running = false
	d.log.WithComponent("cache_directory").Info("cache directory stopped")
}

// fetchFunc binds a feed identity to its source method. Incremental
// feeds read the series tail key at call time, so restarts resume from
// whatever is already on disk.
func (d *Directory) fetchFunc(id feed.Identity, series *store.Series) feed.FetchFunc {
	since := func() int64 {
		key, ok := series.LastKey()
		if !ok {
			return 0
		}
		return key
	}

	switch id.Kind {
	case feed.Candles:
		return func(ctx context.Context) (store.Batch, error) {
			return d.src.Klines(ctx, id.Symbol, id.Timeframe, since())
		}
	case feed.SpotTrades:
		return func(ctx context.Context) (store.Batch, error) {
			return d.src.SpotTrades(ctx, id.Symbol, since())
		}
	case feed.SpotOrders:
		return func(ctx context.Context) (store.Batch, error) {
			return d.src.SpotOrders(ctx, id.Symbol, since())
		}
	case feed.SpotOpenOrders:
		return func(ctx context.Context) (store.Batch, error) {
			return d.src.SpotOpenOrders(ctx, id.Symbol)
		}
	case feed.FuturesTrades:
		return func(ctx context.Context) (store.Batch, error) {
			return d.src.FuturesTrades(ctx, id.Symbol, since())
		}
	case feed.FuturesOrders:
		return func(ctx context.Context) (store.Batch, error) {
			return d.src.FuturesOrders(ctx, id.Symbol, since())
		}
	case feed.Balance:
		return func(ctx context.Context) (store.Batch, error) {
			return d.src.Balance(ctx, id.Symbol)
		}
	case feed.SymbolRules:
		return func(ctx context.Context) (store.Batch, error) {
			return d.src.SymbolRules(ctx, id.Symbol)
		}
	default:
		return func(ctx context.Context) (store.Batch, error) {
			return store.Batch{}, fmt.Errorf("no source for feed kind %q", id.Kind)
		}
	}
}

// waitPolicy selects the idle wait for a feed. Candles sleep until
// their kline closes; everything else refreshes on a fixed interval.
func (d *Directory) waitPolicy(id feed.Identity) feed.WaitPolicy {
	switch id.Kind {
	case feed.Candles:
		return feed.UntilKlineClose(id.Timeframe)
	case feed.SpotTrades, feed.FuturesTrades:
		return feed.FixedInterval(d.cfg.Refresh.Trades)
	case feed.SpotOrders, feed.FuturesOrders:
		return feed.FixedInterval(d.cfg.Refresh.Orders)
	case feed.SpotOpenOrders:
		return feed.FixedInterval(d.cfg.Refresh.OpenOrders)
	case feed.Balance:
		return feed.FixedInterval(d.cfg.Refresh.Balance)
	default:
		return feed.FixedInterval(d.cfg.Refresh.Rules)
	}
}

// Series returns the backing store for one identity, or nil when the
// identity is not registered.
func (d *Directory) Series(id feed.Identity) *store.Series {
	if s, ok := d.syncs[id]; ok {
		return s.Series()
	}
	return nil
}

// Get reads the current contents of a feed. An empty symbol
// concatenates every series of the kind, in registration order.
func (d *Directory) Get(kind feed.Kind, symbol string) store.Batch {
	if symbol != "" {
		if s := d.Series(feed.Identity{Kind: kind, Symbol: symbol}); s != nil {
			return s.Read()
		}
		return store.Batch{}
	}

	var out store.Batch
	for _, id := range d.order {
		if id.Kind != kind {
			continue
		}
		out = out.Concat(d.syncs[id].Series().Read())
	}
	return out
}

// SpotOrders reads the cached order history for one symbol.
func (d *Directory) SpotOrders(symbol string) store.Batch {
	return d.Get(feed.SpotOrders, symbol)
}

// SpotOpenOrders reads the cached open orders for one symbol.
func (d *Directory) SpotOpenOrders(symbol string) store.Batch {
	return d.Get(feed.SpotOpenOrders, symbol)
}

// GetCandles reads the candle series for one symbol and timeframe.
func (d *Directory) GetCandles(symbol, timeframe string) store.Batch {
	if s := d.Series(feed.Identity{Kind: feed.Candles, Symbol: symbol, Timeframe: timeframe}); s != nil {
		return s.Read()
	}
	return store.Batch{}
}

// raise fires every trigger registered under the key.
func (d *Directory) raise(key feed.TriggerKey) {
	for _, t := range d.trigs[key] {
		t.Raise()
	}
}

// OnDomainEvent maps a domain event onto the triggers it invalidates.
// An order status change touches the symbol's order and trade feeds and
// the shared balance trigger; locked funds move even before fills
// settle, so balances refresh on every transition.
func (d *Directory) OnDomainEvent(ev DomainEvent) {
	switch ev.Kind {
	case EventOrderStatusChanged:
		d.raise(feed.TriggerKey{Kind: feed.SpotOrders, Symbol: ev.Symbol})
		d.raise(feed.TriggerKey{Kind: feed.SpotOpenOrders, Symbol: ev.Symbol})
		d.raise(feed.TriggerKey{Kind: feed.SpotTrades, Symbol: ev.Symbol})
		d.raise(feed.TriggerKey{Kind: feed.Balance})
		d.log.WithComponent("cache_directory").WithFields(logger.Fields{
			"event":  ev.Kind,
			"symbol": ev.Symbol,
		}).Debug("domain event fanned out to triggers")
	default:
		d.log.WithComponent("cache_directory").WithFields(logger.Fields{
			"event": ev.Kind,
		}).Debug("domain event with no trigger mapping")
	}
}
