package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mafin/config"
	"mafin/internal/store"
)

type placement struct {
	symbol   string
	side     string
	quantity float64
	price    float64
	id       int64
}

type fakeSubmitter struct {
	mu        sync.Mutex
	nextID    int64
	placed    []placement
	canceled  []int64
	cancelErr error
	placeErr  error
}

func (f *fakeSubmitter) PlaceLimit(_ context.Context, symbol, side string, quantity, price float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return 0, f.placeErr
	}
	f.nextID++
	f.placed = append(f.placed, placement{symbol, side, quantity, price, f.nextID})
	return f.nextID, nil
}

func (f *fakeSubmitter) PlaceMarket(ctx context.Context, symbol, side string, quantity float64) (int64, error) {
	return f.PlaceLimit(ctx, symbol, side, quantity, 0)
}

func (f *fakeSubmitter) Cancel(_ context.Context, _ string, orderID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeSubmitter) setCancelErr(err error) {
	f.mu.Lock()
	f.cancelErr = err
	f.mu.Unlock()
}

func (f *fakeSubmitter) placements() []placement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placement{}, f.placed...)
}

func (f *fakeSubmitter) cancels() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.canceled...)
}

type fakeOracle struct {
	mu    sync.Mutex
	price float64
	ok    bool
}

func (f *fakeOracle) set(price float64) {
	f.mu.Lock()
	f.price, f.ok = price, true
	f.mu.Unlock()
}

func (f *fakeOracle) Last(string) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, f.ok
}

type fakeCache struct {
	orders store.Batch
	open   store.Batch
}

func (f *fakeCache) SpotOrders(string) store.Batch     { return f.orders }
func (f *fakeCache) SpotOpenOrders(string) store.Batch { return f.open }

func newTestManager(t *testing.T, sub *fakeSubmitter, oracle *fakeOracle, cache *fakeCache) *Manager {
	t.Helper()
	if cache == nil {
		cache = &fakeCache{}
	}
	cfg := config.OrdersConfig{MinDeltaPercent: 0.05, PollInterval: 5 * time.Millisecond}
	return NewManager(sub, cache, oracle, cfg, t.TempDir())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDriftTriggersCancelThenReplace(t *testing.T) {
	sub := &fakeSubmitter{}
	oracle := &fakeOracle{}
	oracle.set(100)
	m := newTestManager(t, sub, oracle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o, err := m.StartSmartOrder(ctx, "BTCUSDT", SideBuy, 1, 100)
	if err != nil {
		t.Fatalf("StartSmartOrder failed: %v", err)
	}

	// 0.06% drift, above the 0.05 threshold.
	oracle.set(100.06)

	waitFor(t, 2*time.Second, func() bool { return len(sub.placements()) == 2 })

	cancels := sub.cancels()
	if len(cancels) != 1 || cancels[0] != 1 {
		t.Fatalf("expected original order canceled, got %v", cancels)
	}
	second := sub.placements()[1]
	if second.price != 100.06 {
		t.Errorf("replacement not at current price: %v", second.price)
	}
	if o.OrderID() != second.id {
		t.Errorf("tracker not following replacement id: %d", o.OrderID())
	}
	if o.State() != Resting {
		t.Errorf("unexpected state: %v", o.State())
	}
}

func TestDriftBelowThresholdKeepsOrder(t *testing.T) {
	sub := &fakeSubmitter{}
	oracle := &fakeOracle{}
	oracle.set(100)
	m := newTestManager(t, sub, oracle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := m.StartSmartOrder(ctx, "BTCUSDT", SideSell, 1, 100); err != nil {
		t.Fatalf("StartSmartOrder failed: %v", err)
	}

	// 0.04% drift, below threshold.
	oracle.set(100.04)
	time.Sleep(50 * time.Millisecond)

	if n := len(sub.cancels()); n != 0 {
		t.Errorf("order canceled on sub-threshold drift: %d cancels", n)
	}
	if n := len(sub.placements()); n != 1 {
		t.Errorf("unexpected placements: %d", n)
	}
}

func TestCancelGoneMeansFilled(t *testing.T) {
	sub := &fakeSubmitter{}
	oracle := &fakeOracle{}
	oracle.set(100)
	m := newTestManager(t, sub, oracle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o, err := m.StartSmartOrder(ctx, "BTCUSDT", SideBuy, 1, 100)
	if err != nil {
		t.Fatalf("StartSmartOrder failed: %v", err)
	}

	sub.setCancelErr(ErrOrderGone)
	oracle.set(101)

	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("order never reached Filled")
	}
	if o.State() != Filled {
		t.Errorf("unexpected state: %v", o.State())
	}
	if n := len(sub.placements()); n != 1 {
		t.Errorf("replacement placed for a filled order: %d placements", n)
	}
	waitFor(t, 2*time.Second, func() bool { return m.Tracked() == 0 })
}

func TestCancelFailureKeepsResting(t *testing.T) {
	sub := &fakeSubmitter{}
	oracle := &fakeOracle{}
	oracle.set(100)
	m := newTestManager(t, sub, oracle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o, err := m.StartSmartOrder(ctx, "BTCUSDT", SideBuy, 1, 100)
	if err != nil {
		t.Fatalf("StartSmartOrder failed: %v", err)
	}

	sub.setCancelErr(errors.New("exchange unavailable"))
	oracle.set(101)
	time.Sleep(50 * time.Millisecond)

	if len(sub.placements()) != 1 {
		t.Fatal("placed a replacement without a confirmed cancel")
	}
	if o.State() != Resting {
		t.Errorf("unexpected state: %v", o.State())
	}

	// Exchange recovers: the next poll retries the whole replace.
	sub.setCancelErr(nil)
	waitFor(t, 2*time.Second, func() bool { return len(sub.placements()) == 2 })
}

func TestFillNotificationStopsTracker(t *testing.T) {
	sub := &fakeSubmitter{}
	oracle := &fakeOracle{}
	oracle.set(100)
	m := newTestManager(t, sub, oracle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o, err := m.StartSmartOrder(ctx, "BTCUSDT", SideBuy, 1, 100)
	if err != nil {
		t.Fatalf("StartSmartOrder failed: %v", err)
	}

	m.HandleOrderUpdate("BTCUSDT", o.OrderID(), "FILLED")

	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("fill notification not routed")
	}
	waitFor(t, 2*time.Second, func() bool { return m.Tracked() == 0 })
}

func TestFillRoutedAfterReplacement(t *testing.T) {
	sub := &fakeSubmitter{}
	oracle := &fakeOracle{}
	oracle.set(100)
	m := newTestManager(t, sub, oracle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o, err := m.StartSmartOrder(ctx, "BTCUSDT", SideBuy, 1, 100)
	if err != nil {
		t.Fatalf("StartSmartOrder failed: %v", err)
	}

	oracle.set(100.1)
	waitFor(t, 2*time.Second, func() bool { return len(sub.placements()) == 2 })
	newID := sub.placements()[1].id

	m.HandleOrderUpdate("BTCUSDT", newID, "FILLED")
	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("fill not routed to replacement id")
	}
}

func TestNonFillUpdateIgnored(t *testing.T) {
	sub := &fakeSubmitter{}
	oracle := &fakeOracle{}
	oracle.set(100)
	m := newTestManager(t, sub, oracle, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o, err := m.StartSmartOrder(ctx, "BTCUSDT", SideBuy, 1, 100)
	if err != nil {
		t.Fatalf("StartSmartOrder failed: %v", err)
	}

	m.HandleOrderUpdate("BTCUSDT", o.OrderID(), "NEW")
	m.HandleOrderUpdate("BTCUSDT", o.OrderID(), "PARTIALLY_FILLED")

	if o.State() != Resting {
		t.Errorf("non-fill update changed state: %v", o.State())
	}
}

func TestOrderLookupFromCache(t *testing.T) {
	cache := &fakeCache{
		orders: store.Batch{
			Schema: []string{"order_id", "status"},
			Records: []store.Record{
				{Key: 7, Values: []string{"7", "FILLED"}},
				{Key: 9, Values: []string{"9", "NEW"}},
			},
		},
	}
	m := newTestManager(t, &fakeSubmitter{}, &fakeOracle{}, cache)

	rec, ok := m.Order("BTCUSDT", 9)
	if !ok || rec.Values[1] != "NEW" {
		t.Errorf("lookup failed: %v %v", rec, ok)
	}
	if _, ok := m.Order("BTCUSDT", 8); ok {
		t.Error("found an order that does not exist")
	}
}

func TestCancelAllOpenSkipsGoneOrders(t *testing.T) {
	cache := &fakeCache{
		open: store.Batch{
			Schema: []string{"order_id", "price"},
			Records: []store.Record{
				{Key: 1, Values: []string{"1", "100"}},
				{Key: 2, Values: []string{"2", "101"}},
			},
		},
	}
	sub := &fakeSubmitter{}
	m := newTestManager(t, sub, &fakeOracle{}, cache)

	if err := m.CancelAllOpen(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("CancelAllOpen failed: %v", err)
	}
	if len(sub.cancels()) != 2 {
		t.Errorf("expected both orders canceled, got %v", sub.cancels())
	}

	sub.setCancelErr(ErrOrderGone)
	if err := m.CancelAllOpen(context.Background(), "BTCUSDT"); err != nil {
		t.Errorf("gone orders should not surface as errors: %v", err)
	}
}

func TestMarketHelpers(t *testing.T) {
	sub := &fakeSubmitter{}
	m := newTestManager(t, sub, &fakeOracle{}, nil)

	if _, err := m.MarketBuy(context.Background(), "BTCUSDT", 0.5); err != nil {
		t.Fatalf("MarketBuy failed: %v", err)
	}
	if _, err := m.LimitSell(context.Background(), "BTCUSDT", 0.5, 101); err != nil {
		t.Fatalf("LimitSell failed: %v", err)
	}
	p := sub.placements()
	if p[0].side != SideBuy || p[1].side != SideSell {
		t.Errorf("unexpected sides: %v", p)
	}
}
