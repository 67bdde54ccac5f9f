package feed

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"mafin/internal/store"
	"mafin/internal/trigger"
)

func testBatch(keys ...int64) store.Batch {
	b := store.Batch{Schema: []string{"date", "close"}}
	for _, k := range keys {
		b.Records = append(b.Records, store.Record{
			Key:    k,
			Values: []string{strconv.FormatInt(k, 10), "1.0"},
		})
	}
	return b
}

func newTestSynchronizer(t *testing.T, fetch FetchFunc, wait WaitPolicy) *Synchronizer {
	t.Helper()
	id := Identity{Kind: Candles, Symbol: "BTCUSDT", Timeframe: "1h"}
	series, err := store.NewSeries(filepath.Join(t.TempDir(), "data.csv"))
	if err != nil {
		t.Fatalf("new series: %v", err)
	}
	return NewSynchronizer(id, series, trigger.New(), fetch, wait)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFirstCycleOverwritesThenMerges(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context) (store.Batch, error) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			return testBatch(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), nil
		default:
			return testBatch(8, 9, 10, 11, 12, 13, 14, 15), nil
		}
	}

	s := newTestSynchronizer(t, fetch, FixedInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, "second fetch never happened")
	waitFor(t, func() bool { return s.Series().Read().Len() == 15 }, "merge did not complete")
	cancel()

	got := s.Series().Read()
	for i, rec := range got.Records {
		if rec.Key != int64(i+1) {
			t.Fatalf("row %d has key %d, want %d", i, rec.Key, i+1)
		}
	}
}

func TestFetchFailureDegradesToEmptyCycle(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context) (store.Batch, error) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			return store.Batch{}, errors.New("transient failure")
		default:
			return testBatch(1, 2), nil
		}
	}

	s := newTestSynchronizer(t, fetch, FixedInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// The loop survives the failed fetch and primes on the next cycle.
	waitFor(t, func() bool { return s.Series().Read().Len() == 2 }, "series never primed after failure")
}

func TestTriggerWakesLoopBeforeTimeout(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context) (store.Batch, error) {
		atomic.AddInt32(&calls, 1)
		return testBatch(1), nil
	}

	s := newTestSynchronizer(t, fetch, FixedInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, "initial fetch never happened")

	s.Trigger().Raise()
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, "hot trigger did not wake the loop")
}

func TestTriggerRaisedMidFetchIsConsumedNextWait(t *testing.T) {
	var calls int32
	s := newTestSynchronizer(t, nil, FixedInterval(time.Hour))
	release := make(chan struct{})
	s.fetch = func(ctx context.Context) (store.Batch, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// Raise while the first fetch is still in flight.
			s.Trigger().Raise()
			<-release
		}
		return testBatch(1), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, "first fetch never started")
	close(release)
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, "raise during fetch was lost")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fetch := func(ctx context.Context) (store.Batch, error) {
		return testBatch(1), nil
	}
	s := newTestSynchronizer(t, fetch, FixedInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after context cancellation")
	}
}
