package feed

import (
	"context"
	"time"

	"mafin/internal/store"
	"mafin/internal/trigger"
	"mafin/logger"
)

// FetchFunc retrieves one batch of time-ordered records for a feed. It
// must signal failure distinctly from a legitimately empty batch and be
// idempotent with respect to overlapping time windows.
type FetchFunc func(ctx context.Context) (store.Batch, error)

// Synchronizer owns one persisted series and one hot trigger and keeps
// the series current: fetch, merge, then wait until either the wait
// policy elapses or the trigger fires. Fetch, merge and wait are
// strictly sequential, so no two fetches for the same feed are ever in
// flight at once and the merge invariant needs no further coordination.
type Synchronizer struct {
	id     Identity
	series *store.Series
	trig   *trigger.Trigger
	fetch  FetchFunc
	wait   WaitPolicy
	log    *logger.Log

	primed bool
}

// NewSynchronizer wires a synchronizer for one feed identity. The
// trigger is exclusively owned by the synchronizer; the cache directory
// raises it on behalf of external events.
func NewSynchronizer(id Identity, series *store.Series, trig *trigger.Trigger, fetch FetchFunc, wait WaitPolicy) *Synchronizer {
	return &Synchronizer{
		id:     id,
		series: series,
		trig:   trig,
		fetch:  fetch,
		wait:   wait,
		log:    logger.GetLogger(),
	}
}

// Identity returns the feed identity this synchronizer refreshes.
func (s *Synchronizer) Identity() Identity {
	return s.id
}

// Series exposes the persisted series for readers.
func (s *Synchronizer) Series() *store.Series {
	return s.series
}

// Trigger exposes the hot trigger for the cache directory to raise.
func (s *Synchronizer) Trigger() *trigger.Trigger {
	return s.trig
}

// Run executes the perpetual refresh loop until the context is
// cancelled. The fetch runs before the first wait so the store is
// populated before any reader can observe the feed as started.
func (s *Synchronizer) Run(ctx context.Context) {
	log := s.log.WithComponent("feed_synchronizer").WithFields(logger.Fields{
		"feed": s.id.String(),
	})
	log.Info("feed synchronizer started")

	for {
		s.refresh(ctx, log)
		if ctx.Err() != nil {
			log.Info("feed synchronizer stopped")
			return
		}

		wait := s.wait(time.Now())
		if s.trig.Wait(ctx, wait) {
			logger.IncrementTriggerWake()
			log.WithFields(logger.Fields{"wait": wait.String()}).Debug("woken by hot trigger")
		}
		if ctx.Err() != nil {
			log.Info("feed synchronizer stopped")
			return
		}
	}
}

// refresh performs one fetch-and-merge cycle. A failed fetch degrades
// to no new data for this cycle; it never ends the loop.
func (s *Synchronizer) refresh(ctx context.Context, log *logger.Entry) {
	start := time.Now()
	batch, err := s.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("fetch failed, no new data this cycle")
		return
	}
	logger.IncrementFetch(batch.Len())
	logger.LogPerformanceEntry(log, "feed_synchronizer", "fetch", time.Since(start), logger.Fields{
		"feed": s.id.String(),
		"rows": batch.Len(),
	})

	if !s.primed {
		if err := s.series.Overwrite(batch); err != nil {
			log.WithError(err).Error("initial overwrite failed")
			return
		}
		s.primed = true
		logger.IncrementMerge(batch.Len())
		logger.RecordFeedRows(s.id.String(), batch.Len())
		log.WithFields(logger.Fields{"rows": batch.Len()}).Info("series primed")
		return
	}

	if err := s.series.MergeAppend(batch); err != nil {
		log.WithError(err).Error("merge failed")
		return
	}
	logger.IncrementMerge(batch.Len())
	logger.RecordFeedRows(s.id.String(), batch.Len())
	log.WithFields(logger.Fields{"rows": batch.Len()}).Debug("batch merged")
}
