/*
job.go - Scheduled purge of soft-deleted records

PURPOSE:
  Deleting a sale only stamps DeletedAt so that the record can still be
  audited. This job removes such records for good once they have been
  deleted for longer than the retention window.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - RetainFor == 0 disables purging entirely
  - Live records are never touched

USAGE:
  job := retention.New(store, 90*24*time.Hour, logger)
  job.Start()
  // ... later
  job.Stop()

SEE ALSO:
  - ledger/store.go: Purge contract
*/
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fishledger/settlement-engine/ledger"
	"github.com/fishledger/settlement-engine/obs"
)

// Job purges records soft deleted before now - RetainFor.
type Job struct {
	Store     ledger.Store
	RetainFor time.Duration
	Interval  time.Duration
	Now       func() time.Time
	Logger    zerolog.Logger
	Metrics   *obs.DomainMetrics

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates a job with a one hour interval.
func New(store ledger.Store, retainFor time.Duration, logger zerolog.Logger) *Job {
	return &Job{
		Store:     store,
		RetainFor: retainFor,
		Interval:  time.Hour,
		Now:       time.Now,
		Logger:    logger.With().Str("component", "retention").Logger(),
	}
}

// RunOnce purges once and returns how many records were removed.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	if j.RetainFor <= 0 {
		return 0, nil
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	cutoff := now().Add(-j.RetainFor)

	n, err := j.Store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	j.Metrics.ObservePurged(n)
	return n, nil
}

// Start begins the periodic purge.
func (j *Job) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.RetainFor <= 0 {
		j.Logger.Info().Msg("retention disabled, not starting")
		return
	}
	if j.ticker != nil {
		return
	}

	interval := j.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	j.ticker = time.NewTicker(interval)
	j.stop = make(chan struct{})
	j.wg.Add(1)

	go j.run()

	j.Logger.Info().Dur("interval", interval).Dur("retain_for", j.RetainFor).Msg("retention started")
}

// Stop stops the job and waits for a running purge to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.ticker != nil {
		j.ticker.Stop()
		close(j.stop)
		j.wg.Wait()
		j.ticker = nil
		j.Logger.Info().Msg("retention stopped")
	}
}

func (j *Job) run() {
	defer j.wg.Done()

	// Run immediately on start
	j.purge()

	for {
		select {
		case <-j.ticker.C:
			j.purge()
		case <-j.stop:
			return
		}
	}
}

func (j *Job) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := j.RunOnce(ctx)
	if err != nil {
		j.Logger.Error().Err(err).Msg("purge failed")
		return
	}
	if n > 0 {
		j.Logger.Info().Int("purged", n).Msg("purged soft-deleted records")
	}
}
