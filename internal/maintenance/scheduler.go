package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"findoc/internal/document"
	"findoc/internal/record"
)

const (
	defaultSchedule = "@every 10m"
	sweepTimeout    = 5 * time.Minute
)

type RecordStore interface {
	Get(ctx context.Context, taskID string) (*record.Record, error)
	PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error)
}

type DocumentStore interface {
	Orphans(cutoff time.Time) ([]document.Entry, error)
	Delete(path string) error
}

type Options struct {
	// OrphanFileAge is how old a stored document must be before it is
	// considered for removal.
	OrphanFileAge time.Duration
	// RecordRetention purges finished records older than this; 0 keeps them.
	RecordRetention time.Duration
}

// Stats summarises one sweep.
type Stats struct {
	OrphansRemoved int
	RecordsPurged  int64
	Duration       time.Duration
}

// Scheduler periodically removes documents left behind by crashed runs and
// expires old finished records.
type Scheduler struct {
	records   RecordStore
	documents DocumentStore
	opts      Options
	cron      *cron.Cron
	now       func() time.Time
}

func NewScheduler(records RecordStore, documents DocumentStore, opts Options) *Scheduler {
	return &Scheduler{
		records:   records,
		documents: documents,
		opts:      opts,
		cron:      cron.New(),
		now:       time.Now,
	}
}

// Start registers the sweep on schedule and starts the cron runner.
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = defaultSchedule
	}
	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return fmt.Errorf("schedule maintenance %q: %w", schedule, err)
	}
	s.cron.Start()
	log.Info().Str("schedule", schedule).Msg("maintenance scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running sweep to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("maintenance scheduler stopped")
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("maintenance sweep failed")
	}
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (Stats, error) {
	start := s.now()
	var stats Stats

	removed, err := s.sweepOrphans(ctx, start)
	stats.OrphansRemoved = removed
	if err != nil {
		return stats, err
	}

	if s.opts.RecordRetention > 0 {
		n, err := s.records.PurgeFinished(ctx, start.Add(-s.opts.RecordRetention))
		if err != nil {
			return stats, fmt.Errorf("purge records: %w", err)
		}
		stats.RecordsPurged = n
	}

	stats.Duration = time.Since(start)
	log.Info().
		Int("orphans_removed", stats.OrphansRemoved).
		Int64("records_purged", stats.RecordsPurged).
		Dur("duration", stats.Duration).
		Msg("maintenance sweep completed")
	return stats, nil
}

func (s *Scheduler) sweepOrphans(ctx context.Context, now time.Time) (int, error) {
	entries, err := s.documents.Orphans(now.Add(-s.opts.OrphanFileAge))
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err //nolint:wrapcheck
		}
		rec, err := s.records.Get(ctx, entry.TaskID)
		switch {
		case errors.Is(err, record.ErrNotFound):
		case err != nil:
			log.Warn().Err(err).Str("task_id", entry.TaskID).Msg("lookup record for document failed")
			continue
		case !rec.Status.Terminal():
			// still being analysed
			continue
		}
		if err := s.documents.Delete(entry.Path); err != nil {
			log.Warn().Err(err).Str("path", entry.Path).Msg("remove orphan document failed")
			continue
		}
		removed++
		log.Debug().Str("task_id", entry.TaskID).Str("path", entry.Path).Msg("orphan document removed")
	}
	return removed, nil
}
