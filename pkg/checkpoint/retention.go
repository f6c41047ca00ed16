package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper prunes aged checkpoints on a cron schedule. Each thread's latest
// checkpoint is always kept so threads remain resumable.
type Sweeper struct {
	store     *SQLiteStore
	retention time.Duration
	logger    zerolog.Logger

	cron    *cron.Cron
	entryID cron.EntryID
}

// NewSweeper schedules PruneOlderThan on the given cron spec (standard five
// field syntax). A retention of zero disables pruning.
func NewSweeper(store *SQLiteStore, schedule string, retention time.Duration, logger zerolog.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	s := &Sweeper{
		store:     store,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
	}

	entryID, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.SweepNow(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Checkpoint retention sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.entryID = entryID

	return s, nil
}

// Start begins scheduled sweeping.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info().Dur("retention", s.retention).Msg("Checkpoint sweeper started")
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Checkpoint sweeper stopped")
}

// SweepNow runs one pruning pass immediately.
func (s *Sweeper) SweepNow(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-s.retention)
	removed, err := s.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.logger.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("Pruned aged checkpoints")
	}
	return removed, nil
}
