package track

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/sitepulse/internal/storage"
)

// DefaultRetentionDays is how long daily totals are kept before the
// sweeper removes them.
const DefaultRetentionDays = 90

// Sweeper deletes daily totals older than the retention window once a
// day, keeping the totals store bounded.
type Sweeper struct {
	totals    storage.TotalsStore
	days      int
	sweepTime time.Time // only hour and minute are used
	logger    zerolog.Logger
	stopChan  chan struct{}
}

// NewSweeper creates a retention sweeper. sweepTime is the local time
// of day the sweep runs, in HH:MM format.
func NewSweeper(totals storage.TotalsStore, days int, sweepTime string, logger zerolog.Logger) (*Sweeper, error) {
	parsed, err := time.Parse("15:04", sweepTime)
	if err != nil {
		return nil, fmt.Errorf("parse sweep time %q: %w", sweepTime, err)
	}
	if days <= 0 {
		days = DefaultRetentionDays
	}

	return &Sweeper{
		totals:    totals,
		days:      days,
		sweepTime: parsed,
		logger:    logger.With().Str("component", "retention").Logger(),
		stopChan:  make(chan struct{}),
	}, nil
}

// Start begins the sweeper.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
	s.logger.Info().
		Int("retention_days", s.days).
		Str("sweep_time", s.sweepTime.Format("15:04")).
		Msg("Retention sweeper started")
}

// Stop stops the sweeper.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.logger.Info().Msg("Retention sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	for {
		next := s.nextSweep(time.Now())
		wait := time.Until(next)

		s.logger.Debug().Time("next_sweep", next).Msg("Scheduled next retention sweep")

		select {
		case <-time.After(wait):
			s.Sweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// nextSweep returns the next occurrence of the configured sweep time.
func (s *Sweeper) nextSweep(now time.Time) time.Time {
	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		s.sweepTime.Hour(), s.sweepTime.Minute(), 0, 0,
		now.Location(),
	)
	if now.After(today) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// Sweep removes totals older than the retention window.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.days).Format(storage.DateKeyFormat)

	removed, err := s.totals.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Str("cutoff", cutoff).Msg("Retention sweep failed")
		return
	}

	s.logger.Info().
		Int("removed", removed).
		Str("cutoff", cutoff).
		Msg("Retention sweep complete")
}
