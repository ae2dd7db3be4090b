// Package aging orchestrates priority decay (spec §4.13): on each run it
// scales every path's priority down by the fraction of a half-life that
// has elapsed since the last adjustment, so that old activity gradually
// stops influencing the selection engine.
package aging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lostatc/zielen/internal/localdb"
)

// Scheduler applies decay to one profile's LPDB.
type Scheduler struct {
	db       *localdb.DB
	halfLife time.Duration
	logger   *slog.Logger
}

// New constructs a Scheduler. halfLife is the profile's PriorityHalfLife.
func New(db *localdb.DB, halfLife time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{db: db, halfLife: halfLife, logger: logger}
}

// Adjust decays every priority by the fraction of a half-life that has
// elapsed since lastAdjust, and returns the new "last adjust" timestamp
// the caller should persist (spec §4.13: priorities decay between syncs
// based on wall-clock time, not sync count).
func (s *Scheduler) Adjust(ctx context.Context, lastAdjust, now time.Time) (time.Time, error) {
	elapsed := now.Sub(lastAdjust)
	if elapsed <= 0 {
		return lastAdjust, nil
	}

	factor := localdb.DecayFactor(elapsed.Seconds(), s.halfLife.Seconds())

	s.logger.Debug("decaying priorities", "elapsed", elapsed, "factor", factor)

	if err := s.db.Decay(ctx, factor); err != nil {
		return lastAdjust, fmt.Errorf("decaying priorities: %w", err)
	}

	return now, nil
}

// Tick runs Adjust on every tick of interval until ctx is canceled,
// invoking onAdjust after each successful adjustment so the caller can
// persist the new timestamp (e.g. into the profile's info.json). Errors
// from Adjust are reported to onError rather than stopping the loop, so
// a transient database hiccup doesn't kill the daemon.
func (s *Scheduler) Tick(ctx context.Context, interval time.Duration, lastAdjust time.Time, onAdjust func(time.Time), onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			next, err := s.Adjust(ctx, lastAdjust, now)
			if err != nil {
				if onError != nil {
					onError(err)
				}

				continue
			}

			lastAdjust = next

			if onAdjust != nil {
				onAdjust(next)
			}
		}
	}
}
