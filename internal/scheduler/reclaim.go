// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"time"
)

// Reclaim force-releases every lease held longer than the configured
// maximum. Idempotent.
func (s *Scheduler) Reclaim(ctx context.Context) error {
	return s.reclaim(ctx, s.now().Unix())
}

func (s *Scheduler) reclaim(ctx context.Context, now int64) error {
	released, err := s.store.ForceRelease(ctx, now-s.cfg.ForceReleaseSeconds(), now)
	if err != nil {
		return err
	}
	for _, a := range released {
		s.logger.Info().
			Str("username", a.Username).
			Str("device", a.InUseBy).
			Int64("last_returned", a.LastReturned).
			Int("limit_days", s.cfg.ForceReleaseDays).
			Msg("force releasing stale lease")
	}
	forceReleased.Add(float64(len(released)))
	return nil
}

// RunReclaimer reclaims stale leases on a fixed interval until ctx ends.
func (s *Scheduler) RunReclaimer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reclaim(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic reclaim failed")
			}
		}
	}
}
