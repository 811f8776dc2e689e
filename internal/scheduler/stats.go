// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"math"
)

// Stats is the counters snapshot served by /stats.
type Stats struct {
	Accounts          int     `json:"accounts"`
	AccountsPerDevice float64 `json:"accounts_per_device"`
	RequiredPerDevice float64 `json:"required_per_device"`
	HoursPerAccount   float64 `json:"hours_per_account"`
	InUse             int     `json:"in_use"`
	Cooldown          int     `json:"cooldown"`
	Available         int     `json:"available"`
}

// Stats reclaims stale leases, then computes the account counters and the
// derived per-device ratios. With nothing in use the ratios are zero.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	now := s.now().Unix()
	if err := s.reclaim(ctx, now); err != nil {
		return Stats{}, err
	}

	cooldown, err := s.store.CountCooldown(ctx, now-s.cfg.CooldownSeconds())
	if err != nil {
		return Stats{}, err
	}
	inUse, err := s.store.CountInUse(ctx)
	if err != nil {
		return Stats{}, err
	}
	total, err := s.store.CountAll(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		Accounts:  total,
		InUse:     inUse,
		Cooldown:  cooldown,
		Available: total - inUse - cooldown,
	}
	if inUse > 0 {
		st.AccountsPerDevice = round2(float64(total) / float64(inUse))
		st.RequiredPerDevice = round2(float64(inUse+cooldown) / float64(inUse))
		st.HoursPerAccount = round2(24 / st.RequiredPerDevice)
	} else {
		s.logger.Warn().Msg("no accounts in use, stats ratios are zero")
	}
	return st, nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
