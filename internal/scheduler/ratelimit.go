// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"time"
)

// RateLimit classifies a device request before any account is chosen.
type RateLimit int

const (
	// RateUnlimited devices get a fresh account.
	RateUnlimited RateLimit = iota
	// RateBurst marks a repeat request inside the strict window.
	RateBurst
	// RatePeriod marks a device over its per-window account quota.
	RatePeriod
	// RateUnknown marks a request with no usable device identifier.
	RateUnknown
)

func (r RateLimit) String() string {
	switch r {
	case RateUnlimited:
		return "unlimited"
	case RateBurst:
		return "burst"
	case RatePeriod:
		return "period"
	default:
		return "unknown"
	}
}

// classify is read-only with respect to both the store and the request log.
func (s *Scheduler) classify(ctx context.Context, device string, now int64) (RateLimit, error) {
	if device == "" {
		return RateUnknown, nil
	}
	logger := s.logger.With().Str("device", device).Logger()

	// Burst check: the newest last_use over the device's current lease and
	// every account in its history window. Catches rapid repeat requests
	// regardless of whether they share a username.
	latest, err := s.store.LatestUseIn(ctx, device, s.rlog.Usernames(device))
	if err != nil {
		return RateUnknown, err
	}
	if latest > 0 {
		logger.Debug().Msgf("latest allowed request was %s ago", time.Duration(now-latest)*time.Second)
	} else {
		logger.Debug().Msg("latest allowed request was an eternity ago")
	}
	if now-latest < s.cfg.StrictRateLimitSeconds() {
		logger.Warn().Msgf("rate-limited: device requested an account less than %d minutes ago",
			s.cfg.StrictRateLimitMinutes)
		return RateBurst, nil
	}

	// Period check: entries within the rolling window.
	limiting := 0
	windowStart := now - s.cfg.RateLimitWindowSeconds()
	for _, e := range s.rlog.Entries(device) {
		if e.TS > windowStart {
			limiting++
		}
	}
	if limiting >= s.cfg.RateLimitNumber {
		logger.Warn().Int("requests", limiting).Int("limit", s.cfg.RateLimitNumber).
			Msg("rate-limited: too many accounts within the window")
		return RatePeriod, nil
	}
	return RateUnlimited, nil
}
