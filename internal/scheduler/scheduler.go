// SPDX-License-Identifier: MIT

// Package scheduler implements the lease scheduler: it classifies device
// requests against their rate limits, picks the account to hand out, and
// commits the lease to the store and the request log.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ptcfleet/accountserver/internal/config"
	xlog "github.com/ptcfleet/accountserver/internal/log"
	"github.com/ptcfleet/accountserver/internal/requestlog"
	"github.com/ptcfleet/accountserver/internal/store"
)

// DefaultLevel is the minimum account level when the request names none.
const DefaultLevel = 30

var (
	// ErrInvalidRequest covers malformed parameters, unresolvable devices
	// and exhausted candidate selection. The HTTP layer maps it to 400.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoAccounts means selection finished without a candidate.
	ErrNoAccounts = fmt.Errorf("%w: no accounts available", ErrInvalidRequest)
)

// Credentials is the pair returned to a leasing device.
type Credentials struct {
	Username string
	Password string
}

// Scheduler is the single serializing authority over leases. Requests
// from the same device serialize on a per-device mutex; different devices
// interleave freely on the store.
type Scheduler struct {
	cfg    config.Config
	store  *store.Store
	rlog   *requestlog.Log
	locks  *deviceLocks
	logger zerolog.Logger

	now func() time.Time
}

// New builds a scheduler over the given store and request log.
func New(cfg config.Config, st *store.Store, rlog *requestlog.Log) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		store:  st,
		rlog:   rlog,
		locks:  newDeviceLocks(),
		logger: xlog.WithComponent("scheduler"),
		now:    time.Now,
	}
}

// GetAccount leases an account of at least minLevel to device.
func (s *Scheduler) GetAccount(ctx context.Context, device string, minLevel int) (Credentials, error) {
	if device == "" {
		return Credentials{}, ErrInvalidRequest
	}

	lock := s.locks.get(device)
	lock.Lock()
	defer lock.Unlock()

	now := s.now().Unix()
	logger := s.logger.With().Str("device", device).Logger()

	// No request may observe a lease older than the force-release limit.
	if err := s.reclaim(ctx, now); err != nil {
		return Credentials{}, err
	}

	state, err := s.classify(ctx, device, now)
	if err != nil {
		return Credentials{}, err
	}

	var candidate *store.Account
	if state != RateUnlimited {
		candidate, state, err = s.recentCandidate(ctx, device, minLevel, now, state)
		if err != nil {
			if errors.Is(err, ErrInvalidRequest) {
				leasesDenied.Inc()
			}
			return Credentials{}, err
		}
	}
	if candidate == nil && state == RateUnlimited {
		candidate, err = s.store.PickFree(ctx, minLevel, now-s.cfg.CooldownSeconds())
		if err != nil {
			return Credentials{}, err
		}
	}
	if candidate == nil {
		leasesDenied.Inc()
		logger.Error().Msg("unable to return an account")
		return Credentials{}, ErrNoAccounts
	}

	// Commit: release the previous lease, then assign. Under burst the
	// timestamps stay untouched so the device's next non-burst request
	// still sees its true recency.
	if err := s.store.ReleaseAllFor(ctx, device, now); err != nil {
		return Credentials{}, err
	}
	if err := s.store.Assign(ctx, candidate.Username, device, now, state != RateBurst); err != nil {
		return Credentials{}, err
	}

	// Append when the device is new OR the username is new in its window.
	if !s.rlog.Contains(device, candidate.Username) {
		s.rlog.Append(device, requestlog.Entry{TS: now, Username: candidate.Username})
	}

	leasesIssued.WithLabelValues(state.String()).Inc()
	logger.Info().Str("username", candidate.Username).Str("state", state.String()).Msg("lease issued")
	return Credentials{Username: candidate.Username, Password: candidate.Password}, nil
}

// recentCandidate re-issues an account the throttled device recently held.
// It walks the history from the oldest entry forward and takes the first
// entry that is not burned and meets the level floor. When every entry is
// unusable the device is either promoted to a fresh lease (configurable)
// or refused.
func (s *Scheduler) recentCandidate(ctx context.Context, device string, minLevel int, now int64, state RateLimit) (*store.Account, RateLimit, error) {
	logger := s.logger.With().Str("device", device).Logger()

	entries := s.rlog.Entries(device)
	if len(entries) == 0 {
		// A throttled device with no history may only re-obtain its
		// current lease, which under normal flow does not exist.
		cur, err := s.store.CurrentFor(ctx, device)
		if err != nil {
			return nil, state, err
		}
		if cur == nil {
			logger.Warn().Msg("throttled device has no history and no current lease")
			return nil, state, ErrNoAccounts
		}
		logger.Warn().Str("username", cur.Username).Msg("no history, re-issuing current lease")
		return cur, state, nil
	}
	if len(entries) > s.cfg.RateLimitNumber {
		entries = entries[:s.cfg.RateLimitNumber]
	}

	var candidate *store.Account
	burnCutoff := now - s.cfg.CooldownSeconds()
	for _, e := range entries {
		acc, err := s.store.FindByUsername(ctx, e.Username)
		if err != nil {
			return nil, state, err
		}
		if acc == nil {
			continue
		}
		if acc.LastBurned >= burnCutoff || acc.Level < minLevel {
			logger.Debug().Str("username", e.Username).Msg("history entry unusable, trying next")
			continue
		}
		candidate = acc
		logger.Info().Str("username", acc.Username).Msg("re-issuing oldest usable history entry")
		break
	}

	if candidate == nil {
		if !s.cfg.AllowRateLimitOverrideWhenBurned {
			logger.Warn().Msg("every history entry is burned and override is disabled")
			return nil, state, ErrNoAccounts
		}
		logger.Warn().Msg("every history entry is burned, allowing a fresh account despite the rate limit")
		state = RateUnlimited
	}

	// Rotating the oldest entry to the tail lets successive throttled
	// calls cycle through the window without resetting its timestamps.
	s.rlog.Rotate(device)
	return candidate, state, nil
}

// CurrentAccount returns the username currently leased to device.
func (s *Scheduler) CurrentAccount(ctx context.Context, device string) (string, error) {
	if device == "" {
		return "", ErrInvalidRequest
	}
	cur, err := s.store.CurrentFor(ctx, device)
	if err != nil {
		return "", err
	}
	if cur == nil {
		return "", ErrInvalidRequest
	}
	return cur.Username, nil
}
