// SPDX-License-Identifier: MIT

package scheduler

import "context"

// SetLevelByAccount updates the level of the named account.
func (s *Scheduler) SetLevelByAccount(ctx context.Context, account string, level int) error {
	if account == "" || level < 0 {
		return ErrInvalidRequest
	}
	s.logger.Info().Str("username", account).Int("level", level).Msg("set level")
	return s.store.SetLevel(ctx, account, level)
}

// SetLevelByDevice resolves the device's current account and updates it.
func (s *Scheduler) SetLevelByDevice(ctx context.Context, device string, level int) error {
	account, err := s.CurrentAccount(ctx, device)
	if err != nil {
		return err
	}
	return s.SetLevelByAccount(ctx, account, level)
}

// SetBurnedByAccount marks the named account burned at ts.
func (s *Scheduler) SetBurnedByAccount(ctx context.Context, account string, ts int64) error {
	if account == "" || ts <= 0 {
		return ErrInvalidRequest
	}
	s.logger.Info().Str("username", account).Int64("ts", ts).Msg("set burned")
	return s.store.SetBurned(ctx, account, ts)
}

// SetBurnedByDevice resolves the device's current account and marks it burned.
func (s *Scheduler) SetBurnedByDevice(ctx context.Context, device string, ts int64) error {
	account, err := s.CurrentAccount(ctx, device)
	if err != nil {
		return err
	}
	return s.SetBurnedByAccount(ctx, account, ts)
}
