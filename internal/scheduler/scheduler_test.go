// SPDX-License-Identifier: MIT

package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptcfleet/accountserver/internal/config"
	"github.com/ptcfleet/accountserver/internal/requestlog"
	"github.com/ptcfleet/accountserver/internal/store"
)

// testClock lets tests drive the scheduler's notion of time.
type testClock struct {
	now int64
}

func (c *testClock) time() time.Time {
	return time.Unix(c.now, 0)
}

func (c *testClock) advance(d time.Duration) {
	c.now += int64(d.Seconds())
}

func newTestScheduler(t *testing.T, cfg config.Config) (*Scheduler, *store.Store, *testClock) {
	t.Helper()

	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rlog := requestlog.Open(filepath.Join(t.TempDir(), "request_log.json"), cfg.RateLimitNumber)
	s := New(cfg, st, rlog)

	clock := &testClock{now: 1_700_000_000}
	s.now = clock.time
	return s, st, clock
}

func seedAccounts(t *testing.T, st *store.Store, level int, usernames ...string) {
	t.Helper()
	ctx := context.Background()
	creds := make([]store.Credential, len(usernames))
	for i, u := range usernames {
		creds[i] = store.Credential{Username: u, Password: "pw-" + u}
	}
	require.NoError(t, st.UpsertMany(ctx, creds))
	for _, u := range usernames {
		require.NoError(t, st.SetLevel(ctx, u, level))
	}
}

func TestFreshLease(t *testing.T) {
	s, st, clock := newTestScheduler(t, config.Default())
	ctx := context.Background()
	seedAccounts(t, st, 30, "acc1", "acc2", "acc3", "acc4", "acc5", "acc6")

	creds, err := s.GetAccount(ctx, "d1", DefaultLevel)
	require.NoError(t, err)
	assert.Equal(t, "acc1", creds.Username)
	assert.Equal(t, "pw-acc1", creds.Password)

	cur, err := st.CurrentFor(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "acc1", cur.Username)
	assert.Equal(t, clock.now, cur.LastUse)

	assert.Equal(t, []string{"acc1"}, s.rlog.Usernames("d1"))
}

func TestBurstReissuesWithoutStamping(t *testing.T) {
	s, st, clock := newTestScheduler(t, config.Default())
	ctx := context.Background()
	seedAccounts(t, st, 30, "acc1", "acc2", "acc3")

	first, err := s.GetAccount(ctx, "d1", DefaultLevel)
	require.NoError(t, err)
	firstIssue := clock.now

	// Immediate repeat inside the strict window.
	clock.advance(30 * time.Second)
	second, err := s.GetAccount(ctx, "d1", DefaultLevel)
	require.NoError(t, err)
	assert.Equal(t, first.Username, second.Username)

	acc, err := st.FindByUsername(ctx, first.Username)
	require.NoError(t, err)
	assert.Equal(t, "d1", acc.InUseBy)
	// Burst commits must not advance last_use.
	assert.Equal(t, firstIssue, acc.LastUse)
	// Single-entry window: rotation changes nothing, no duplicate append.
	assert.Equal(t, []string{first.Username}, s.rlog.Usernames("d1"))
}

func TestPeriodLimitReissuesOldestHistoryEntry(t *testing.T) {
	s, st, clock := newTestScheduler(t, config.Default())
	ctx := context.Background()
	seedAccounts(t, st, 30, "acc1", "acc2", "acc3", "acc4", "acc5", "acc6")

	var issued []string
	for i := 0; i < 3; i++ {
		creds, err := s.GetAccount(ctx, "d2", DefaultLevel)
		require.NoError(t, err)
		issued = append(issued, creds.Username)
		clock.advance(6 * time.Minute)
	}
	assert.Equal(t, []string{"acc1", "acc2", "acc3"}, issued)

	// Fourth request: outside the strict window, inside the 60-minute
	// window with a full quota.
	creds, err := s.GetAccount(ctx, "d2", DefaultLevel)
	require.NoError(t, err)
	assert.Equal(t, "acc1", creds.Username)

	// History rotated, oldest entry moved to the tail, no duplicate.
	assert.Equal(t, []string{"acc2", "acc3", "acc1"}, s.rlog.Usernames("d2"))

	// Period (unlike burst) stamps last_use.
	acc, err := st.FindByUsername(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, clock.now, acc.LastUse)
	assert.Equal(t, "d2", acc.InUseBy)
}

func TestAllBurnedOverridePromotesToFreshLease(t *testing.T) {
	s, st, clock := newTestScheduler(t, config.Default())
	ctx := context.Background()
	seedAccounts(t, st, 30, "acc1", "acc2", "acc3", "acc4", "acc5", "acc6")

	for i := 0; i < 3; i++ {
		_, err := s.GetAccount(ctx, "d2", DefaultLevel)
		require.NoError(t, err)
		clock.advance(6 * time.Minute)
	}
	for _, u := range []string{"acc1", "acc2", "acc3"} {
		require.NoError(t, s.SetBurnedByAccount(ctx, u, clock.now))
	}

	creds, err := s.GetAccount(ctx, "d2", DefaultLevel)
	require.NoError(t, err)
	assert.Equal(t, "acc4", creds.Username)
	assert.True(t, s.rlog.Contains("d2", "acc4"))
}

func TestAllBurnedWithoutOverrideRefuses(t *testing.T) {
	cfg := config.Default()
	cfg.AllowRateLimitOverrideWhenBurned = false
	s, st, clock := newTestScheduler(t, cfg)
	ctx := context.Background()
	seedAccounts(t, st, 30, "acc1", "acc2", "acc3", "acc4", "acc5", "acc6")

	for i := 0; i < 3; i++ {
		_, err := s.GetAccount(ctx, "d2", DefaultLevel)
		require.NoError(t, err)
		clock.advance(6 * time.Minute)
	}
	for _, u := range []string{"acc1", "acc2", "acc3"} {
		require.NoError(t, s.SetBurnedByAccount(ctx, u, clock.now))
	}

	_, err := s.GetAccount(ctx, "d2", DefaultLevel)
	require.ErrorIs(t, err, ErrNoAccounts)
}

func TestForceReleaseViaStats(t *testing.T) {
	s, st, clock := newTestScheduler(t, config.Default())
	ctx := context.Background()
	seedAccounts(t, st, 30, "acc1", "acc2")

	// Lease held with last_returned = 0, far beyond force_release_days.
	require.NoError(t, st.Assign(ctx, "acc1", "d3", clock.now, true))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.InUse)

	acc, err := st.FindByUsername(ctx, "acc1")
	require.NoError(t, err)
	assert.Empty(t, acc.InUseBy)
	assert.Equal(t, clock.now, acc.LastReturned)
}

func TestLevelGate(t *testing.T) {
	s, st, clock := newTestScheduler(t, config.Default())
	ctx := context.Background()
	seedAccounts(t, st, 25, "low")
	seedAccounts(t, st, 30, "high")

	// The unlimited branch never returns the under-leveled account.
	creds, err := s.GetAccount(ctx, "d4", 30)
	require.NoError(t, err)
	assert.Equal(t, "high", creds.Username)

	// A throttled device whose only history entry is under-leveled skips
	// it during the walk and is promoted to a fresh lease.
	require.NoError(t, st.Assign(ctx, "low", "d5", clock.now, true))
	s.rlog.Append("d5", requestlog.Entry{TS: clock.now, Username: "low"})
	require.NoError(t, st.ReleaseAllFor(ctx, "d4", 0))

	clock.advance(10 * time.Second)
	creds, err = s.GetAccount(ctx, "d5", 30)
	require.NoError(t, err)
	assert.Equal(t, "high", creds.Username)
	assert.Equal(t, []string{"low", "high"}, s.rlog.Usernames("d5"))
}

func TestBurstWithoutHistoryFallsBackToCurrentLease(t *testing.T) {
	s, st, clock := newTestScheduler(t, config.Default())
	ctx := context.Background()
	seedAccounts(t, st, 30, "acc1", "acc2")

	// Simulate an externally assigned lease with no request history. The
	// release/re-assign pair gives the lease a recent last_returned so the
	// reclaimer leaves it alone.
	require.NoError(t, st.Assign(ctx, "acc1", "d6", clock.now, true))
	require.NoError(t, st.ReleaseAllFor(ctx, "d6", clock.now))
	require.NoError(t, st.Assign(ctx, "acc1", "d6", clock.now, true))
	clock.advance(10 * time.Second)

	creds, err := s.GetAccount(ctx, "d6", DefaultLevel)
	require.NoError(t, err)
	assert.Equal(t, "acc1", creds.Username)
}

func TestThrottledWithoutHistoryOrLeaseIsRefused(t *testing.T) {
	s, _, clock := newTestScheduler(t, config.Default())

	_, _, err := s.recentCandidate(context.Background(), "ghost", DefaultLevel, clock.now, RateBurst)
	require.ErrorIs(t, err, ErrNoAccounts)
}

func TestEmptyDeviceIsInvalid(t *testing.T) {
	s, _, _ := newTestScheduler(t, config.Default())

	_, err := s.GetAccount(context.Background(), "", DefaultLevel)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSingleLeasePerDevice(t *testing.T) {
	s, st, clock := newTestScheduler(t, config.Default())
	ctx := context.Background()
	seedAccounts(t, st, 30, "acc1", "acc2", "acc3")

	_, err := s.GetAccount(ctx, "d1", DefaultLevel)
	require.NoError(t, err)

	// Well past both limits: a fresh account replaces the old lease.
	clock.advance(2 * time.Hour)
	creds, err := s.GetAccount(ctx, "d1", DefaultLevel)
	require.NoError(t, err)

	inUse, err := st.CountInUse(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inUse)

	cur, err := st.CurrentFor(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, creds.Username, cur.Username)
}

func TestClassify(t *testing.T) {
	s, st, clock := newTestScheduler(t, config.Default())
	ctx := context.Background()
	seedAccounts(t, st, 30, "acc1", "acc2", "acc3", "acc4")

	state, err := s.classify(ctx, "", clock.now)
	require.NoError(t, err)
	assert.Equal(t, RateUnknown, state)

	state, err = s.classify(ctx, "d1", clock.now)
	require.NoError(t, err)
	assert.Equal(t, RateUnlimited, state)

	_, err = s.GetAccount(ctx, "d1", DefaultLevel)
	require.NoError(t, err)

	clock.advance(1 * time.Minute)
	state, err = s.classify(ctx, "d1", clock.now)
	require.NoError(t, err)
	assert.Equal(t, RateBurst, state)

	// Burst applies even after the lease is released: the request log
	// usernames keep the recency visible.
	require.NoError(t, st.ReleaseAllFor(ctx, "d1", clock.now))
	state, err = s.classify(ctx, "d1", clock.now)
	require.NoError(t, err)
	assert.Equal(t, RateBurst, state)
}

func TestStatsCountersAndRatios(t *testing.T) {
	s, st, clock := newTestScheduler(t, config.Default())
	ctx := context.Background()
	seedAccounts(t, st, 30, "acc1", "acc2", "acc3", "acc4")

	require.NoError(t, st.Assign(ctx, "acc1", "d1", clock.now, true))
	// Keep the lease out of the reclaimer's reach.
	require.NoError(t, st.ReleaseAllFor(ctx, "d1", clock.now))
	require.NoError(t, st.Assign(ctx, "acc1", "d1", clock.now, true))
	require.NoError(t, s.SetBurnedByAccount(ctx, "acc2", clock.now))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Accounts)
	assert.Equal(t, 1, stats.InUse)
	// acc1 carries a fresh last_returned and acc2 a fresh burn.
	assert.Equal(t, 2, stats.Cooldown)
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, stats.Accounts, stats.Available+stats.InUse+stats.Cooldown)
	assert.InDelta(t, 4.0, stats.AccountsPerDevice, 0.001)
	assert.InDelta(t, 3.0, stats.RequiredPerDevice, 0.001)
	assert.InDelta(t, 8.0, stats.HoursPerAccount, 0.001)
}

func TestStatsZeroInUse(t *testing.T) {
	s, st, _ := newTestScheduler(t, config.Default())
	seedAccounts(t, st, 30, "acc1")

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.AccountsPerDevice)
	assert.Zero(t, stats.RequiredPerDevice)
	assert.Zero(t, stats.HoursPerAccount)
}
