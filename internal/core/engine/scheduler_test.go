package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livewatch/livewatch/internal/core"
)

func newTestScheduler(t *testing.T, clock *fakeClock, minInterval time.Duration, policy QuotaPolicy) (*Scheduler, *TargetStore, *QuotaTracker, *eventLog) {
	t.Helper()
	bus := NewEventBus()
	events := recordEvents(bus)

	store, err := NewTargetStore(map[core.Platform]time.Duration{core.PlatformKick: minInterval}, DefaultPriorityMultipliers())
	require.NoError(t, err)
	store.Clock = clock.Now
	store.Rand = zeroRand
	store.Events = bus

	quota, err := NewQuotaTracker(map[core.Platform]QuotaPolicy{core.PlatformKick: policy})
	require.NoError(t, err)
	quota.Clock = clock.Now
	quota.Events = bus

	scheduler, err := NewScheduler(store, quota)
	require.NoError(t, err)
	return scheduler, store, quota, events
}

func TestSchedulerPriorityOrderingUnderScarceQuota(t *testing.T) {
	clock := newFakeClock()
	scheduler, store, _, _ := newTestScheduler(t, clock, time.Minute, QuotaPolicy{SoftCap: 3, Window: time.Hour})

	require.NoError(t, store.Register("low-a", core.PlatformKick, core.PriorityLow))
	require.NoError(t, store.Register("med-a", core.PlatformKick, core.PriorityMedium))
	require.NoError(t, store.Register("high-a", core.PlatformKick, core.PriorityHigh))
	require.NoError(t, store.Register("med-b", core.PlatformKick, core.PriorityMedium))
	require.NoError(t, store.Register("high-b", core.PlatformKick, core.PriorityHigh))

	batch := scheduler.SelectBatch(clock.Now())
	require.Len(t, batch, 3)
	require.Equal(t, "high-a", batch[0].ID)
	require.Equal(t, "high-b", batch[1].ID)
	require.Equal(t, "med-a", batch[2].ID)
	for _, target := range batch {
		require.True(t, target.InFlight)
		require.Equal(t, clock.Now(), target.LastCheckedAt)
	}

	due := store.DueTargets(clock.Now())
	require.Len(t, due, 2)
}

func TestSchedulerTiesBreakByEligibility(t *testing.T) {
	targets := []core.Target{
		{ID: "c", Priority: core.PriorityHigh, NextEligibleAt: time.Unix(20, 0)},
		{ID: "b", Priority: core.PriorityHigh, NextEligibleAt: time.Unix(10, 0)},
		{ID: "a", Priority: core.PriorityHigh, NextEligibleAt: time.Unix(20, 0)},
		{ID: "z", Priority: core.PriorityLow, NextEligibleAt: time.Unix(0, 0)},
	}
	SortByPriority(targets)

	ids := make([]string, 0, len(targets))
	for _, target := range targets {
		ids = append(ids, target.ID)
	}
	require.Equal(t, []string{"b", "a", "c", "z"}, ids)
}

func TestSchedulerLeavesUnreservedTargetsDue(t *testing.T) {
	clock := newFakeClock()
	scheduler, store, quota, events := newTestScheduler(t, clock, time.Minute, QuotaPolicy{SoftCap: 1, Window: time.Hour})

	require.NoError(t, store.Register("alpha", core.PlatformKick, core.PriorityHigh))
	require.NoError(t, store.Register("beta", core.PlatformKick, core.PriorityHigh))

	require.Len(t, scheduler.SelectBatch(clock.Now()), 1)
	require.Equal(t, 1, events.count(EventQuotaExceeded))

	beta, _ := store.Get("beta")
	require.False(t, beta.InFlight)
	require.Equal(t, 0, beta.ConsecutiveFailures)

	quota.ResetWindow(core.PlatformKick)
	batch := scheduler.SelectBatch(clock.Now())
	require.Len(t, batch, 1)
	require.Equal(t, "beta", batch[0].ID)
}

func TestSchedulerFourHourRunStaysUnderQuota(t *testing.T) {
	clock := newFakeClock()
	scheduler, store, quota, events := newTestScheduler(t, clock, 15*time.Minute, QuotaPolicy{SoftCap: 60, Window: time.Hour})
	backoff, err := NewBackoffController(store, DefaultBackoffPolicy())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Register(fmt.Sprintf("streamer-%d", i), core.PlatformKick, core.PriorityHigh))
	}

	checks := 0
	end := clock.Now().Add(4 * time.Hour)
	for clock.Now().Before(end) {
		for _, target := range scheduler.SelectBatch(clock.Now()) {
			checks++
			require.True(t, backoff.Record(target.ID, true))
		}
		require.LessOrEqual(t, quota.UsageSnapshot(core.PlatformKick).Used, 12)
		clock.Advance(30 * time.Second)
	}

	require.Equal(t, 0, events.count(EventQuotaExceeded))
	require.Equal(t, 48, checks)
}

func TestSchedulerRefundsQuotaForVanishedTarget(t *testing.T) {
	clock := newFakeClock()
	bus := NewEventBus()

	store, err := NewTargetStore(map[core.Platform]time.Duration{core.PlatformKick: time.Minute}, DefaultPriorityMultipliers())
	require.NoError(t, err)
	store.Clock = clock.Now
	store.Rand = zeroRand

	quota, err := NewQuotaTracker(map[core.Platform]QuotaPolicy{core.PlatformKick: {SoftCap: 1, Window: time.Hour}})
	require.NoError(t, err)
	quota.Clock = clock.Now
	quota.Events = bus

	scheduler, err := NewScheduler(store, quota)
	require.NoError(t, err)

	require.NoError(t, store.Register("alpha", core.PlatformKick, core.PriorityHigh))
	require.NoError(t, store.Register("beta", core.PlatformKick, core.PriorityLow))

	// alpha disappears between selection and dispatch.
	removed := false
	bus.OnEvent(func(e Event) {
		if e.Type == EventHighUsage && !removed {
			removed = true
			store.Remove("alpha")
		}
	})

	batch := scheduler.SelectBatch(clock.Now())
	require.True(t, removed)
	require.Len(t, batch, 1)
	require.Equal(t, "beta", batch[0].ID)
	require.Equal(t, 1, quota.UsageSnapshot(core.PlatformKick).Used)
}
