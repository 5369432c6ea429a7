package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livewatch/livewatch/internal/core"
)

type fakeProbe struct {
	platform core.Platform
	check    func(ctx context.Context, channel string) (*core.LiveStatus, error)
	calls    atomic.Int32
}

func (p *fakeProbe) Platform() core.Platform { return p.platform }

func (p *fakeProbe) Check(ctx context.Context, channel string) (*core.LiveStatus, error) {
	p.calls.Add(1)
	return p.check(ctx, channel)
}

func liveProbe(platform core.Platform) *fakeProbe {
	return &fakeProbe{platform: platform, check: func(context.Context, string) (*core.LiveStatus, error) {
		return &core.LiveStatus{IsLive: true, Title: "on air"}, nil
	}}
}

type memorySink struct {
	mu    sync.Mutex
	saved map[string]*core.LiveStatus
	err   error
}

func (s *memorySink) Save(_ context.Context, targetID string, status *core.LiveStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.saved == nil {
		s.saved = make(map[string]*core.LiveStatus)
	}
	s.saved[targetID] = status
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type staticDirectory struct {
	entries []core.DirectoryEntry
	err     error
}

func (d staticDirectory) ListActive(context.Context) ([]core.DirectoryEntry, error) {
	return d.entries, d.err
}

type memoryPersister struct {
	mu     sync.Mutex
	states []core.QuotaState
}

func (p *memoryPersister) SaveQuotaStates(_ context.Context, states []core.QuotaState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = states
	return nil
}

type rateLimited struct{ after time.Duration }

func (e rateLimited) Error() string             { return "rate limited" }
func (e rateLimited) RetryAfter() time.Duration { return e.after }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Platforms = map[core.Platform]PlatformPolicy{
		core.PlatformTwitch: {MinInterval: time.Minute, Quota: QuotaPolicy{SoftCap: 100, Window: time.Minute}},
		core.PlatformKick:   {MinInterval: time.Minute, Quota: QuotaPolicy{SoftCap: 100, Window: time.Minute}},
	}
	cfg.Workers = 2
	cfg.ProbeTimeout = time.Second
	return cfg
}

func newTestOrchestrator(t *testing.T, clock *fakeClock, opts Options) *Orchestrator {
	t.Helper()
	opts.Clock = clock.Now
	if opts.Rand == nil {
		opts.Rand = zeroRand
	}
	o, err := New(testConfig(), opts)
	require.NoError(t, err)
	return o
}

func TestOrchestratorTickSavesResults(t *testing.T) {
	clock := newFakeClock()
	sink := &memorySink{}
	probe := liveProbe(core.PlatformTwitch)
	o := newTestOrchestrator(t, clock, Options{Probes: []Probe{probe}, Sink: sink})

	require.NoError(t, o.RegisterTarget("alpha", core.PlatformTwitch, core.PriorityHigh))
	require.NoError(t, o.RegisterTarget("beta", core.PlatformTwitch, core.PriorityLow))

	report := o.Tick(context.Background())
	require.Equal(t, TickReport{Selected: 2, Succeeded: 2}, report)
	require.Equal(t, StateIdle, o.State())
	require.Equal(t, 2, sink.count())
	require.Equal(t, clock.Now(), sink.saved["alpha"].CheckedAt)

	alpha, _ := o.Targets().Get("alpha")
	require.False(t, alpha.InFlight)
	require.Equal(t, clock.Now().Add(time.Minute), alpha.NextEligibleAt)

	require.Equal(t, TickReport{}, o.Tick(context.Background()))
	require.Equal(t, int32(2), probe.calls.Load())
}

func TestOrchestratorFailureFeedsBackoff(t *testing.T) {
	clock := newFakeClock()
	probe := &fakeProbe{platform: core.PlatformTwitch, check: func(context.Context, string) (*core.LiveStatus, error) {
		return nil, errors.New("upstream 503")
	}}
	sink := &memorySink{}
	o := newTestOrchestrator(t, clock, Options{Probes: []Probe{probe}, Sink: sink})
	require.NoError(t, o.RegisterTarget("alpha", core.PlatformTwitch, core.PriorityHigh))

	report := o.Tick(context.Background())
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 0, sink.count())

	alpha, _ := o.Targets().Get("alpha")
	require.Equal(t, 1, alpha.ConsecutiveFailures)
	require.Equal(t, 2*time.Minute, alpha.EffectiveInterval)
}

func TestOrchestratorRateLimitBlocksPlatform(t *testing.T) {
	clock := newFakeClock()
	probe := &fakeProbe{platform: core.PlatformTwitch, check: func(context.Context, string) (*core.LiveStatus, error) {
		return nil, fmt.Errorf("helix: %w", rateLimited{after: 45 * time.Second})
	}}
	o := newTestOrchestrator(t, clock, Options{Probes: []Probe{probe}})
	events := recordEvents(o.Events())
	require.NoError(t, o.RegisterTarget("alpha", core.PlatformTwitch, core.PriorityHigh))

	o.Tick(context.Background())

	usage := o.Quota().UsageSnapshot(core.PlatformTwitch)
	require.False(t, usage.Exhausted)
	require.NotNil(t, usage.BackoffUntil)
	require.Equal(t, clock.Now().Add(45*time.Second), *usage.BackoffUntil)
	require.Equal(t, 1, events.count(EventQuotaExceeded))
	require.False(t, o.Quota().TryReserve(core.PlatformTwitch))

	clock.Advance(46 * time.Second)
	require.True(t, o.Quota().TryReserve(core.PlatformTwitch))
}

func TestOrchestratorRecoversProbePanic(t *testing.T) {
	clock := newFakeClock()
	panicking := &fakeProbe{platform: core.PlatformTwitch, check: func(context.Context, string) (*core.LiveStatus, error) {
		panic("boom")
	}}
	healthy := liveProbe(core.PlatformKick)
	o := newTestOrchestrator(t, clock, Options{Probes: []Probe{panicking, healthy}})

	require.NoError(t, o.RegisterTarget("alpha", core.PlatformTwitch, core.PriorityHigh))
	require.NoError(t, o.RegisterTarget("beta", core.PlatformKick, core.PriorityHigh))

	report := o.Tick(context.Background())
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Succeeded)

	alpha, _ := o.Targets().Get("alpha")
	require.Equal(t, 1, alpha.ConsecutiveFailures)
	beta, _ := o.Targets().Get("beta")
	require.Equal(t, 0, beta.ConsecutiveFailures)
}

func TestOrchestratorMissingProbeIsFailure(t *testing.T) {
	clock := newFakeClock()
	o := newTestOrchestrator(t, clock, Options{})
	require.NoError(t, o.RegisterTarget("alpha", core.PlatformKick, core.PriorityHigh))

	report := o.Tick(context.Background())
	require.Equal(t, 1, report.Failed)
	alpha, _ := o.Targets().Get("alpha")
	require.Equal(t, 1, alpha.ConsecutiveFailures)
}

func TestOrchestratorNilStatusIsFailure(t *testing.T) {
	clock := newFakeClock()
	probe := &fakeProbe{platform: core.PlatformKick, check: func(context.Context, string) (*core.LiveStatus, error) {
		return nil, nil
	}}
	o := newTestOrchestrator(t, clock, Options{Probes: []Probe{probe}})
	require.NoError(t, o.RegisterTarget("alpha", core.PlatformKick, core.PriorityHigh))

	require.Equal(t, 1, o.Tick(context.Background()).Failed)
}

func TestOrchestratorSinkErrorIsNotProbeFailure(t *testing.T) {
	clock := newFakeClock()
	sink := &memorySink{err: errors.New("disk full")}
	o := newTestOrchestrator(t, clock, Options{Probes: []Probe{liveProbe(core.PlatformKick)}, Sink: sink})
	require.NoError(t, o.RegisterTarget("alpha", core.PlatformKick, core.PriorityHigh))

	require.Equal(t, 1, o.Tick(context.Background()).Succeeded)
	alpha, _ := o.Targets().Get("alpha")
	require.Equal(t, 0, alpha.ConsecutiveFailures)
}

func TestOrchestratorProbeTimeout(t *testing.T) {
	clock := newFakeClock()
	probe := &fakeProbe{platform: core.PlatformKick, check: func(ctx context.Context, _ string) (*core.LiveStatus, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cfg := testConfig()
	cfg.ProbeTimeout = 20 * time.Millisecond
	o, err := New(cfg, Options{Probes: []Probe{probe}, Clock: clock.Now, Rand: zeroRand})
	require.NoError(t, err)
	require.NoError(t, o.RegisterTarget("alpha", core.PlatformKick, core.PriorityHigh))

	require.Equal(t, 1, o.Tick(context.Background()).Failed)
}

func TestOrchestratorBoundsConcurrency(t *testing.T) {
	clock := newFakeClock()
	var running, peak atomic.Int32
	probe := &fakeProbe{platform: core.PlatformKick, check: func(context.Context, string) (*core.LiveStatus, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return &core.LiveStatus{}, nil
	}}
	o := newTestOrchestrator(t, clock, Options{Probes: []Probe{probe}})
	for i := 0; i < 8; i++ {
		require.NoError(t, o.RegisterTarget(fmt.Sprintf("t-%d", i), core.PlatformKick, core.PriorityHigh))
	}

	require.Equal(t, 8, o.Tick(context.Background()).Succeeded)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestOrchestratorCancelledTickReleasesTargets(t *testing.T) {
	clock := newFakeClock()
	probe := liveProbe(core.PlatformKick)
	o := newTestOrchestrator(t, clock, Options{Probes: []Probe{probe}})
	require.NoError(t, o.RegisterTarget("alpha", core.PlatformKick, core.PriorityHigh))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := o.Tick(ctx)
	require.Equal(t, 1, report.Released)
	require.Equal(t, int32(0), probe.calls.Load())

	alpha, _ := o.Targets().Get("alpha")
	require.False(t, alpha.InFlight)
	require.Equal(t, 0, alpha.ConsecutiveFailures)
	require.Len(t, o.Targets().DueTargets(clock.Now()), 1)
}

func TestOrchestratorStartStop(t *testing.T) {
	clock := newFakeClock()
	sink := &memorySink{}
	persister := &memoryPersister{}
	o := newTestOrchestrator(t, clock, Options{
		Probes:    []Probe{liveProbe(core.PlatformTwitch)},
		Sink:      sink,
		Persister: persister,
		Directory: staticDirectory{entries: []core.DirectoryEntry{
			{ID: "alpha", Platform: core.PlatformTwitch, Priority: core.PriorityHigh},
			{ID: "beta", Platform: core.PlatformTwitch, Channel: "beta_live", Priority: core.PriorityMedium},
		}},
	})

	require.False(t, o.Running())
	o.Start(context.Background())
	o.Start(context.Background())
	require.True(t, o.Running())
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	o.Stop()
	o.Stop()
	require.False(t, o.Running())
	require.Equal(t, StateIdle, o.State())

	persister.mu.Lock()
	defer persister.mu.Unlock()
	require.Len(t, persister.states, 2)
}

func TestOrchestratorStopBeforeStart(t *testing.T) {
	clock := newFakeClock()
	o := newTestOrchestrator(t, clock, Options{})
	o.Stop()
	o.Start(context.Background())
	require.False(t, o.Running())
	o.Stop()
}

func TestOrchestratorRefreshDirectoryKeepsTargetsOnError(t *testing.T) {
	clock := newFakeClock()
	o := newTestOrchestrator(t, clock, Options{Directory: staticDirectory{err: errors.New("db down")}})
	require.NoError(t, o.RegisterTarget("alpha", core.PlatformKick, core.PriorityHigh))

	require.Error(t, o.RefreshDirectory(context.Background()))
	require.Equal(t, 1, o.Targets().Len())
}

func TestOrchestratorUsageStatistics(t *testing.T) {
	clock := newFakeClock()
	probe := &fakeProbe{platform: core.PlatformKick, check: func(context.Context, string) (*core.LiveStatus, error) {
		return nil, errors.New("offline api")
	}}
	o := newTestOrchestrator(t, clock, Options{Probes: []Probe{probe, liveProbe(core.PlatformTwitch)}})
	require.NoError(t, o.RegisterTarget("alpha", core.PlatformKick, core.PriorityHigh))
	require.NoError(t, o.RegisterTarget("beta", core.PlatformTwitch, core.PriorityLow))

	for i := 0; i < 5; i++ {
		o.Tick(context.Background())
		clock.Advance(10 * time.Minute)
	}

	stats := o.UsageStatistics(clock.Now())
	require.Equal(t, 2, stats.ActiveTargets)
	require.Equal(t, 1, stats.CircuitOpenTargets)
	require.Equal(t, 1, stats.TargetsByPlatform[core.PlatformKick])
	require.Equal(t, 1, stats.TargetsByPriority["low"])
	require.Len(t, stats.Platforms, 2)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = -1
	_, err := New(cfg, Options{})
	require.Error(t, err)

	cfg = testConfig()
	cfg.Platforms["myspace"] = PlatformPolicy{MinInterval: time.Minute, Quota: QuotaPolicy{SoftCap: 1, Window: time.Minute}}
	_, err = New(cfg, Options{})
	require.Error(t, err)

	_, err = New(testConfig(), Options{Probes: []Probe{liveProbe(core.PlatformYouTube)}})
	require.Error(t, err)
}
