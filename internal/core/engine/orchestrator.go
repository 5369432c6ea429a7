package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/livewatch/livewatch/internal/core"
)

// Probe performs a live-status check against one platform.
type Probe interface {
	Platform() core.Platform
	Check(ctx context.Context, channel string) (*core.LiveStatus, error)
}

// ResultSink persists successful checks.
type ResultSink interface {
	Save(ctx context.Context, targetID string, status *core.LiveStatus) error
}

// TargetDirectory lists the channels that must be watched.
type TargetDirectory interface {
	ListActive(ctx context.Context) ([]core.DirectoryEntry, error)
}

// QuotaPersister stores quota windows so restarts do not double-spend.
type QuotaPersister interface {
	SaveQuotaStates(ctx context.Context, states []core.QuotaState) error
}

// RetryAfterError is implemented by probe errors caused by platform rate
// limiting.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Probe outcomes reported to the Recorder.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeRateLimited = "rate_limited"
	OutcomePanic       = "panic"
	OutcomeNoProbe     = "no_probe"
)

// Recorder receives engine measurements.
type Recorder interface {
	ProbeCompleted(platform core.Platform, outcome string, duration time.Duration)
	BatchSelected(size int)
	TickCompleted(duration time.Duration)
	QuotaObserved(usage core.QuotaUsage)
	CircuitsOpen(count int)
	EventPublished(e Event)
}

type nopRecorder struct{}

func (nopRecorder) ProbeCompleted(core.Platform, string, time.Duration) {}
func (nopRecorder) BatchSelected(int)                                   {}
func (nopRecorder) TickCompleted(time.Duration)                         {}
func (nopRecorder) QuotaObserved(core.QuotaUsage)                       {}
func (nopRecorder) CircuitsOpen(int)                                    {}
func (nopRecorder) EventPublished(Event)                                {}

// State is the orchestrator's per-tick phase.
type State int32

const (
	StateIdle State = iota
	StateSelecting
	StateDispatching
	StateAwaitingResults
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateDispatching:
		return "dispatching"
	case StateAwaitingResults:
		return "awaiting_results"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// TickReport summarizes one tick.
type TickReport struct {
	Selected  int
	Succeeded int
	Failed    int
	Released  int
}

// Options carries the orchestrator's collaborators.
type Options struct {
	Probes    []Probe
	Sink      ResultSink
	Directory TargetDirectory
	Persister QuotaPersister
	Logger    Logger
	Recorder  Recorder
	Events    *EventBus
	Clock     func() time.Time
	Rand      func(n int64) int64
}

// Orchestrator drives periodic ticks: select a batch, check it on a bounded
// pool, and feed each outcome back into the backoff controller.
type Orchestrator struct {
	cfg Config

	quota     *QuotaTracker
	targets   *TargetStore
	backoff   *BackoffController
	scheduler *Scheduler
	events    *EventBus

	probes    map[core.Platform]Probe
	sink      ResultSink
	directory TargetDirectory
	persister QuotaPersister
	logger    Logger
	recorder  Recorder
	clock     func() time.Time

	state  atomic.Int32
	tickMu sync.Mutex

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates cfg and assembles the engine.
func New(cfg Config, opts Options) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	events := opts.Events
	if events == nil {
		events = NewEventBus()
	}

	quota, err := NewQuotaTracker(cfg.quotaPolicies())
	if err != nil {
		return nil, err
	}
	quota.Clock = clock
	quota.Events = events
	quota.HighUsageThreshold = cfg.HighUsageThreshold

	targets, err := NewTargetStore(cfg.minIntervals(), cfg.Priorities)
	if err != nil {
		return nil, err
	}
	targets.Clock = clock
	targets.Rand = opts.Rand
	targets.Events = events

	backoff, err := NewBackoffController(targets, cfg.Backoff)
	if err != nil {
		return nil, err
	}
	scheduler, err := NewScheduler(targets, quota)
	if err != nil {
		return nil, err
	}

	probes := make(map[core.Platform]Probe, len(opts.Probes))
	for _, p := range opts.Probes {
		if p == nil {
			continue
		}
		if _, ok := cfg.Platforms[p.Platform()]; !ok {
			return nil, fmt.Errorf("probe for unconfigured platform %q", p.Platform())
		}
		probes[p.Platform()] = p
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	o := &Orchestrator{
		cfg:       cfg,
		quota:     quota,
		targets:   targets,
		backoff:   backoff,
		scheduler: scheduler,
		events:    events,
		probes:    probes,
		sink:      opts.Sink,
		directory: opts.Directory,
		persister: opts.Persister,
		logger:    loggerOrNop(opts.Logger),
		recorder:  recorder,
		clock:     clock,
	}
	events.OnEvent(o.handleEvent)
	return o, nil
}

// Quota returns the quota tracker.
func (o *Orchestrator) Quota() *QuotaTracker { return o.quota }

// Targets returns the target store.
func (o *Orchestrator) Targets() *TargetStore { return o.targets }

// Events returns the event bus.
func (o *Orchestrator) Events() *EventBus { return o.events }

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// State returns the current tick phase.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// ListTargets returns a snapshot of every target ordered by ID.
func (o *Orchestrator) ListTargets() []core.Target { return o.targets.List() }

// RegisterTarget adds or updates a target.
func (o *Orchestrator) RegisterTarget(id string, platform core.Platform, priority core.Priority) error {
	return o.targets.Register(id, platform, priority)
}

// RegisterEntry adds or updates a target with an explicit channel.
func (o *Orchestrator) RegisterEntry(entry core.DirectoryEntry) error {
	return o.targets.RegisterTarget(entry)
}

// ValidateEntry reports whether RegisterEntry would accept entry.
func (o *Orchestrator) ValidateEntry(entry core.DirectoryEntry) error {
	return o.targets.ValidateEntry(entry)
}

// RemoveTarget stops watching a target.
func (o *Orchestrator) RemoveTarget(id string) bool {
	return o.targets.Remove(id)
}

// RefreshDirectory reconciles targets with the directory. On error the
// current targets are kept.
func (o *Orchestrator) RefreshDirectory(ctx context.Context) error {
	if o.directory == nil {
		return nil
	}
	entries, err := o.directory.ListActive(ctx)
	if err != nil {
		o.logger.Warn("Target directory refresh failed", zap.Error(err))
		return fmt.Errorf("list active targets: %w", err)
	}

	result, err := o.targets.Sync(entries)
	if err != nil {
		o.logger.Warn("Skipped invalid directory entries", zap.Error(err))
	}
	if len(result.Added) > 0 || len(result.Updated) > 0 || len(result.Removed) > 0 {
		o.logger.Info("Target directory synced",
			zap.Int("added", len(result.Added)),
			zap.Int("updated", len(result.Updated)),
			zap.Int("removed", len(result.Removed)),
			zap.Int("total", o.targets.Len()))
	}
	return nil
}

// Tick runs one select/dispatch/await cycle and returns when every dispatched
// check has produced feedback. Cancelling ctx stops new checks from starting;
// running checks finish or hit the probe timeout.
func (o *Orchestrator) Tick(ctx context.Context) TickReport {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	start := o.clock()
	defer func() {
		o.state.Store(int32(StateIdle))
		o.recorder.TickCompleted(o.clock().Sub(start))
	}()

	o.state.Store(int32(StateSelecting))
	batch := o.scheduler.SelectBatch(start)
	o.recorder.BatchSelected(len(batch))

	report := TickReport{Selected: len(batch)}
	if len(batch) == 0 {
		return report
	}

	o.state.Store(int32(StateDispatching))
	var succeeded, failed, released atomic.Int32

	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Workers)
	for _, t := range batch {
		if ctx.Err() != nil {
			o.targets.Release(t.ID)
			released.Add(1)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				o.targets.Release(t.ID)
				released.Add(1)
				return nil
			}
			if o.check(ctx, t) {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}

	o.state.Store(int32(StateAwaitingResults))
	_ = g.Wait()

	report.Succeeded = int(succeeded.Load())
	report.Failed = int(failed.Load())
	report.Released = int(released.Load())

	o.logger.Debug("Tick completed",
		zap.Int("selected", report.Selected),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("released", report.Released))
	return report
}

// check runs one probe and records the outcome. It reports success.
func (o *Orchestrator) check(ctx context.Context, t core.Target) bool {
	probe, ok := o.probes[t.Platform]
	if !ok {
		o.logger.Warn("No probe configured for platform",
			zap.String("target_id", t.ID),
			zap.String("platform", string(t.Platform)))
		o.recorder.ProbeCompleted(t.Platform, OutcomeNoProbe, 0)
		o.backoff.Record(t.ID, false)
		return false
	}

	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ProbeTimeout)
	defer cancel()

	start := o.clock()
	status, err := o.safeCheck(probeCtx, probe, t)
	elapsed := o.clock().Sub(start)

	if err == nil && status == nil {
		err = fmt.Errorf("probe returned no status")
	}
	if err != nil {
		outcome := OutcomeError
		var rateLimited RetryAfterError
		var panicked *probePanicError
		switch {
		case errors.As(err, &panicked):
			outcome = OutcomePanic
		case errors.As(err, &rateLimited):
			outcome = OutcomeRateLimited
			o.quota.Record429(t.Platform, rateLimited.RetryAfter())
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(probeCtx.Err(), context.DeadlineExceeded):
			outcome = OutcomeTimeout
		}
		o.recorder.ProbeCompleted(t.Platform, outcome, elapsed)
		o.logger.Debug("Live check failed",
			zap.String("target_id", t.ID),
			zap.String("platform", string(t.Platform)),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		o.backoff.Record(t.ID, false)
		return false
	}

	if status.CheckedAt.IsZero() {
		status.CheckedAt = o.clock()
	}
	o.recorder.ProbeCompleted(t.Platform, OutcomeSuccess, elapsed)

	if o.sink != nil {
		if err := o.sink.Save(probeCtx, t.ID, status); err != nil {
			o.logger.Error("Failed to save live status",
				zap.String("target_id", t.ID),
				zap.String("platform", string(t.Platform)),
				zap.Error(err))
		}
	}
	o.backoff.Record(t.ID, true)
	return true
}

type probePanicError struct {
	correlationID string
	value         any
}

func (e *probePanicError) Error() string {
	return fmt.Sprintf("probe panic (correlation_id: %s)", e.correlationID)
}

func (o *Orchestrator) safeCheck(ctx context.Context, probe Probe, t core.Target) (status *core.LiveStatus, err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			o.logger.Error("Probe panic",
				zap.String("correlation_id", correlationID),
				zap.String("target_id", t.ID),
				zap.String("platform", string(t.Platform)),
				zap.String("panic", fmt.Sprintf("%v", r)),
				zap.String("stack", string(debug.Stack())))
			status = nil
			err = &probePanicError{correlationID: correlationID, value: r}
		}
	}()
	return probe.Check(ctx, t.Channel)
}

// Start refreshes the directory, ticks immediately, then keeps ticking in the
// background until Stop is called or ctx is cancelled. Start is idempotent and
// a no-op after Stop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started || o.stopped {
		o.mu.Unlock()
		return
	}
	o.started = true
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		o.run(runCtx)
	}()
}

func (o *Orchestrator) run(ctx context.Context) {
	_ = o.RefreshDirectory(ctx)
	o.Tick(ctx)

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	refresh := time.NewTicker(o.cfg.DirectoryRefresh)
	defer refresh.Stop()
	report := time.NewTicker(o.cfg.ReportInterval)
	defer report.Stop()

	for {
		select {
		case <-ctx.Done():
			o.persistQuota(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			o.Tick(ctx)
		case <-refresh.C:
			_ = o.RefreshDirectory(ctx)
		case <-report.C:
			o.ReportUsage(ctx)
		}
	}
}

// Running reports whether Start has been called and Stop has not.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started && !o.stopped
}

// Stop cancels the loop and waits for in-flight checks. Stop is idempotent
// and safe to call before Start.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.stopped {
		o.stopped = true
		if o.cancel != nil {
			o.cancel()
		}
	}
	o.mu.Unlock()

	o.wg.Wait()
}

func (o *Orchestrator) handleEvent(e Event) {
	o.recorder.EventPublished(e)

	fields := []zap.Field{zap.String("event", string(e.Type))}
	if e.Platform != "" {
		fields = append(fields, zap.String("platform", string(e.Platform)))
	}
	if e.TargetID != "" {
		fields = append(fields, zap.String("target_id", e.TargetID))
	}
	if e.UtilizationPct > 0 {
		fields = append(fields, zap.Float64("utilization_pct", e.UtilizationPct))
	}
	if e.Until != nil {
		fields = append(fields, zap.Time("until", *e.Until))
	}

	switch e.Type {
	case EventQuotaExceeded, EventCircuitOpened:
		o.logger.Warn("Engine event", fields...)
	default:
		o.logger.Info("Engine event", fields...)
	}
}
