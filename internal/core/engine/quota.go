package engine

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

// DefaultHighUsageThreshold is the utilization ratio that triggers HighUsage.
const DefaultHighUsageThreshold = 0.8

// QuotaPolicy describes a platform's request budget.
type QuotaPolicy struct {
	// SoftCap is the enforced ceiling per window.
	SoftCap int
	// HardLimit is the platform's documented limit. Zero means unknown.
	HardLimit int
	// Window is the length of a fixed window. Ignored when DailyCap is set.
	Window time.Duration
	// RequestCost is the number of units one check consumes. Zero means 1.
	RequestCost int
	// DailyCap aligns the window to UTC day boundaries.
	DailyCap bool
}

// Cost returns the per-request cost, never less than one.
func (p QuotaPolicy) Cost() int {
	if p.RequestCost < 1 {
		return 1
	}
	return p.RequestCost
}

// WindowLength returns the effective window length.
func (p QuotaPolicy) WindowLength() time.Duration {
	if p.DailyCap {
		return 24 * time.Hour
	}
	return p.Window
}

// Validate checks the policy for configuration errors.
func (p QuotaPolicy) Validate() error {
	if p.SoftCap < 1 {
		return fmt.Errorf("soft cap must be positive, got %d", p.SoftCap)
	}
	if p.HardLimit > 0 && p.SoftCap > p.HardLimit {
		return fmt.Errorf("soft cap %d exceeds hard limit %d", p.SoftCap, p.HardLimit)
	}
	if !p.DailyCap && p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	if p.Cost() > p.SoftCap {
		return fmt.Errorf("request cost %d exceeds soft cap %d", p.Cost(), p.SoftCap)
	}
	return nil
}

// SoftCapFromMargin derives a soft cap from a hard limit and a ratio in (0,1].
func SoftCapFromMargin(hardLimit int, margin float64) int {
	if hardLimit <= 0 {
		return 0
	}
	if margin <= 0 || margin > 1 {
		return hardLimit
	}
	adjusted := int(math.Floor(float64(hardLimit) * margin))
	if adjusted < 1 {
		adjusted = 1
	}
	return adjusted
}

type platformQuota struct {
	mu     sync.Mutex
	policy QuotaPolicy
	state  core.QuotaState

	// exceededNotified latches QuotaExceeded for the current window.
	exceededNotified bool
}

// QuotaTracker tracks consumed requests per platform inside fixed windows.
//
// Windows are rolled on access by comparing the clock to the window start, so
// a suspended process resumes with correct counters without relying on timers.
type QuotaTracker struct {
	Clock              func() time.Time
	Events             *EventBus
	HighUsageThreshold float64

	platforms map[core.Platform]*platformQuota
}

// NewQuotaTracker creates a tracker with one record per configured platform.
func NewQuotaTracker(policies map[core.Platform]QuotaPolicy) (*QuotaTracker, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("at least one platform quota is required")
	}

	platforms := make(map[core.Platform]*platformQuota, len(policies))
	for platform, policy := range policies {
		if err := policy.Validate(); err != nil {
			return nil, fmt.Errorf("platform %s: %w", platform, err)
		}
		platforms[platform] = &platformQuota{
			policy: policy,
			state: core.QuotaState{
				Platform:     platform,
				WindowLength: policy.WindowLength(),
				SoftCap:      policy.SoftCap,
				DailyCap:     policy.DailyCap,
			},
		}
	}

	return &QuotaTracker{
		HighUsageThreshold: DefaultHighUsageThreshold,
		platforms:          platforms,
	}, nil
}

// Platforms returns the tracked platforms in a stable order.
func (t *QuotaTracker) Platforms() []core.Platform {
	out := make([]core.Platform, 0, len(t.platforms))
	for p := range t.platforms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether platform is tracked.
func (t *QuotaTracker) Has(platform core.Platform) bool {
	_, ok := t.platforms[platform]
	return ok
}

// TryReserve consumes one request's cost if it fits in the current window.
// The platform is marked exhausted as soon as the next request would not fit,
// and QuotaExceeded fires once per window on that transition.
func (t *QuotaTracker) TryReserve(platform core.Platform) bool {
	q, ok := t.platforms[platform]
	if !ok {
		return false
	}

	now := t.now()
	var events []Event

	q.mu.Lock()
	q.rollLocked(now)

	if q.state.BackoffUntil != nil && now.Before(*q.state.BackoffUntil) {
		q.mu.Unlock()
		return false
	}

	cost := q.policy.Cost()
	if q.state.Exhausted || q.state.RequestCount+cost > q.state.SoftCap {
		events = q.exhaustLocked(platform, now, events)
		q.mu.Unlock()
		t.Events.publishAll(events)
		return false
	}

	q.state.RequestCount += cost
	if !q.state.HighUsageNotified && utilization(q.state) >= t.threshold()*100 {
		q.state.HighUsageNotified = true
		events = append(events, Event{Type: EventHighUsage, Platform: platform, UtilizationPct: utilization(q.state), At: now})
	}
	if q.state.RequestCount+cost > q.state.SoftCap {
		events = q.exhaustLocked(platform, now, events)
	}
	q.mu.Unlock()

	t.Events.publishAll(events)
	return true
}

// Refund gives back one request's cost reserved in the current window but
// never spent. A refund after the window rolled is a no-op.
func (t *QuotaTracker) Refund(platform core.Platform) {
	q, ok := t.platforms[platform]
	if !ok {
		return
	}
	now := t.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollLocked(now)
	cost := q.policy.Cost()
	if q.state.RequestCount < cost {
		return
	}
	q.state.RequestCount -= cost
	q.state.Exhausted = q.state.RequestCount+cost > q.state.SoftCap
}

// ResetWindow clears the counters and starts a new window at the clock time.
func (t *QuotaTracker) ResetWindow(platform core.Platform) {
	q, ok := t.platforms[platform]
	if !ok {
		return
	}
	now := t.now()

	q.mu.Lock()
	q.resetLocked(now)
	q.state.BackoffUntil = nil
	q.mu.Unlock()
}

// Record429 blocks a platform until retryAfter has elapsed after it rejected
// a request for rate limiting. A non-positive retryAfter blocks until the end
// of the current window. The window's counters are left alone, so the platform
// resumes with its remaining budget once the block expires.
func (t *QuotaTracker) Record429(platform core.Platform, retryAfter time.Duration) {
	q, ok := t.platforms[platform]
	if !ok {
		return
	}
	now := t.now()
	var events []Event

	q.mu.Lock()
	q.rollLocked(now)
	until := q.state.WindowEnd()
	if retryAfter > 0 {
		until = now.Add(retryAfter)
	}
	alreadyBlocked := q.state.BackoffUntil != nil && now.Before(*q.state.BackoffUntil)
	if !alreadyBlocked || until.After(*q.state.BackoffUntil) {
		q.state.BackoffUntil = &until
	}
	q.state.Last429At = &now
	if !alreadyBlocked {
		events = append(events, Event{Type: EventQuotaExceeded, Platform: platform, UtilizationPct: utilization(q.state), Until: &until, At: now})
	}
	q.mu.Unlock()

	t.Events.publishAll(events)
}

// Restore seeds a platform's counters from persisted state. State from an
// already expired window is ignored.
func (t *QuotaTracker) Restore(state core.QuotaState) bool {
	q, ok := t.platforms[state.Platform]
	if !ok || state.WindowStart.IsZero() {
		return false
	}
	now := t.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollLocked(now)
	if !state.WindowStart.Add(q.policy.WindowLength()).After(now) {
		return false
	}
	if q.policy.DailyCap && !sameUTCDay(state.WindowStart, q.state.WindowStart) {
		return false
	}

	q.state.WindowStart = state.WindowStart
	q.state.RequestCount = max(state.RequestCount, 0)
	q.state.Exhausted = q.state.RequestCount+q.policy.Cost() > q.state.SoftCap
	q.exceededNotified = q.state.Exhausted
	q.state.HighUsageNotified = utilization(q.state) >= t.threshold()*100
	if state.BackoffUntil != nil && state.BackoffUntil.After(now) {
		until := *state.BackoffUntil
		q.state.BackoffUntil = &until
	}
	q.state.Last429At = state.Last429At
	return true
}

// UsageSnapshot returns the consumption of a platform without mutating it.
func (t *QuotaTracker) UsageSnapshot(platform core.Platform) core.QuotaUsage {
	q, ok := t.platforms[platform]
	if !ok {
		return core.QuotaUsage{Platform: platform}
	}
	now := t.now()

	q.mu.Lock()
	state := q.state
	q.mu.Unlock()

	if state.WindowStart.IsZero() || !now.Before(state.WindowEnd()) {
		state.RequestCount = 0
		state.Exhausted = false
		state.WindowStart = windowStartFor(q.policy, now)
	}

	usage := core.QuotaUsage{
		Platform:       platform,
		Used:           state.RequestCount,
		Cap:            state.SoftCap,
		UtilizationPct: utilization(state),
		Exhausted:      state.Exhausted,
		WindowStart:    state.WindowStart,
		WindowEnd:      state.WindowStart.Add(state.WindowLength),
	}
	if state.BackoffUntil != nil && now.Before(*state.BackoffUntil) {
		until := *state.BackoffUntil
		usage.BackoffUntil = &until
	}
	return usage
}

// States returns a copy of every platform's raw state for persistence.
func (t *QuotaTracker) States() []core.QuotaState {
	out := make([]core.QuotaState, 0, len(t.platforms))
	for _, platform := range t.Platforms() {
		q := t.platforms[platform]
		q.mu.Lock()
		out = append(out, q.state)
		q.mu.Unlock()
	}
	return out
}

func (q *platformQuota) rollLocked(now time.Time) {
	if q.state.WindowStart.IsZero() || !now.Before(q.state.WindowEnd()) {
		q.resetLocked(now)
	}
}

func (q *platformQuota) exhaustLocked(platform core.Platform, now time.Time, events []Event) []Event {
	q.state.Exhausted = true
	if q.exceededNotified {
		return events
	}
	q.exceededNotified = true
	return append(events, Event{Type: EventQuotaExceeded, Platform: platform, UtilizationPct: utilization(q.state), At: now})
}

func (q *platformQuota) resetLocked(now time.Time) {
	q.state.RequestCount = 0
	q.state.Exhausted = false
	q.exceededNotified = false
	q.state.HighUsageNotified = false
	q.state.WindowStart = windowStartFor(q.policy, now)
	q.state.WindowLength = q.policy.WindowLength()
}

func windowStartFor(policy QuotaPolicy, now time.Time) time.Time {
	if policy.DailyCap {
		utc := now.UTC()
		return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	}
	return now
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func utilization(state core.QuotaState) float64 {
	if state.SoftCap <= 0 {
		return 0
	}
	return float64(state.RequestCount) / float64(state.SoftCap) * 100
}

func (t *QuotaTracker) threshold() float64 {
	if t.HighUsageThreshold <= 0 || t.HighUsageThreshold > 1 {
		return DefaultHighUsageThreshold
	}
	return t.HighUsageThreshold
}

func (t *QuotaTracker) now() time.Time {
	if t != nil && t.Clock != nil {
		return t.Clock()
	}
	return time.Now().UTC()
}
