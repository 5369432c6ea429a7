package engine

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

// PriorityMultipliers scale a platform's minimum interval per tier.
type PriorityMultipliers struct {
	High   int
	Medium int
	Low    int
}

// DefaultPriorityMultipliers returns the 1x/2x/4x tiers.
func DefaultPriorityMultipliers() PriorityMultipliers {
	return PriorityMultipliers{High: 1, Medium: 2, Low: 4}
}

// For returns the multiplier for p, never less than one.
func (m PriorityMultipliers) For(p core.Priority) int {
	var v int
	switch p {
	case core.PriorityHigh:
		v = m.High
	case core.PriorityLow:
		v = m.Low
	default:
		v = m.Medium
	}
	if v < 1 {
		return 1
	}
	return v
}

// Validate rejects non-positive or inverted tiers.
func (m PriorityMultipliers) Validate() error {
	if m.High < 1 || m.Medium < 1 || m.Low < 1 {
		return fmt.Errorf("priority multipliers must be positive (high=%d medium=%d low=%d)", m.High, m.Medium, m.Low)
	}
	if m.High > m.Medium || m.Medium > m.Low {
		return fmt.Errorf("priority multipliers must not decrease from high to low (high=%d medium=%d low=%d)", m.High, m.Medium, m.Low)
	}
	return nil
}

// ErrUnknownPlatform is returned when a target names an unconfigured platform.
var ErrUnknownPlatform = errors.New("unknown platform")

// SyncResult summarizes a reconciliation against a directory listing.
type SyncResult struct {
	Added   []string
	Updated []string
	Removed []string
}

// TargetStore owns the scheduling records of every watched target.
// All accessors return copies.
type TargetStore struct {
	Clock  func() time.Time
	Rand   func(n int64) int64
	Events *EventBus

	minIntervals map[core.Platform]time.Duration
	multipliers  PriorityMultipliers

	mu             sync.Mutex
	targets        map[string]*core.Target
	pendingRemoval map[string]struct{}
}

// NewTargetStore creates an empty store for the given platform intervals.
func NewTargetStore(minIntervals map[core.Platform]time.Duration, multipliers PriorityMultipliers) (*TargetStore, error) {
	if len(minIntervals) == 0 {
		return nil, fmt.Errorf("at least one platform interval is required")
	}
	if err := multipliers.Validate(); err != nil {
		return nil, err
	}
	intervals := make(map[core.Platform]time.Duration, len(minIntervals))
	for platform, interval := range minIntervals {
		if interval <= 0 {
			return nil, fmt.Errorf("platform %s: min interval must be positive, got %s", platform, interval)
		}
		intervals[platform] = interval
	}
	return &TargetStore{
		minIntervals:   intervals,
		multipliers:    multipliers,
		targets:        make(map[string]*core.Target),
		pendingRemoval: make(map[string]struct{}),
	}, nil
}

// BaseInterval returns min interval times the priority multiplier.
func (s *TargetStore) BaseInterval(platform core.Platform, priority core.Priority) (time.Duration, error) {
	interval, ok := s.minIntervals[platform]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	return interval * time.Duration(s.multipliers.For(priority)), nil
}

// ValidateEntry reports whether entry could be registered, without
// registering it.
func (s *TargetStore) ValidateEntry(entry core.DirectoryEntry) error {
	_, err := s.validate(entry)
	return err
}

func (s *TargetStore) validate(entry core.DirectoryEntry) (time.Duration, error) {
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return 0, fmt.Errorf("target id is required")
	}
	if !entry.Priority.Valid() {
		return 0, fmt.Errorf("target %s: invalid priority %d", id, int(entry.Priority))
	}
	base, err := s.BaseInterval(entry.Platform, entry.Priority)
	if err != nil {
		return 0, fmt.Errorf("target %s: %w", id, err)
	}
	return base, nil
}

// Register adds a target or updates an existing one.
func (s *TargetStore) Register(id string, platform core.Platform, priority core.Priority) error {
	return s.RegisterTarget(core.DirectoryEntry{ID: id, Platform: platform, Priority: priority})
}

// RegisterTarget adds a target from a directory entry. A new target gets a
// jittered first check in [now, now+BaseInterval). Re-registering keeps the
// scheduling state and only recomputes the base interval.
func (s *TargetStore) RegisterTarget(entry core.DirectoryEntry) error {
	base, err := s.validate(entry)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(entry.ID)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.targets[id]; ok {
		existing.Platform = entry.Platform
		existing.Channel = entry.ChannelOrID()
		existing.Priority = entry.Priority
		existing.BaseInterval = base
		if existing.ConsecutiveFailures == 0 || existing.EffectiveInterval < base {
			existing.EffectiveInterval = base
		}
		existing.Disabled = false
		delete(s.pendingRemoval, id)
		return nil
	}

	s.targets[id] = &core.Target{
		ID:                id,
		Platform:          entry.Platform,
		Channel:           entry.ChannelOrID(),
		Priority:          entry.Priority,
		BaseInterval:      base,
		EffectiveInterval: base,
		NextEligibleAt:    now.Add(s.jitter(base)),
	}
	return nil
}

// Remove drops a target. A target awaiting an outcome is disabled and removed
// once the outcome arrives; the outcome itself is discarded.
func (s *TargetStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[id]
	if !ok {
		return false
	}
	if t.InFlight {
		t.Disabled = true
		s.pendingRemoval[id] = struct{}{}
		return true
	}
	delete(s.targets, id)
	return true
}

// Sync reconciles the store with a full directory listing. Invalid entries are
// skipped and reported in the returned error.
func (s *TargetStore) Sync(entries []core.DirectoryEntry) (SyncResult, error) {
	var result SyncResult
	var errs []error

	listed := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("directory entry without id"))
			continue
		}
		listed[id] = struct{}{}

		before, existed := s.Get(id)
		if err := s.RegisterTarget(entry); err != nil {
			errs = append(errs, err)
			continue
		}
		if !existed {
			result.Added = append(result.Added, id)
			continue
		}
		if before.Platform != entry.Platform || before.Priority != entry.Priority || before.Channel != entry.ChannelOrID() {
			result.Updated = append(result.Updated, id)
		}
	}

	for _, t := range s.List() {
		if _, ok := listed[t.ID]; ok {
			continue
		}
		if s.Remove(t.ID) {
			result.Removed = append(result.Removed, t.ID)
		}
	}

	return result, errors.Join(errs...)
}

// DueTargets returns every target eligible at now, ordered by ID. A circuit
// whose cooldown has elapsed is moved to half-open and reported as closed.
func (s *TargetStore) DueTargets(now time.Time) []core.Target {
	var events []Event

	s.mu.Lock()
	due := make([]core.Target, 0, len(s.targets))
	for _, t := range s.targets {
		if t.Disabled || t.InFlight || now.Before(t.NextEligibleAt) {
			continue
		}
		if t.CircuitOpenUntil != nil {
			if now.Before(*t.CircuitOpenUntil) {
				continue
			}
			t.CircuitOpenUntil = nil
			t.HalfOpen = true
			events = append(events, Event{Type: EventCircuitClosed, Platform: t.Platform, TargetID: t.ID, At: now})
		}
		due = append(due, *t)
	}
	s.mu.Unlock()

	s.Events.publishAll(events)

	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due
}

// MarkDispatched records that a check for id has started.
func (s *TargetStore) MarkDispatched(id string, now time.Time) (core.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[id]
	if !ok || t.Disabled {
		return core.Target{}, false
	}
	t.LastCheckedAt = now
	t.InFlight = true
	return *t, true
}

// Release clears the in-flight flag of a dispatched target that was never
// checked. Its scheduling state is left untouched so it stays due.
func (s *TargetStore) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[id]
	if !ok {
		return
	}
	t.InFlight = false
	if _, pending := s.pendingRemoval[id]; pending {
		delete(s.pendingRemoval, id)
		delete(s.targets, id)
	}
}

// Get returns a copy of the target.
func (s *TargetStore) Get(id string) (core.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.targets[id]
	if !ok {
		return core.Target{}, false
	}
	return *t, true
}

// List returns copies of all targets ordered by ID.
func (s *TargetStore) List() []core.Target {
	s.mu.Lock()
	out := make([]core.Target, 0, len(s.targets))
	for _, t := range s.targets {
		out = append(out, *t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of targets, including those pending removal.
func (s *TargetStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.targets)
}

// CircuitOpenCount returns how many targets are in cooldown at now.
func (s *TargetStore) CircuitOpenCount(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, t := range s.targets {
		if t.CircuitOpen(now) {
			count++
		}
	}
	return count
}

// applyOutcome runs fn on the live record of a completed check and publishes
// the events it returns. Outcomes for removed targets are dropped.
func (s *TargetStore) applyOutcome(id string, fn func(t *core.Target, now time.Time) []Event) bool {
	now := s.now()

	s.mu.Lock()
	t, ok := s.targets[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	t.InFlight = false
	if _, pending := s.pendingRemoval[id]; pending || t.Disabled {
		delete(s.pendingRemoval, id)
		delete(s.targets, id)
		s.mu.Unlock()
		return false
	}
	events := fn(t, now)
	s.mu.Unlock()

	s.Events.publishAll(events)
	return true
}

func (s *TargetStore) jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	var offset int64
	if s.Rand != nil {
		offset = s.Rand(int64(base))
	} else {
		offset = rand.Int64N(int64(base))
	}
	if offset < 0 || offset >= int64(base) {
		offset = 0
	}
	return time.Duration(offset)
}

func (s *TargetStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
