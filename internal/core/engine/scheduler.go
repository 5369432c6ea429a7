package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

// Scheduler selects the batch of targets to check on a tick.
type Scheduler struct {
	targets *TargetStore
	quota   *QuotaTracker
}

// NewScheduler creates a scheduler over a target store and quota tracker.
func NewScheduler(targets *TargetStore, quota *QuotaTracker) (*Scheduler, error) {
	if targets == nil || quota == nil {
		return nil, fmt.Errorf("target store and quota tracker are required")
	}
	return &Scheduler{targets: targets, quota: quota}, nil
}

// SelectBatch returns the due targets that fit in their platform quota,
// highest priority first. Every returned target is marked in flight.
// Targets that did not fit stay due for the next tick.
func (s *Scheduler) SelectBatch(now time.Time) []core.Target {
	due := s.targets.DueTargets(now)
	SortByPriority(due)

	refused := make(map[core.Platform]bool)
	batch := make([]core.Target, 0, len(due))
	for _, t := range due {
		if refused[t.Platform] {
			continue
		}
		if !s.quota.TryReserve(t.Platform) {
			refused[t.Platform] = true
			continue
		}
		dispatched, ok := s.targets.MarkDispatched(t.ID, now)
		if !ok {
			s.quota.Refund(t.Platform)
			continue
		}
		batch = append(batch, dispatched)
	}
	return batch
}

// SortByPriority orders targets by priority, then earliest eligibility, then ID.
func SortByPriority(targets []core.Target) {
	sort.SliceStable(targets, func(i, j int) bool {
		a, b := targets[i], targets[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.NextEligibleAt.Equal(b.NextEligibleAt) {
			return a.NextEligibleAt.Before(b.NextEligibleAt)
		}
		return a.ID < b.ID
	})
}
