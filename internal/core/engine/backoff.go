package engine

import (
	"fmt"
	"time"

	"github.com/livewatch/livewatch/internal/core"
)

// BackoffPolicy controls interval growth and the per-target circuit breaker.
type BackoffPolicy struct {
	MaxMultiplier  int
	FailuresToOpen int
	Cooldown       time.Duration
	MaxCooldown    time.Duration
}

// DefaultBackoffPolicy returns 8x growth, opening after 5 failures for 1h.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxMultiplier:  8,
		FailuresToOpen: 5,
		Cooldown:       time.Hour,
		MaxCooldown:    24 * time.Hour,
	}
}

// Validate checks the policy for configuration errors.
func (p BackoffPolicy) Validate() error {
	if p.MaxMultiplier < 1 {
		return fmt.Errorf("backoff max multiplier must be positive, got %d", p.MaxMultiplier)
	}
	if p.FailuresToOpen < 1 {
		return fmt.Errorf("backoff failures to open must be positive, got %d", p.FailuresToOpen)
	}
	if p.Cooldown <= 0 {
		return fmt.Errorf("backoff cooldown must be positive, got %s", p.Cooldown)
	}
	if p.MaxCooldown < p.Cooldown {
		return fmt.Errorf("backoff max cooldown %s is shorter than cooldown %s", p.MaxCooldown, p.Cooldown)
	}
	return nil
}

// Multiplier returns min(2^failures, MaxMultiplier).
func (p BackoffPolicy) Multiplier(failures int) int {
	limit := max(p.MaxMultiplier, 1)
	m := 1
	for i := 0; i < failures && m < limit; i++ {
		m *= 2
	}
	return min(m, limit)
}

// CooldownFor returns Cooldown doubled once per reopen, capped at MaxCooldown.
func (p BackoffPolicy) CooldownFor(reopens int) time.Duration {
	cooldown := p.Cooldown
	for i := 0; i < reopens && cooldown < p.MaxCooldown; i++ {
		cooldown *= 2
	}
	if p.MaxCooldown > 0 && cooldown > p.MaxCooldown {
		return p.MaxCooldown
	}
	return cooldown
}

// BackoffController applies check outcomes to target records.
type BackoffController struct {
	store  *TargetStore
	policy BackoffPolicy
}

// NewBackoffController binds a policy to a target store.
func NewBackoffController(store *TargetStore, policy BackoffPolicy) (*BackoffController, error) {
	if store == nil {
		return nil, fmt.Errorf("target store is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &BackoffController{store: store, policy: policy}, nil
}

// Policy returns the active policy.
func (c *BackoffController) Policy() BackoffPolicy {
	return c.policy
}

// Record applies one completed check. It returns false when the outcome was
// dropped because the target no longer exists.
func (c *BackoffController) Record(id string, success bool) bool {
	return c.store.applyOutcome(id, func(t *core.Target, now time.Time) []Event {
		if success {
			c.recordSuccess(t, now)
			return nil
		}
		return c.recordFailure(t, now)
	})
}

func (c *BackoffController) recordSuccess(t *core.Target, now time.Time) {
	t.ConsecutiveFailures = 0
	t.EffectiveInterval = t.BaseInterval
	t.NextEligibleAt = now.Add(t.EffectiveInterval)
	t.CircuitOpenUntil = nil
	t.CircuitReopens = 0
	t.HalfOpen = false
}

func (c *BackoffController) recordFailure(t *core.Target, now time.Time) []Event {
	t.ConsecutiveFailures++
	t.EffectiveInterval = t.BaseInterval * time.Duration(c.policy.Multiplier(t.ConsecutiveFailures))
	t.NextEligibleAt = now.Add(t.EffectiveInterval)

	var cooldown time.Duration
	switch {
	case t.HalfOpen:
		t.CircuitReopens++
		cooldown = c.policy.CooldownFor(t.CircuitReopens)
	case t.ConsecutiveFailures >= c.policy.FailuresToOpen:
		cooldown = c.policy.Cooldown
	default:
		return nil
	}

	until := now.Add(cooldown)
	t.CircuitOpenUntil = &until
	t.HalfOpen = false
	if until.After(t.NextEligibleAt) {
		t.NextEligibleAt = until
	}
	return []Event{{Type: EventCircuitOpened, Platform: t.Platform, TargetID: t.ID, Until: &until, At: now}}
}
