// Package policy resolves SLA policy targets for ticket priorities.
package policy

import (
	"context"
	"fmt"

	"github.com/servicedesk-io/sla-engine/internal/models"
	"github.com/servicedesk-io/sla-engine/internal/repository"
)

// Resolver is a pure lookup over policy targets. The absence of a target for
// a priority means that SLA type is simply not tracked; callers must treat
// models.ErrNotFound from ResolveTarget accordingly, not as a failure.
type Resolver struct {
	repo repository.SlaRepository
}

// NewResolver creates a resolver over the given repository.
func NewResolver(repo repository.SlaRepository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveTarget returns the target for (policy, priority).
func (r *Resolver) ResolveTarget(ctx context.Context, policyID, priorityID int64) (*models.SlaPolicyTarget, error) {
	target, err := r.repo.GetTarget(ctx, policyID, priorityID)
	if err != nil {
		return nil, err
	}
	if err := validateEscalationLadder(target); err != nil {
		return nil, err
	}
	return target, nil
}

// ResolvePolicy returns the named policy, falling back to the tenant default
// when policyID is zero.
func (r *Resolver) ResolvePolicy(ctx context.Context, tenantID string, policyID int64) (*models.SlaPolicy, error) {
	if policyID == 0 {
		return r.repo.GetDefaultPolicy(ctx, tenantID)
	}
	return r.repo.GetPolicy(ctx, tenantID, policyID)
}

// validateEscalationLadder guards the non-decreasing escalation invariant on
// the read path as well; a row edited out from under us is a configuration
// error, not a panic at notification time.
func validateEscalationLadder(target *models.SlaPolicyTarget) error {
	last := -1
	for i, p := range []*int{target.Escalation1Percent, target.Escalation2Percent, target.Escalation3Percent} {
		if p == nil {
			continue
		}
		if *p < last {
			return fmt.Errorf("target %d escalation_%d_percent decreases: %w", target.ID, i+1, models.ErrConfiguration)
		}
		last = *p
	}
	return nil
}
