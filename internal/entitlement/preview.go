package entitlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FeatureChange is a feature whose effective value would flip under a different plan.
type FeatureChange struct {
	FeatureID string `json:"feature_id"`
	From      bool   `json:"from"`
	To        bool   `json:"to"`
}

// PlanPreview answers "what would change if this plan were applied".
// Overridden features never appear in Changes since overrides win over any plan.
type PlanPreview struct {
	OrgID    uuid.UUID
	FromPlan catalog.PlanID
	ToPlan   catalog.PlanID
	Changes  []FeatureChange

	// Proposed is the resolution the organization would have on ToPlan.
	Proposed *Resolution
}

// PreviewPlan compares the organization's current resolution with the one it would have on
// target. It reads overrides once and writes nothing.
func (r *Resolver) PreviewPlan(ctx context.Context, orgID uuid.UUID, target catalog.PlanID) (*PlanPreview, error) {
	ctx, span := r.tracer.Start(ctx, "entitlement.PreviewPlan", trace.WithAttributes(
		attribute.String("org_id", orgID.String()),
		attribute.String("target_plan_id", target.String()),
	))
	defer span.End()

	preview, err := r.previewPlan(ctx, orgID, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	r.metrics.PlanPreviewsTotal.Add(ctx, 1)
	return preview, nil
}

func (r *Resolver) previewPlan(ctx context.Context, orgID uuid.UUID, target catalog.PlanID) (*PlanPreview, error) {
	targetDefaults, err := r.plans.DefaultsFor(target)
	if err != nil {
		return nil, err
	}

	org, err := r.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	currentDefaults, err := r.plans.DefaultsFor(org.PlanID)
	if err != nil {
		return nil, err
	}

	overrides, err := r.overrides.Get(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}

	current := r.merge(orgID, org.PlanID, currentDefaults, overrides)
	proposed := r.merge(orgID, target, targetDefaults, overrides)

	preview := &PlanPreview{
		OrgID:    orgID,
		FromPlan: org.PlanID,
		ToPlan:   target,
		Proposed: proposed,
	}

	for _, id := range r.features.IDs() {
		if current.Features[id] != proposed.Features[id] {
			preview.Changes = append(preview.Changes, FeatureChange{
				FeatureID: id,
				From:      current.Features[id],
				To:        proposed.Features[id],
			})
		}
	}

	return preview, nil
}
