package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"github.com/wolfeidau/entitlements/internal/models"
	"github.com/wolfeidau/entitlements/internal/store"
	"github.com/wolfeidau/entitlements/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/wolfeidau/entitlements/internal/entitlement"

// Provenance records where an effective value came from.
type Provenance string

const (
	ProvenancePlanDefault Provenance = "plan-default"
	ProvenanceOverridden  Provenance = "overridden"
)

// FeatureState is one row of a resolution, used for ordered display.
type FeatureState struct {
	FeatureID  string     `json:"feature_id"`
	Enabled    bool       `json:"enabled"`
	Provenance Provenance `json:"provenance"`
}

// Resolution is the effective entitlement state of an organization at one point in time.
type Resolution struct {
	OrgID      uuid.UUID
	PlanID     catalog.PlanID
	Features   EffectiveFeatureMap
	Provenance map[string]Provenance
	Unmet      []UnmetDependency

	order []string
}

// Entries returns the features in catalog declaration order.
func (r *Resolution) Entries() []FeatureState {
	out := make([]FeatureState, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, FeatureState{
			FeatureID:  id,
			Enabled:    r.Features[id],
			Provenance: r.Provenance[id],
		})
	}
	return out
}

// OverrideResult describes a committed override write.
type OverrideResult struct {
	// PreviousValue is the effective value before the write: the replaced override if there
	// was one, otherwise the plan default.
	PreviousValue bool
	NewValue      bool
	Unmet         []UnmetDependency
	AuditEntry    *models.AuditEntry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithLogger sets the logger used by the resolver.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// Resolver computes effective feature maps and applies overrides.
// It holds no mutable state; the catalogs are immutable and all writes go to the stores.
type Resolver struct {
	features  *catalog.FeatureCatalog
	plans     *catalog.PlanCatalog
	validator *Validator

	overrides store.OverrideStore
	audit     store.AuditLog
	orgs      store.OrganizationStore

	now     func() time.Time
	logger  zerolog.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
}

// NewResolver wires a resolver from its catalogs and stores.
func NewResolver(
	features *catalog.FeatureCatalog,
	plans *catalog.PlanCatalog,
	overrides store.OverrideStore,
	audit store.AuditLog,
	orgs store.OrganizationStore,
	opts ...Option,
) *Resolver {
	r := &Resolver{
		features:  features,
		plans:     plans,
		validator: NewValidator(features),
		overrides: overrides,
		audit:     audit,
		orgs:      orgs,
		now:       time.Now,
		logger:    log.Logger,
		tracer:    otel.Tracer(tracerName),
		metrics:   telemetry.GetMetrics(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Validator returns the dependency validator bound to the resolver's catalog.
func (r *Resolver) Validator() *Validator {
	return r.validator
}

// Resolve computes the effective feature map for an organization on the given plan.
// Overrides win unconditionally over plan defaults. It never writes.
func (r *Resolver) Resolve(ctx context.Context, orgID uuid.UUID, planID catalog.PlanID) (*Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "entitlement.Resolve", trace.WithAttributes(
		attribute.String("org_id", orgID.String()),
		attribute.String("plan_id", planID.String()),
	))
	defer span.End()

	started := time.Now()

	res, err := r.resolve(ctx, orgID, planID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.ResolutionErrors.Add(ctx, 1)
		return nil, err
	}

	r.metrics.ResolutionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("plan_id", planID.String())))
	r.metrics.ResolutionDuration.Record(ctx, float64(time.Since(started).Microseconds())/1000.0)
	if len(res.Unmet) > 0 {
		r.metrics.UnmetDependencyWarn.Add(ctx, int64(len(res.Unmet)))
	}

	return res, nil
}

// ResolveOrg looks up the organization's current plan and resolves against it.
func (r *Resolver) ResolveOrg(ctx context.Context, orgID uuid.UUID) (*Resolution, error) {
	org, err := r.orgs.Get(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	return r.Resolve(ctx, orgID, org.PlanID)
}

func (r *Resolver) resolve(ctx context.Context, orgID uuid.UUID, planID catalog.PlanID) (*Resolution, error) {
	defaults, err := r.plans.DefaultsFor(planID)
	if err != nil {
		return nil, err
	}

	overrides, err := r.overrides.Get(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides: %w", err)
	}

	return r.merge(orgID, planID, defaults, overrides), nil
}

// merge overlays overrides on plan defaults. Both inputs are snapshots already in memory,
// so callers never observe a partially merged map.
func (r *Resolver) merge(orgID uuid.UUID, planID catalog.PlanID, defaults, overrides map[string]bool) *Resolution {
	ids := r.features.IDs()

	res := &Resolution{
		OrgID:      orgID,
		PlanID:     planID,
		Features:   make(EffectiveFeatureMap, len(ids)),
		Provenance: make(map[string]Provenance, len(ids)),
		order:      ids,
	}

	for _, id := range ids {
		if v, ok := overrides[id]; ok {
			res.Features[id] = v
			res.Provenance[id] = ProvenanceOverridden
			continue
		}
		res.Features[id] = defaults[id]
		res.Provenance[id] = ProvenancePlanDefault
	}

	for id := range overrides {
		if !r.features.Has(id) {
			r.logger.Debug().
				Str("org_id", orgID.String()).
				Str("feature_id", id).
				Msg("Ignoring override for feature no longer in catalog")
		}
	}

	res.Unmet = r.validator.UnmetDependencies(res.Features)

	return res
}

// SetOverride writes an explicit value for one feature of an organization and records it in
// the audit log.
//
// Errors:
//   - catalog.ErrFeatureNotFound, store.ErrOrganizationNotFound or a read failure: nothing written.
//   - ErrStoreWriteFailed: the upsert failed, nothing written and no audit entry.
//   - *AuditWriteError (matches ErrAuditWriteFailed): the override IS committed and the returned
//     result is non-nil; only the audit entry is missing.
//
// Dependency warnings in the result are computed from the overrides read back after the write.
func (r *Resolver) SetOverride(ctx context.Context, orgID uuid.UUID, featureID string, value bool, actorID uuid.NullUUID) (*OverrideResult, error) {
	ctx, span := r.tracer.Start(ctx, "entitlement.SetOverride", trace.WithAttributes(
		attribute.String("org_id", orgID.String()),
		attribute.String("feature_id", featureID),
		attribute.Bool("value", value),
	))
	defer span.End()

	logger := r.logger.With().
		Str("org_id", orgID.String()).
		Str("feature_id", featureID).
		Bool("value", value).
		Logger()

	fail := func(err error) (*OverrideResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if _, err := r.features.Get(featureID); err != nil {
		r.metrics.OverrideRejectedTotal.Add(ctx, 1)
		return fail(err)
	}

	org, err := r.orgs.Get(ctx, orgID)
	if err != nil {
		r.metrics.OverrideRejectedTotal.Add(ctx, 1)
		return fail(fmt.Errorf("failed to get organization: %w", err))
	}

	defaults, err := r.plans.DefaultsFor(org.PlanID)
	if err != nil {
		r.metrics.OverrideRejectedTotal.Add(ctx, 1)
		return fail(err)
	}

	// Read before the write so a failing store aborts with nothing changed.
	snapshot, err := r.overrides.Get(ctx, orgID)
	if err != nil {
		r.metrics.OverrideRejectedTotal.Add(ctx, 1)
		return fail(fmt.Errorf("failed to read overrides: %w", err))
	}

	previous, err := r.overrides.Upsert(ctx, orgID, featureID, value, actorID)
	if err != nil {
		r.metrics.StoreWriteFailures.Add(ctx, 1)
		logger.Error().Err(err).Msg("Override write failed")
		return fail(fmt.Errorf("%w: %w", ErrStoreWriteFailed, err))
	}

	r.metrics.OverridesWrittenTotal.Add(ctx, 1)

	// No prior override means the value in effect was the plan default.
	previousEffective := defaults[featureID]
	if previous != nil {
		previousEffective = *previous
	}

	// Warnings describe the stored state after the write, which may include writes that landed
	// between the snapshot and the upsert.
	current, err := r.overrides.Get(ctx, orgID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to re-read overrides, computing warnings from snapshot")
		if snapshot == nil {
			snapshot = make(map[string]bool, 1)
		}
		snapshot[featureID] = value
		current = snapshot
	}
	post := r.merge(orgID, org.PlanID, defaults, current)

	entry := &models.AuditEntry{
		AuditID:    uuid.Must(uuid.NewV7()),
		OrgID:      orgID,
		FeatureID:  featureID,
		OldValue:   previousEffective,
		NewValue:   value,
		ActorID:    actorID,
		ChangeType: models.ChangeTypeOrgOverride,
		CreatedAt:  r.now(),
	}

	result := &OverrideResult{
		PreviousValue: previousEffective,
		NewValue:      value,
		Unmet:         post.Unmet,
		AuditEntry:    entry,
	}

	if len(post.Unmet) > 0 {
		r.metrics.UnmetDependencyWarn.Add(ctx, int64(len(post.Unmet)))
	}

	if err := r.audit.Append(ctx, entry); err != nil {
		r.metrics.AuditWriteFailures.Add(ctx, 1)
		logger.Error().
			Err(err).
			Str("audit_id", entry.AuditID.String()).
			Msg("Override committed but audit append failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "audit write failed")
		return result, &AuditWriteError{Entry: entry, Err: err}
	}

	r.metrics.AuditEntriesTotal.Add(ctx, 1)

	logger.Info().
		Bool("previous", previousEffective).
		Int("unmet_dependencies", len(post.Unmet)).
		Msg("Override set")

	return result, nil
}

// RetryAudit appends an audit entry that previously failed to write. The override it
// describes is not touched.
func (r *Resolver) RetryAudit(ctx context.Context, entry *models.AuditEntry) error {
	if err := r.audit.Append(ctx, entry); err != nil {
		r.metrics.AuditWriteFailures.Add(ctx, 1)
		return &AuditWriteError{Entry: entry, Err: err}
	}

	r.metrics.AuditEntriesTotal.Add(ctx, 1)
	return nil
}
