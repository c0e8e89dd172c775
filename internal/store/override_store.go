package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/entitlements/internal/models"
)

// OverrideStore holds per-organization feature overrides keyed by (org, feature).
type OverrideStore interface {
	// Get returns the explicit overrides for an organization.
	// A feature absent from the map has no override, which is not the same as false.
	Get(ctx context.Context, orgID uuid.UUID) (map[string]bool, error)

	// Upsert sets the override for (orgID, featureID) and returns the override value it replaced,
	// or nil if none existed. The read of the previous value and the write are atomic per key:
	// concurrent upserts of the same key serialize and exactly one of them observes nil.
	Upsert(ctx context.Context, orgID uuid.UUID, featureID string, value bool, actorID uuid.NullUUID) (*bool, error)

	// List returns the override rows for an organization ordered by feature id.
	List(ctx context.Context, orgID uuid.UUID) ([]*models.FeatureOverride, error)
}
