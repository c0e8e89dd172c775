package models

import (
	"time"

	"github.com/google/uuid"
)

// FeatureOverride is an explicit per-organization value for one feature.
// At most one exists per (OrgID, FeatureID); writes update it in place.
// An override set to false is distinct from having no override at all.
type FeatureOverride struct {
	OrgID     uuid.UUID
	FeatureID string
	Value     bool

	UpdatedBy uuid.NullUUID // Invalid when the change was system-initiated
	CreatedAt time.Time
	UpdatedAt time.Time
}
