package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeTypeOrgOverride is the only change type written by the entitlement engine.
// Other producers may append entries with their own types.
const ChangeTypeOrgOverride = "org_override"

// AuditEntry records one successful override write. Entries are immutable once appended.
type AuditEntry struct {
	AuditID    uuid.UUID // UUIDv7, assigned on append when zero
	OrgID      uuid.UUID
	FeatureID  string
	OldValue   bool // effective value before the write
	NewValue   bool
	ActorID    uuid.NullUUID
	ChangeType string
	CreatedAt  time.Time
}
