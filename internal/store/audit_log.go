package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/entitlements/internal/models"
)

// AuditLog is an append-only record of entitlement changes.
type AuditLog interface {
	// Append writes an entry. AuditID and CreatedAt are assigned when zero.
	// Appending an entry whose AuditID is already stored is a no-op, so retries are safe.
	// A failed write must be reported, never swallowed.
	Append(ctx context.Context, entry *models.AuditEntry) error

	// ListByOrg returns up to limit entries for an organization, newest first.
	// A limit <= 0 returns all entries.
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.AuditEntry, error)
}
