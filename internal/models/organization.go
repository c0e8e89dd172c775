package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/entitlements/internal/catalog"
)

// Organization represents a customer organization (tenant).
// The entitlement engine only reads PlanID; plan changes happen in the organization service.
type Organization struct {
	OrgID     uuid.UUID // UUIDv7
	Name      string
	PlanID    catalog.PlanID
	CreatedAt time.Time
	UpdatedAt time.Time
}
