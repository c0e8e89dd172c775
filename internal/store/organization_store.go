package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"github.com/wolfeidau/entitlements/internal/models"
)

// Sentinel errors for organization store operations
var (
	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrOrganizationAlreadyExists = errors.New("organization already exists")
)

// OrganizationStore is the read side of the organization service as seen by the entitlement engine.
// Create and UpdatePlan exist for seeding and tests; the engine itself only calls Get.
type OrganizationStore interface {
	// Create creates a new organization in the store.
	// Returns ErrOrganizationAlreadyExists if an organization with the same ID already exists.
	Create(ctx context.Context, org *models.Organization) error

	// Get retrieves an organization by ID.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)

	// UpdatePlan moves an organization to a different plan.
	// Returns ErrOrganizationNotFound if the organization doesn't exist.
	UpdatePlan(ctx context.Context, orgID uuid.UUID, planID catalog.PlanID) error
}
