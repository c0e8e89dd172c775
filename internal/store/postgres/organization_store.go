package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"github.com/wolfeidau/entitlements/internal/models"
	"github.com/wolfeidau/entitlements/internal/store"
)

// OrganizationStore implements store.OrganizationStore using PostgreSQL.
type OrganizationStore struct {
	pool *pgxpool.Pool
}

// NewOrganizationStore creates a PostgreSQL-backed organization store sharing the given pool.
func NewOrganizationStore(pool *pgxpool.Pool) *OrganizationStore {
	return &OrganizationStore{pool: pool}
}

// Create inserts a new organization.
func (s *OrganizationStore) Create(ctx context.Context, org *models.Organization) error {
	now := time.Now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	if org.UpdatedAt.IsZero() {
		org.UpdatedAt = now
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (org_id, name, plan_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, org.OrgID, org.Name, string(org.PlanID), org.CreatedAt, org.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrganizationAlreadyExists
		}
		return fmt.Errorf("failed to create organization: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("org_id", org.OrgID.String()).
		Str("plan_id", org.PlanID.String()).
		Msg("Created organization")

	return nil
}

// Get retrieves an organization by ID.
func (s *OrganizationStore) Get(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	var (
		org    models.Organization
		planID string
	)

	err := s.pool.QueryRow(ctx, `
		SELECT org_id, name, plan_id, created_at, updated_at
		FROM organizations
		WHERE org_id = $1
	`, orgID).Scan(&org.OrgID, &org.Name, &planID, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", mapPostgresError(err))
	}

	org.PlanID = catalog.PlanID(planID)
	return &org, nil
}

// UpdatePlan moves an organization to a different plan.
func (s *OrganizationStore) UpdatePlan(ctx context.Context, orgID uuid.UUID, planID catalog.PlanID) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE organizations SET plan_id = $2, updated_at = $3
		WHERE org_id = $1
	`, orgID, string(planID), time.Now())
	if err != nil {
		return fmt.Errorf("failed to update organization plan: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrOrganizationNotFound
	}

	log.Debug().
		Str("org_id", orgID.String()).
		Str("plan_id", planID.String()).
		Msg("Updated organization plan")

	return nil
}
