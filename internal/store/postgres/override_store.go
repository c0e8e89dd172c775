package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/entitlements/internal/models"
)

// OverrideStore implements store.OverrideStore using PostgreSQL.
type OverrideStore struct {
	pool *pgxpool.Pool
}

// NewOverrideStore creates a PostgreSQL-backed override store sharing the given pool.
func NewOverrideStore(pool *pgxpool.Pool) *OverrideStore {
	return &OverrideStore{pool: pool}
}

// Get returns the explicit overrides for an organization.
func (s *OverrideStore) Get(ctx context.Context, orgID uuid.UUID) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT feature_id, value FROM feature_overrides WHERE org_id = $1
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", mapPostgresError(err))
	}
	defer rows.Close()

	overrides := make(map[string]bool)
	for rows.Next() {
		var (
			featureID string
			value     bool
		)
		if err := rows.Scan(&featureID, &value); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides[featureID] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating overrides: %w", mapPostgresError(err))
	}

	return overrides, nil
}

// Upsert writes the override and returns the value it replaced.
//
// A transaction-scoped advisory lock on the (org, feature) key serializes concurrent writers,
// including the first insert where there is no row for SELECT ... FOR UPDATE to lock.
func (s *OverrideStore) Upsert(ctx context.Context, orgID uuid.UUID, featureID string, value bool, actorID uuid.NullUUID) (*bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2, 0))`, orgID, featureID); err != nil {
		return nil, fmt.Errorf("failed to lock override: %w", mapPostgresError(err))
	}

	var previous *bool
	var current bool
	err = tx.QueryRow(ctx, `
		SELECT value FROM feature_overrides WHERE org_id = $1 AND feature_id = $2
	`, orgID, featureID).Scan(&current)
	switch {
	case err == nil:
		previous = &current
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("failed to read override: %w", mapPostgresError(err))
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		INSERT INTO feature_overrides (org_id, feature_id, value, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (org_id, feature_id) DO UPDATE SET
			value = EXCLUDED.value,
			updated_by = EXCLUDED.updated_by,
			updated_at = EXCLUDED.updated_at
	`, orgID, featureID, value, actorID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert override: %w", mapPostgresError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit override: %w", mapPostgresError(err))
	}

	return previous, nil
}

// List returns the override rows for an organization ordered by feature id.
func (s *OverrideStore) List(ctx context.Context, orgID uuid.UUID) ([]*models.FeatureOverride, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT org_id, feature_id, value, updated_by, created_at, updated_at
		FROM feature_overrides
		WHERE org_id = $1
		ORDER BY feature_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var overrides []*models.FeatureOverride
	for rows.Next() {
		var o models.FeatureOverride
		if err := rows.Scan(&o.OrgID, &o.FeatureID, &o.Value, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating overrides: %w", mapPostgresError(err))
	}

	return overrides, nil
}
