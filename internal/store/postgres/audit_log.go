package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/entitlements/internal/models"
)

// AuditLog implements store.AuditLog using PostgreSQL.
type AuditLog struct {
	pool *pgxpool.Pool
}

// NewAuditLog creates a PostgreSQL-backed audit log sharing the given pool.
func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

// Append inserts an entry. Re-appending an entry with an existing AuditID is a no-op,
// which makes retries after an ambiguous failure safe.
func (l *AuditLog) Append(ctx context.Context, entry *models.AuditEntry) error {
	if entry.AuditID == uuid.Nil {
		entry.AuditID = uuid.Must(uuid.NewV7())
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO entitlement_audit_log (
			audit_id, org_id, feature_id, old_value, new_value, actor_id, change_type, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (audit_id) DO NOTHING
	`,
		entry.AuditID,
		entry.OrgID,
		entry.FeatureID,
		entry.OldValue,
		entry.NewValue,
		entry.ActorID,
		entry.ChangeType,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", mapPostgresError(err))
	}

	return nil
}

// ListByOrg returns up to limit entries for an organization, newest first.
func (l *AuditLog) ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT audit_id, org_id, feature_id, old_value, new_value, actor_id, change_type, created_at
		FROM entitlement_audit_log
		WHERE org_id = $1
		ORDER BY created_at DESC, audit_id DESC
	`
	args := []any{orgID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		err := rows.Scan(
			&e.AuditID,
			&e.OrgID,
			&e.FeatureID,
			&e.OldValue,
			&e.NewValue,
			&e.ActorID,
			&e.ChangeType,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", mapPostgresError(err))
	}

	return entries, nil
}
