//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"github.com/wolfeidau/entitlements/internal/models"
	"github.com/wolfeidau/entitlements/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := NewPool(ctx, &PoolConfig{
		ConnString:  fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		AutoMigrate: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Close()
		_ = container.Terminate(ctx)
	})

	return pool
}

func TestIntegration_Stores(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgresContainer(t, ctx)

	orgs := NewOrganizationStore(pool)
	overrides := NewOverrideStore(pool)
	audit := NewAuditLog(pool)

	orgID := uuid.Must(uuid.NewV7())
	require.NoError(t, orgs.Create(ctx, &models.Organization{OrgID: orgID, Name: "Acme", PlanID: catalog.PlanStarter}))

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, RunMigrations(ctx, pool))
	})

	t.Run("organization lifecycle", func(t *testing.T) {
		org, err := orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, catalog.PlanStarter, org.PlanID)

		err = orgs.Create(ctx, &models.Organization{OrgID: orgID, Name: "Dup", PlanID: catalog.PlanStarter})
		require.ErrorIs(t, err, store.ErrOrganizationAlreadyExists)

		require.NoError(t, orgs.UpdatePlan(ctx, orgID, catalog.PlanProfessional))
		org, err = orgs.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, catalog.PlanProfessional, org.PlanID)

		_, err = orgs.Get(ctx, uuid.Must(uuid.NewV7()))
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)

		err = orgs.UpdatePlan(ctx, uuid.Must(uuid.NewV7()), catalog.PlanEnterprise)
		require.ErrorIs(t, err, store.ErrOrganizationNotFound)
	})

	t.Run("override upsert returns previous value", func(t *testing.T) {
		actor := uuid.NullUUID{UUID: uuid.Must(uuid.NewV7()), Valid: true}

		prev, err := overrides.Upsert(ctx, orgID, "sso", false, actor)
		require.NoError(t, err)
		require.Nil(t, prev)

		prev, err = overrides.Upsert(ctx, orgID, "sso", true, uuid.NullUUID{})
		require.NoError(t, err)
		require.NotNil(t, prev)
		require.False(t, *prev)

		current, err := overrides.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, map[string]bool{"sso": true}, current)

		rows, err := overrides.List(ctx, orgID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.False(t, rows[0].UpdatedBy.Valid, "last writer was system initiated")
	})

	t.Run("explicit false is kept", func(t *testing.T) {
		_, err := overrides.Upsert(ctx, orgID, "video-interviews", false, uuid.NullUUID{})
		require.NoError(t, err)

		current, err := overrides.Get(ctx, orgID)
		require.NoError(t, err)
		v, ok := current["video-interviews"]
		require.True(t, ok)
		require.False(t, v)
	})

	t.Run("concurrent upserts see exactly one missing previous", func(t *testing.T) {
		key := "calendar-sync"
		const writers = 20

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			misses int
		)
		for i := range writers {
			wg.Add(1)
			go func(v bool) {
				defer wg.Done()
				prev, err := overrides.Upsert(ctx, orgID, key, v, uuid.NullUUID{})
				assert.NoError(t, err)
				if prev == nil {
					mu.Lock()
					misses++
					mu.Unlock()
				}
			}(i%2 == 0)
		}
		wg.Wait()

		require.Equal(t, 1, misses)
	})

	t.Run("audit log append and list", func(t *testing.T) {
		other := uuid.Must(uuid.NewV7())
		var last *models.AuditEntry
		for _, f := range []string{"first", "second", "third"} {
			last = &models.AuditEntry{OrgID: other, FeatureID: f, NewValue: true, ChangeType: models.ChangeTypeOrgOverride}
			require.NoError(t, audit.Append(ctx, last))
		}

		// retry of an already stored entry
		require.NoError(t, audit.Append(ctx, last))

		entries, err := audit.ListByOrg(ctx, other, 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		require.Equal(t, "third", entries[0].FeatureID)

		limited, err := audit.ListByOrg(ctx, other, 1)
		require.NoError(t, err)
		require.Len(t, limited, 1)
	})
}
