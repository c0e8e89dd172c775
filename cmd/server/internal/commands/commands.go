package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"github.com/wolfeidau/entitlements/internal/models"
	"github.com/wolfeidau/entitlements/internal/store"
	memorystore "github.com/wolfeidau/entitlements/internal/store/memory"
	postgresstore "github.com/wolfeidau/entitlements/internal/store/postgres"
)

type Globals struct {
	Debug   bool
	Version string
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

// CatalogFlags selects the feature and plan definitions.
type CatalogFlags struct {
	File string `help:"feature and plan definitions file (YAML or JSON); defaults to the built-in catalog" type:"existingfile" env:"ENTITLEMENTS_CATALOG_FILE"`
}

func (c *CatalogFlags) load() (*catalog.FeatureCatalog, *catalog.PlanCatalog, error) {
	if c.File == "" {
		return catalog.LoadDefault()
	}
	return catalog.LoadFile(c.File)
}

// StoreFlags selects and configures the persistence backend.
type StoreFlags struct {
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"ENTITLEMENTS_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`

	// Seed organizations are created at startup if missing, mostly useful with the memory store.
	SeedOrgs []string `help:"organizations to create at startup as <org-uuid>=<plan>" env:"ENTITLEMENTS_SEED_ORGS"`
}

type PostgresStoreFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	MaxConns        int32         `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`
	StartupTimeout  time.Duration `help:"how long to retry the initial connection" default:"30s"`

	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"ENTITLEMENTS_POSTGRES_AUTO_MIGRATE"`
}

func (s *StoreFlags) Validate() error {
	if s.StoreType == "postgres" && s.PostgresStore.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	for _, seed := range s.SeedOrgs {
		if _, _, err := parseSeedOrg(seed); err != nil {
			return err
		}
	}
	return nil
}

type stores struct {
	orgs      store.OrganizationStore
	overrides store.OverrideStore
	audit     store.AuditLog

	// pool is nil for the memory store.
	pool *pgxpool.Pool
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *StoreFlags) open(ctx context.Context) (*stores, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var st *stores

	switch s.StoreType {
	case "postgres":
		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      s.PostgresStore.ConnString,
			MaxConns:        s.PostgresStore.MaxConns,
			MinConns:        s.PostgresStore.MinConns,
			MaxConnLifetime: s.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: s.PostgresStore.MaxConnIdleTime,
			StartupTimeout:  s.PostgresStore.StartupTimeout,
			AutoMigrate:     s.PostgresStore.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		st = &stores{
			orgs:      postgresstore.NewOrganizationStore(pool),
			overrides: postgresstore.NewOverrideStore(pool),
			audit:     postgresstore.NewAuditLog(pool),
			pool:      pool,
		}
		log.Info().Msg("Using PostgreSQL stores with shared connection pool")

	default:
		st = &stores{
			orgs:      memorystore.NewOrganizationStore(),
			overrides: memorystore.NewOverrideStore(),
			audit:     memorystore.NewAuditLog(),
		}
		log.Info().Msg("Using in-memory stores")
	}

	if err := seedOrganizations(ctx, st.orgs, s.SeedOrgs); err != nil {
		st.Close()
		return nil, err
	}

	return st, nil
}

func parseSeedOrg(seed string) (uuid.UUID, catalog.PlanID, error) {
	id, plan, ok := strings.Cut(seed, "=")
	if !ok {
		return uuid.Nil, "", fmt.Errorf("invalid seed org %q: expected <org-uuid>=<plan>", seed)
	}

	orgID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid seed org %q: %w", seed, err)
	}

	planID := catalog.PlanID(plan)
	if !planID.Valid() {
		return uuid.Nil, "", fmt.Errorf("invalid seed org %q: unknown plan %q", seed, plan)
	}

	return orgID, planID, nil
}

func seedOrganizations(ctx context.Context, orgs store.OrganizationStore, seeds []string) error {
	for _, seed := range seeds {
		orgID, planID, err := parseSeedOrg(seed)
		if err != nil {
			return err
		}

		err = orgs.Create(ctx, &models.Organization{OrgID: orgID, Name: orgID.String(), PlanID: planID})
		if err != nil && !errors.Is(err, store.ErrOrganizationAlreadyExists) {
			return fmt.Errorf("failed to seed organization %s: %w", orgID, err)
		}

		log.Info().Str("org_id", orgID.String()).Str("plan_id", planID.String()).Msg("Seeded organization")
	}
	return nil
}
