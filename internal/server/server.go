package server

import (
	"net/http"
	"strings"

	"filippo.io/csrf"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/entitlements/internal/auth"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"github.com/wolfeidau/entitlements/internal/entitlement"
	httpmiddleware "github.com/wolfeidau/entitlements/internal/http"
	"github.com/wolfeidau/entitlements/internal/logger"
	"github.com/wolfeidau/entitlements/internal/store"
)

// Config wires the API to the engine and its stores.
type Config struct {
	Resolver  *entitlement.Resolver
	Features  *catalog.FeatureCatalog
	Plans     *catalog.PlanCatalog
	Overrides store.OverrideStore
	Audit     store.AuditLog

	// Verifier authenticates callers. When nil every request is anonymous and writes are
	// recorded without an actor.
	Verifier *auth.Verifier

	CORSOrigins []string
	TrustProxy  bool
	Logger      zerolog.Logger
}

// Server serves the entitlement JSON API.
type Server struct {
	cfg Config
}

// NewServer creates a server from cfg.
func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Handler returns the API handler with its middleware chain applied.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("GET /v1/catalog/features", s.listFeatures)
	mux.HandleFunc("GET /v1/catalog/plans", s.listPlans)
	mux.HandleFunc("GET /v1/orgs/{orgID}/entitlements", s.getEntitlements)
	mux.HandleFunc("PUT /v1/orgs/{orgID}/features/{featureID}", s.setOverride)
	mux.HandleFunc("GET /v1/orgs/{orgID}/plan-preview", s.previewPlan)
	mux.HandleFunc("GET /v1/orgs/{orgID}/overrides", s.listOverrides)
	mux.HandleFunc("GET /v1/orgs/{orgID}/audit", s.listAudit)

	var handler http.Handler = mux
	if s.cfg.Verifier != nil {
		handler = s.cfg.Verifier.Middleware("/health")(handler)
	}

	// Browsers get cross-origin write protection; bearer token clients send no Origin header
	// and pass straight through.
	protection := csrf.New()
	for _, origin := range s.cfg.CORSOrigins {
		if origin == "*" {
			continue
		}
		if err := protection.AddTrustedOrigin(strings.TrimSuffix(origin, "/")); err != nil {
			return nil, err
		}
	}
	handler = protection.Handler(handler)

	handler = withCORS(s.cfg.CORSOrigins, handler)
	handler = logger.RequestLogger(s.cfg.Logger)(handler)
	handler = httpmiddleware.ClientIPMiddleware(s.cfg.TrustProxy)(handler)

	return handler, nil
}

func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		return h
	}

	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}).Handler(h)
}
