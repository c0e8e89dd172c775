package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfeidau/entitlements/internal/auth"
	"github.com/wolfeidau/entitlements/internal/entitlement"
	"github.com/wolfeidau/entitlements/internal/logger"
	"github.com/wolfeidau/entitlements/internal/server"
	postgresstore "github.com/wolfeidau/entitlements/internal/store/postgres"
	"github.com/wolfeidau/entitlements/internal/telemetry"
)

type ServeCmd struct {
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"ENTITLEMENTS_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"ENTITLEMENTS_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"ENTITLEMENTS_TLS_KEY"`

	CORSOrigins []string `help:"allowed CORS origins for browser clients" env:"ENTITLEMENTS_CORS_ORIGINS"`
	TrustProxy  bool     `help:"trust X-Forwarded-For and X-Real-IP headers" default:"false" env:"ENTITLEMENTS_TRUST_PROXY"`

	JWT JWTFlags `embed:"" prefix:"jwt-"`

	Tracing          bool          `help:"enable tracing and metrics export over OTLP" default:"false" env:"ENTITLEMENTS_TRACING"`
	TraceSampleRatio float64       `help:"fraction of root spans exported, between 0 and 1" default:"1" env:"ENTITLEMENTS_TRACE_SAMPLE_RATIO"`
	MetricInterval   time.Duration `help:"how often metrics are exported" default:"10s" env:"ENTITLEMENTS_METRIC_INTERVAL"`

	Catalog CatalogFlags `embed:"" prefix:"catalog-"`
	Store   StoreFlags   `embed:""`
}

// JWTFlags configures bearer token verification. Authentication is disabled when no key is set.
type JWTFlags struct {
	PublicKey string `help:"PEM encoded ES256 public key used to verify bearer tokens" env:"ENTITLEMENTS_JWT_PUBLIC_KEY"`
	Issuer    string `help:"required token issuer" env:"ENTITLEMENTS_JWT_ISSUER"`
	Audience  string `help:"required token audience" env:"ENTITLEMENTS_JWT_AUDIENCE"`
}

func (c *ServeCmd) Validate() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("--cert and --key must be provided together")
	}
	if c.TraceSampleRatio <= 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("--trace-sample-ratio must be in (0, 1], got %v", c.TraceSampleRatio)
	}
	if c.MetricInterval <= 0 {
		return errors.New("--metric-interval must be positive")
	}
	return nil
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "entitlements", globals.Version, telemetry.Options{
			SampleRatio:    c.TraceSampleRatio,
			MetricInterval: c.MetricInterval,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	features, plans, err := c.Catalog.load()
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	log.Info().Int("features", features.Len()).Int("plans", len(plans.All())).Msg("Catalog loaded")

	st, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if st.pool != nil {
		go postgresstore.MonitorPool(ctx, st.pool, 30*time.Second)
	}

	var verifier *auth.Verifier
	if c.JWT.PublicKey != "" {
		verifier, err = auth.NewVerifier(c.JWT.PublicKey, c.JWT.Issuer, c.JWT.Audience)
		if err != nil {
			return fmt.Errorf("failed to create JWT verifier: %w", err)
		}
	} else {
		log.Warn().Msg("No JWT public key configured, authentication is disabled and writes have no actor")
	}

	resolver := entitlement.NewResolver(features, plans, st.overrides, st.audit, st.orgs, entitlement.WithLogger(log))

	handler, err := server.NewServer(server.Config{
		Resolver:    resolver,
		Features:    features,
		Plans:       plans,
		Overrides:   st.overrides,
		Audit:       st.audit,
		Verifier:    verifier,
		CORSOrigins: c.CORSOrigins,
		TrustProxy:  c.TrustProxy,
		Logger:      log,
	}).Handler()
	if err != nil {
		return fmt.Errorf("failed to build handler: %w", err)
	}

	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Bool("auth", verifier != nil).Msg("Listening")
		if c.Cert != "" {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
