package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/entitlements/internal/auth"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"github.com/wolfeidau/entitlements/internal/entitlement"
	"github.com/wolfeidau/entitlements/internal/models"
	"github.com/wolfeidau/entitlements/internal/store"
	"github.com/wolfeidau/entitlements/internal/store/memory"
)

type testServer struct {
	*httptest.Server
	orgID     uuid.UUID
	overrides *memory.OverrideStore
	audit     store.AuditLog
}

type brokenAuditLog struct {
	*memory.AuditLog
}

func (brokenAuditLog) Append(context.Context, *models.AuditEntry) error {
	return errors.New("audit table unavailable")
}

type brokenOverrideStore struct {
	*memory.OverrideStore
}

func (brokenOverrideStore) Upsert(context.Context, uuid.UUID, string, bool, uuid.NullUUID) (*bool, error) {
	return nil, errors.New("connection reset")
}

type unreadableOverrideStore struct {
	*memory.OverrideStore
}

func (unreadableOverrideStore) Get(context.Context, uuid.UUID) (map[string]bool, error) {
	return nil, errors.New(`ERROR: relation "feature_overrides" does not exist (SQLSTATE 42P01)`)
}

func newTestServer(t *testing.T, audit store.AuditLog, verifier *auth.Verifier, wrap func(store.OverrideStore) store.OverrideStore) *testServer {
	t.Helper()

	features, plans, err := catalog.LoadDefault()
	require.NoError(t, err)

	orgs := memory.NewOrganizationStore()
	orgID := uuid.Must(uuid.NewV7())
	require.NoError(t, orgs.Create(context.Background(), &models.Organization{OrgID: orgID, Name: "Acme", PlanID: catalog.PlanStarter}))

	overrides := memory.NewOverrideStore()
	if audit == nil {
		audit = memory.NewAuditLog()
	}

	var engineOverrides store.OverrideStore = overrides
	if wrap != nil {
		engineOverrides = wrap(overrides)
	}

	resolver := entitlement.NewResolver(features, plans, engineOverrides, audit, orgs, entitlement.WithLogger(zerolog.Nop()))

	handler, err := NewServer(Config{
		Resolver:  resolver,
		Features:  features,
		Plans:     plans,
		Overrides: overrides,
		Audit:     audit,
		Verifier:  verifier,
		Logger:    zerolog.Nop(),
	}).Handler()
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, orgID: orgID, overrides: overrides, audit: audit}
}

func (ts *testServer) do(t *testing.T, method, path, body, token string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}

	return resp, out
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, nil, nil, nil)

	resp, body := ts.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

func TestServer_Catalog(t *testing.T) {
	ts := newTestServer(t, nil, nil, nil)

	resp, body := ts.do(t, http.MethodGet, "/v1/catalog/features", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	features := body["features"].([]any)
	require.Len(t, features, 18)
	require.Equal(t, "video-interviews", features[0].(map[string]any)["id"])

	resp, body = ts.do(t, http.MethodGet, "/v1/catalog/plans", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["plans"], 3)
}

func TestServer_Entitlements(t *testing.T) {
	ts := newTestServer(t, nil, nil, nil)

	t.Run("resolves in catalog order", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/v1/orgs/"+ts.orgID.String()+"/entitlements", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "starter", body["plan_id"])

		features := body["features"].([]any)
		first := features[0].(map[string]any)
		require.Equal(t, "video-interviews", first["feature_id"])
		require.Equal(t, true, first["enabled"])
		require.Equal(t, "plan-default", first["provenance"])
		require.Empty(t, body["unmet_dependencies"])
	})

	t.Run("unknown org", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/v1/orgs/"+uuid.Must(uuid.NewV7()).String()+"/entitlements", "", "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, "organization_not_found", body["code"])
	})

	t.Run("malformed org id", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodGet, "/v1/orgs/acme/entitlements", "", "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("nil org id", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/v1/orgs/"+uuid.Nil.String()+"/entitlements", "", "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "bad_request", body["code"])
	})

	t.Run("internal errors hide store details", func(t *testing.T) {
		broken := newTestServer(t, nil, nil, func(s store.OverrideStore) store.OverrideStore {
			return unreadableOverrideStore{OverrideStore: s.(*memory.OverrideStore)}
		})

		resp, body := broken.do(t, http.MethodGet, "/v1/orgs/"+broken.orgID.String()+"/entitlements", "", "")
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.Equal(t, "internal", body["code"])
		require.Equal(t, http.StatusText(http.StatusInternalServerError), body["message"])
		require.NotContains(t, body["message"], "SQLSTATE")
	})
}

func TestServer_SetOverride(t *testing.T) {
	t.Run("transcription then disabling video warns", func(t *testing.T) {
		ts := newTestServer(t, nil, nil, nil)
		base := "/v1/orgs/" + ts.orgID.String() + "/features/"

		resp, body := ts.do(t, http.MethodPut, base+"realtime-transcription", `{"enabled": true}`, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, false, body["previous_value"])
		require.Equal(t, true, body["new_value"])
		require.Equal(t, true, body["audit_logged"])
		require.Empty(t, body["unmet_dependencies"])

		resp, body = ts.do(t, http.MethodPut, base+"video-interviews", `{"enabled": false}`, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, true, body["previous_value"])

		unmet := body["unmet_dependencies"].([]any)
		require.Len(t, unmet, 1)
		warning := unmet[0].(map[string]any)
		require.Equal(t, "realtime-transcription", warning["feature_id"])
		require.Equal(t, []any{"video-interviews", "audio-interviews"}, warning["missing"])

		resp, body = ts.do(t, http.MethodGet, "/v1/orgs/"+ts.orgID.String()+"/overrides", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Len(t, body["overrides"], 2)

		resp, body = ts.do(t, http.MethodGet, "/v1/orgs/"+ts.orgID.String()+"/audit?limit=1", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		entries := body["entries"].([]any)
		require.Len(t, entries, 1)
		latest := entries[0].(map[string]any)
		require.Equal(t, "video-interviews", latest["feature_id"])
		require.Equal(t, "org_override", latest["change_type"])
		require.Nil(t, latest["actor_id"])
	})

	t.Run("unknown feature", func(t *testing.T) {
		ts := newTestServer(t, nil, nil, nil)

		resp, body := ts.do(t, http.MethodPut, "/v1/orgs/"+ts.orgID.String()+"/features/holograms", `{"enabled": true}`, "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		require.Equal(t, "feature_not_found", body["code"])
	})

	t.Run("missing enabled", func(t *testing.T) {
		ts := newTestServer(t, nil, nil, nil)

		resp, _ := ts.do(t, http.MethodPut, "/v1/orgs/"+ts.orgID.String()+"/features/sso", `{}`, "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("store write failure", func(t *testing.T) {
		ts := newTestServer(t, nil, nil, func(s store.OverrideStore) store.OverrideStore {
			return brokenOverrideStore{OverrideStore: s.(*memory.OverrideStore)}
		})

		resp, body := ts.do(t, http.MethodPut, "/v1/orgs/"+ts.orgID.String()+"/features/sso", `{"enabled": true}`, "")
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
		require.Equal(t, "store_write_failed", body["code"])
	})

	t.Run("audit failure is reported but the override stands", func(t *testing.T) {
		ts := newTestServer(t, brokenAuditLog{AuditLog: memory.NewAuditLog()}, nil, nil)

		resp, body := ts.do(t, http.MethodPut, "/v1/orgs/"+ts.orgID.String()+"/features/sso", `{"enabled": true}`, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, false, body["audit_logged"])
		require.NotEmpty(t, body["warning"])

		current, err := ts.overrides.Get(context.Background(), ts.orgID)
		require.NoError(t, err)
		require.Equal(t, map[string]bool{"sso": true}, current)
	})
}

func TestServer_PlanPreview(t *testing.T) {
	ts := newTestServer(t, nil, nil, nil)
	base := "/v1/orgs/" + ts.orgID.String()

	resp, body := ts.do(t, http.MethodGet, base+"/plan-preview?plan=professional", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "starter", body["from_plan"])
	require.Equal(t, "professional", body["to_plan"])
	require.NotEmpty(t, body["changes"])

	resp, _ = ts.do(t, http.MethodGet, base+"/plan-preview?plan=platinum", "", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, base+"/plan-preview", "", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Auth(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	verifier, err := auth.NewVerifier(string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), "", "")
	require.NoError(t, err)

	ts := newTestServer(t, nil, verifier, nil)

	token := func(orgID uuid.UUID, actorID uuid.UUID, roles ...auth.Role) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodES256, &auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   actorID.String(),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			OrgID: orgID.String(),
			Roles: roles,
		}).SignedString(key)
		require.NoError(t, err)
		return s
	}

	path := fmt.Sprintf("/v1/orgs/%s/features/sso", ts.orgID)

	t.Run("health is public", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodGet, "/health", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("no token", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodPut, path, `{"enabled": true}`, "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, "unauthenticated", body["code"])
	})

	t.Run("operator cannot reach another org through the nil id", func(t *testing.T) {
		operator := token(ts.orgID, uuid.Must(uuid.NewV7()), auth.RoleOperator)
		other := uuid.Must(uuid.NewV7())

		for _, suffix := range []string{"/audit", "/overrides", "/entitlements"} {
			resp, _ := ts.do(t, http.MethodGet, "/v1/orgs/"+other.String()+suffix, "", operator)
			require.Equal(t, http.StatusForbidden, resp.StatusCode, suffix)

			resp, body := ts.do(t, http.MethodGet, "/v1/orgs/"+uuid.Nil.String()+suffix, "", operator)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, suffix)
			require.Equal(t, "bad_request", body["code"], suffix)
		}

		resp, _ := ts.do(t, http.MethodPut, "/v1/orgs/"+uuid.Nil.String()+"/features/sso", `{"enabled": true}`, operator)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("viewer cannot write", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodPut, path, `{"enabled": true}`, token(ts.orgID, uuid.Must(uuid.NewV7()), auth.RoleViewer))
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
		require.Equal(t, "permission_denied", body["code"])
	})

	t.Run("operator of another org cannot write", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodPut, path, `{"enabled": true}`, token(uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7()), auth.RoleOperator))
		require.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("operator write records the actor", func(t *testing.T) {
		actorID := uuid.Must(uuid.NewV7())
		resp, _ := ts.do(t, http.MethodPut, path, `{"enabled": true}`, token(ts.orgID, actorID, auth.RoleOperator))
		require.Equal(t, http.StatusOK, resp.StatusCode)

		entries, err := ts.audit.ListByOrg(context.Background(), ts.orgID, 1)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.Equal(t, uuid.NullUUID{UUID: actorID, Valid: true}, entries[0].ActorID)
	})
}
