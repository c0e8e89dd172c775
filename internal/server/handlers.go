package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/entitlements/internal/auth"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"github.com/wolfeidau/entitlements/internal/entitlement"
	httpmiddleware "github.com/wolfeidau/entitlements/internal/http"
)

var errBadRequest = errors.New("bad request")

const maxAuditLimit = 500

type entitlementsResponse struct {
	OrgID    string                        `json:"org_id"`
	PlanID   catalog.PlanID                `json:"plan_id"`
	Features []entitlement.FeatureState    `json:"features"`
	Unmet    []entitlement.UnmetDependency `json:"unmet_dependencies"`
}

type setOverrideRequest struct {
	Enabled *bool `json:"enabled"`
}

type setOverrideResponse struct {
	OrgID         string                        `json:"org_id"`
	FeatureID     string                        `json:"feature_id"`
	PreviousValue bool                          `json:"previous_value"`
	NewValue      bool                          `json:"new_value"`
	Unmet         []entitlement.UnmetDependency `json:"unmet_dependencies"`
	AuditLogged   bool                          `json:"audit_logged"`
	Warning       string                        `json:"warning,omitempty"`
}

type previewResponse struct {
	OrgID    string                        `json:"org_id"`
	FromPlan catalog.PlanID                `json:"from_plan"`
	ToPlan   catalog.PlanID                `json:"to_plan"`
	Changes  []entitlement.FeatureChange   `json:"changes"`
	Unmet    []entitlement.UnmetDependency `json:"unmet_dependencies"`
}

type overrideResponse struct {
	FeatureID string    `json:"feature_id"`
	Value     bool      `json:"value"`
	UpdatedBy *string   `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

type auditResponse struct {
	AuditID    string    `json:"audit_id"`
	FeatureID  string    `json:"feature_id"`
	OldValue   bool      `json:"old_value"`
	NewValue   bool      `json:"new_value"`
	ActorID    *string   `json:"actor_id"`
	ChangeType string    `json:"change_type"`
	CreatedAt  time.Time `json:"created_at"`
}

func nullableID(id uuid.NullUUID) *string {
	if !id.Valid {
		return nil
	}
	s := id.UUID.String()
	return &s
}

// authorize is a no-op when authentication is disabled.
func (s *Server) authorize(r *http.Request, perm auth.Permission) error {
	if s.cfg.Verifier == nil {
		return nil
	}
	_, err := auth.RequirePermission(r.Context(), perm)
	return err
}

func (s *Server) authorizeOrg(r *http.Request, perm auth.Permission, orgID uuid.UUID) error {
	if s.cfg.Verifier == nil {
		return nil
	}
	return auth.RequireOrgPermission(r.Context(), perm, orgID)
}

func (s *Server) orgID(r *http.Request, perm auth.Permission) (uuid.UUID, error) {
	orgID, err := uuid.Parse(r.PathValue("orgID"))
	if err != nil || orgID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: invalid organization id", errBadRequest)
	}

	if err := s.authorizeOrg(r, perm, orgID); err != nil {
		return uuid.Nil, err
	}

	return orgID, nil
}

func (s *Server) listFeatures(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, auth.PermCatalogRead); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": s.cfg.Features.All()})
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r, auth.PermCatalogRead); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": s.cfg.Plans.All()})
}

func (s *Server) getEntitlements(w http.ResponseWriter, r *http.Request) {
	orgID, err := s.orgID(r, auth.PermEntitlementsRead)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.cfg.Resolver.ResolveOrg(r.Context(), orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entitlementsResponse{
		OrgID:    orgID.String(),
		PlanID:   res.PlanID,
		Features: res.Entries(),
		Unmet:    emptyIfNil(res.Unmet),
	})
}

func (s *Server) setOverride(w http.ResponseWriter, r *http.Request) {
	orgID, err := s.orgID(r, auth.PermOverridesWrite)
	if err != nil {
		writeError(w, r, err)
		return
	}

	featureID := r.PathValue("featureID")

	var req setOverrideRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, r, fmt.Errorf("%w: body must be {\"enabled\": true|false}", errBadRequest))
		return
	}

	res, err := s.cfg.Resolver.SetOverride(r.Context(), orgID, featureID, *req.Enabled, auth.ActorID(r.Context()))

	var auditErr *entitlement.AuditWriteError
	if err != nil && !errors.As(err, &auditErr) {
		writeError(w, r, err)
		return
	}

	resp := setOverrideResponse{
		OrgID:         orgID.String(),
		FeatureID:     featureID,
		PreviousValue: res.PreviousValue,
		NewValue:      res.NewValue,
		Unmet:         emptyIfNil(res.Unmet),
		AuditLogged:   auditErr == nil,
	}
	if auditErr != nil {
		resp.Warning = "override applied but the audit entry could not be written"
	}

	zerolog.Ctx(r.Context()).Info().
		Str("org_id", orgID.String()).
		Str("feature_id", featureID).
		Bool("value", res.NewValue).
		Bool("audit_logged", resp.AuditLogged).
		Str("client_ip", httpmiddleware.ClientIPFromContext(r.Context())).
		Msg("Override applied")

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) previewPlan(w http.ResponseWriter, r *http.Request) {
	orgID, err := s.orgID(r, auth.PermEntitlementsRead)
	if err != nil {
		writeError(w, r, err)
		return
	}

	target := catalog.PlanID(r.URL.Query().Get("plan"))
	if target == "" {
		writeError(w, r, fmt.Errorf("%w: plan query parameter is required", errBadRequest))
		return
	}

	preview, err := s.cfg.Resolver.PreviewPlan(r.Context(), orgID, target)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, previewResponse{
		OrgID:    orgID.String(),
		FromPlan: preview.FromPlan,
		ToPlan:   preview.ToPlan,
		Changes:  emptyIfNil(preview.Changes),
		Unmet:    emptyIfNil(preview.Proposed.Unmet),
	})
}

func (s *Server) listOverrides(w http.ResponseWriter, r *http.Request) {
	orgID, err := s.orgID(r, auth.PermEntitlementsRead)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rows, err := s.cfg.Overrides.List(r.Context(), orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]overrideResponse, 0, len(rows))
	for _, o := range rows {
		out = append(out, overrideResponse{
			FeatureID: o.FeatureID,
			Value:     o.Value,
			UpdatedBy: nullableID(o.UpdatedBy),
			UpdatedAt: o.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"overrides": out})
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	orgID, err := s.orgID(r, auth.PermAuditRead)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
	}
	limit = min(limit, maxAuditLimit)

	entries, err := s.cfg.Audit.ListByOrg(r.Context(), orgID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			AuditID:    e.AuditID.String(),
			FeatureID:  e.FeatureID,
			OldValue:   e.OldValue,
			NewValue:   e.NewValue,
			ActorID:    nullableID(e.ActorID),
			ChangeType: e.ChangeType,
			CreatedAt:  e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
