package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/entitlements/internal/auth"
	"github.com/wolfeidau/entitlements/internal/catalog"
	"github.com/wolfeidau/entitlements/internal/entitlement"
	"github.com/wolfeidau/entitlements/internal/store"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	message := err.Error()
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", code).Msg("Request failed")
		message = http.StatusText(status)
	}

	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, auth.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, catalog.ErrFeatureNotFound):
		return http.StatusNotFound, "feature_not_found"
	case errors.Is(err, catalog.ErrPlanNotFound):
		return http.StatusNotFound, "plan_not_found"
	case errors.Is(err, store.ErrOrganizationNotFound):
		return http.StatusNotFound, "organization_not_found"
	case errors.Is(err, entitlement.ErrStoreWriteFailed):
		return http.StatusBadGateway, "store_write_failed"
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
