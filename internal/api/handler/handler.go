// Package handler implements the studio's HTTP endpoints on top of
// studio.Service.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	mw "github.com/kiranshivaraju/forge3d/internal/api/middleware"
	"github.com/kiranshivaraju/forge3d/internal/api/response"
	"github.com/kiranshivaraju/forge3d/internal/studio"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 64 << 10

// identity returns the authenticated caller, writing a 401 when absent.
func identity(w http.ResponseWriter, r *http.Request) (studio.Identity, bool) {
	id, ok := mw.GetIdentity(r)
	if !ok || id.UserID == "" {
		response.Error(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Sign in to continue", nil)
		return studio.Identity{}, false
	}
	return id, true
}

// openWorkspace resolves the caller's workspace, reconciling it on first
// use. Failures are written to w.
func openWorkspace(w http.ResponseWriter, r *http.Request, svc *studio.Service) (*studio.Workspace, bool) {
	id, ok := identity(w, r)
	if !ok {
		return nil, false
	}
	ws, err := svc.Open(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return nil, false
	}
	return ws, true
}

// boundWorkspace is openWorkspace without the reconciliation.
func boundWorkspace(w http.ResponseWriter, r *http.Request, svc *studio.Service) (*studio.Workspace, bool) {
	id, ok := identity(w, r)
	if !ok {
		return nil, false
	}
	ws, err := svc.Workspace(r.Context(), id)
	if err != nil {
		response.FromError(w, err)
		return nil, false
	}
	return ws, true
}

// decodeJSON reads r's body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) {
		response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "Request body is required", nil)
		return false
	}
	response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid JSON body", nil)
	return false
}
