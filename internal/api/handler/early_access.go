package handler

import (
	"net/http"

	mw "github.com/kiranshivaraju/forge3d/internal/api/middleware"
	"github.com/kiranshivaraju/forge3d/internal/api/response"
	"github.com/kiranshivaraju/forge3d/internal/studio"
)

// NewEarlyAccessHandler returns an http.HandlerFunc for
// POST /api/v1/early-access. Signing in is optional.
func NewEarlyAccessHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		var caller *studio.Identity
		if id, ok := mw.GetIdentity(r); ok {
			caller = &id
		}

		if err := svc.RequestEarlyAccess(r.Context(), caller, req.Email); err != nil {
			response.FromError(w, err)
			return
		}
		response.Created(w, map[string]string{"email": req.Email})
	}
}
