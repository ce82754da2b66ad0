package handler

import (
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/forge3d/internal/api/response"
	"github.com/kiranshivaraju/forge3d/internal/studio"
)

// NewSignInHandler returns an http.HandlerFunc for POST /api/v1/session.
// It syncs the profile and reconciles any job left running by a previous
// session, then returns the resulting snapshot.
func NewSignInHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity(w, r)
		if !ok {
			return
		}

		ws, err := svc.SignIn(r.Context(), id)
		if err != nil {
			slog.Warn("sign in failed", "user_id", id.UserID, "error", err)
			response.FromError(w, err)
			return
		}

		response.JSON(w, ws.State().Snapshot())
	}
}

// NewMeHandler returns an http.HandlerFunc for GET /api/v1/session.
func NewMeHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := openWorkspace(w, r, svc)
		if !ok {
			return
		}

		user, err := ws.Me(r.Context())
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, user)
	}
}

// NewSignOutHandler returns an http.HandlerFunc for DELETE /api/v1/session.
func NewSignOutHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := identity(w, r)
		if !ok {
			return
		}
		if err := svc.SignOut(r.Context(), id); err != nil {
			response.FromError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewStateHandler returns an http.HandlerFunc for GET /api/v1/state.
func NewStateHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := openWorkspace(w, r, svc)
		if !ok {
			return
		}
		response.JSON(w, ws.State().Snapshot())
	}
}
