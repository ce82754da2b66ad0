package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/forge3d/internal/api/response"
	"github.com/kiranshivaraju/forge3d/internal/studio"
)

// writeHistory responds with the workspace's current history list.
func writeHistory(w http.ResponseWriter, ws *studio.Workspace) {
	entries, loaded := ws.State().History()
	response.Collection(w, entries, response.ListMeta{Total: len(entries), Loaded: loaded})
}

// NewHistoryHandler returns an http.HandlerFunc for GET /api/v1/history.
// The list is refetched on every call and replaces the previous one.
func NewHistoryHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := boundWorkspace(w, r, svc)
		if !ok {
			return
		}

		if err := ws.RefreshHistory(r.Context()); err != nil {
			response.FromError(w, err)
			return
		}
		writeHistory(w, ws)
	}
}

// NewRenameHandler returns an http.HandlerFunc for
// PATCH /api/v1/history/{jobID}.
func NewRenameHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := boundWorkspace(w, r, svc)
		if !ok {
			return
		}

		var req struct {
			Name string `json:"name"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		if err := ws.RenameJob(r.Context(), chi.URLParam(r, "jobID"), req.Name); err != nil {
			response.FromError(w, err)
			return
		}
		writeHistory(w, ws)
	}
}

// NewDeleteHandler returns an http.HandlerFunc for
// DELETE /api/v1/history/{jobID}.
func NewDeleteHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := boundWorkspace(w, r, svc)
		if !ok {
			return
		}

		if err := ws.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
			response.FromError(w, err)
			return
		}
		response.NoContent(w)
	}
}
