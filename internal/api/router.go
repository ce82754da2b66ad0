package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/forge3d/internal/api/handler"
	mw "github.com/kiranshivaraju/forge3d/internal/api/middleware"
	"github.com/kiranshivaraju/forge3d/internal/api/response"
	"github.com/kiranshivaraju/forge3d/internal/studio"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth             *mw.Auth
	SubmitLimit      *mw.RateLimit
	EarlyAccessLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	SignInHandler      http.HandlerFunc
	MeHandler          http.HandlerFunc
	SignOutHandler     http.HandlerFunc
	StateHandler       http.HandlerFunc
	StreamHandler      http.HandlerFunc
	PreviewHandler     http.HandlerFunc
	SubmitTextHandler  http.HandlerFunc
	SubmitImageHandler http.HandlerFunc
	JobStatusHandler   http.HandlerFunc
	CancelHandler      http.HandlerFunc
	HistoryHandler     http.HandlerFunc
	RenameHandler      http.HandlerFunc
	DeleteHandler      http.HandlerFunc
	EarlyAccessHandler http.HandlerFunc
}

// WithStudio fills every studio endpoint from svc.
func (d Dependencies) WithStudio(svc *studio.Service) Dependencies {
	d.SignInHandler = handler.NewSignInHandler(svc)
	d.MeHandler = handler.NewMeHandler(svc)
	d.SignOutHandler = handler.NewSignOutHandler(svc)
	d.StateHandler = handler.NewStateHandler(svc)
	d.StreamHandler = handler.NewStreamHandler(svc)
	d.PreviewHandler = handler.NewPreviewHandler(svc)
	d.SubmitTextHandler = handler.NewSubmitTextHandler(svc)
	d.SubmitImageHandler = handler.NewSubmitImageHandler(svc)
	d.JobStatusHandler = handler.NewJobStatusHandler(svc)
	d.CancelHandler = handler.NewCancelHandler(svc)
	d.HistoryHandler = handler.NewHistoryHandler(svc)
	d.RenameHandler = handler.NewRenameHandler(svc)
	d.DeleteHandler = handler.NewDeleteHandler(svc)
	d.EarlyAccessHandler = handler.NewEarlyAccessHandler(svc)
	return d
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Optional)
		r.Use(limit(deps.EarlyAccessLimit))

		r.Post("/api/v1/early-access", orNotImplemented(deps.EarlyAccessHandler))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Post("/api/v1/session", orNotImplemented(deps.SignInHandler))
		r.Get("/api/v1/session", orNotImplemented(deps.MeHandler))
		r.Delete("/api/v1/session", orNotImplemented(deps.SignOutHandler))

		r.Get("/api/v1/state", orNotImplemented(deps.StateHandler))
		r.Get("/api/v1/stream", orNotImplemented(deps.StreamHandler))

		r.Post("/api/v1/previews", orNotImplemented(deps.PreviewHandler))

		r.Group(func(r chi.Router) {
			r.Use(limit(deps.SubmitLimit))

			r.Post("/api/v1/generations/text", orNotImplemented(deps.SubmitTextHandler))
			r.Post("/api/v1/generations/image", orNotImplemented(deps.SubmitImageHandler))
		})
		r.Get("/api/v1/generations/{jobID}", orNotImplemented(deps.JobStatusHandler))
		r.Post("/api/v1/generations/{jobID}/cancel", orNotImplemented(deps.CancelHandler))

		r.Get("/api/v1/history", orNotImplemented(deps.HistoryHandler))
		r.Patch("/api/v1/history/{jobID}", orNotImplemented(deps.RenameHandler))
		r.Delete("/api/v1/history/{jobID}", orNotImplemented(deps.DeleteHandler))
	})

	return r
}

func limit(rl *mw.RateLimit) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Limit
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
