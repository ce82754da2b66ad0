package handler

import (
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/forge3d/internal/api/response"
	"github.com/kiranshivaraju/forge3d/internal/genapi"
	"github.com/kiranshivaraju/forge3d/internal/studio"
)

// MaxImageUpload bounds the multipart body of an image submission.
const MaxImageUpload = 10 << 20

type promptRequest struct {
	Prompt string `json:"prompt"`
}

// NewPreviewHandler returns an http.HandlerFunc for POST /api/v1/previews.
func NewPreviewHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := identity(w, r); !ok {
			return
		}

		var req promptRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		preview, err := svc.Preview(r.Context(), req.Prompt)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, preview)
	}
}

// NewSubmitTextHandler returns an http.HandlerFunc for
// POST /api/v1/generations/text.
func NewSubmitTextHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := openWorkspace(w, r, svc)
		if !ok {
			return
		}

		var req promptRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		g, err := ws.SubmitText(r.Context(), req.Prompt)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.Accepted(w, g)
	}
}

// NewSubmitImageHandler returns an http.HandlerFunc for
// POST /api/v1/generations/image. It takes a multipart form with either an
// image_file part or an image_url field; a JSON body with image_url also works.
func NewSubmitImageHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := openWorkspace(w, r, svc)
		if !ok {
			return
		}

		var in genapi.ImageInput
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

		switch mediaType {
		case "multipart/form-data":
			r.Body = http.MaxBytesReader(w, r.Body, MaxImageUpload)
			if err := r.ParseMultipartForm(MaxImageUpload); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					response.Error(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
						"Image must be at most 10 MB", nil)
					return
				}
				response.Error(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid multipart body", nil)
				return
			}
			defer r.MultipartForm.RemoveAll()

			in.URL = strings.TrimSpace(r.FormValue("image_url"))
			if file, header, err := r.FormFile("image_file"); err == nil {
				defer file.Close()
				in.File = file
				in.Filename = header.Filename
			}

		default:
			var req struct {
				ImageURL string `json:"image_url"`
			}
			if !decodeJSON(w, r, &req) {
				return
			}
			in.URL = req.ImageURL
		}

		g, err := ws.SubmitImage(r.Context(), in)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.Accepted(w, g)
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for
// GET /api/v1/generations/{jobID}.
func NewJobStatusHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := openWorkspace(w, r, svc)
		if !ok {
			return
		}

		job, err := ws.JobStatus(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewCancelHandler returns an http.HandlerFunc for
// POST /api/v1/generations/{jobID}/cancel. The cancelled status reaches the
// workspace through the poller.
func NewCancelHandler(svc *studio.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := openWorkspace(w, r, svc)
		if !ok {
			return
		}

		jobID := chi.URLParam(r, "jobID")
		if err := ws.Cancel(r.Context(), jobID); err != nil {
			response.FromError(w, err)
			return
		}
		response.Accepted(w, map[string]string{"job_id": jobID})
	}
}
