package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any      `json:"data"`
	Meta ListMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ListMeta describes a history listing.
type ListMeta struct {
	Total  int  `json:"total"`
	Loaded bool `json:"loaded"`
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

func Collection(w http.ResponseWriter, data any, meta ListMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

// FromError writes the error envelope matching err's place in the apierr
// taxonomy. Unclassified errors are logged and reported as INTERNAL_ERROR.
func FromError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apierr.ErrInvalidInput):
		Error(w, http.StatusBadRequest, "INVALID_INPUT", apierr.Message(err), nil)
	case errors.Is(err, apierr.ErrAuthRequired):
		Error(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Sign in to continue", nil)
	case errors.Is(err, apierr.ErrNotFound):
		Error(w, http.StatusNotFound, "NOT_FOUND", apierr.Message(err), nil)
	case errors.Is(err, apierr.ErrAlreadyExists):
		Error(w, http.StatusConflict, "ALREADY_EXISTS", apierr.Message(err), nil)
	case errors.Is(err, apierr.ErrNetwork):
		Error(w, http.StatusBadGateway, "UPSTREAM_UNREACHABLE", "An upstream service could not be reached, check the configured service URLs", nil)
	case errors.Is(err, apierr.ErrServer):
		Error(w, http.StatusBadGateway, "UPSTREAM_ERROR", apierr.Message(err), nil)
	default:
		slog.Error("unhandled error", "error", err)
		Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
