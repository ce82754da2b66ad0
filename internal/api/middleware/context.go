package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/forge3d/internal/studio"
)

type contextKey string

const (
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "request_id"
)

func SetIdentity(ctx context.Context, id studio.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller established by Authenticate or Optional.
func GetIdentity(r *http.Request) (studio.Identity, bool) {
	id, ok := r.Context().Value(identityKey).(studio.Identity)
	return id, ok
}

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
