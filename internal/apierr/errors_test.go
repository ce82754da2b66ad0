package apierr_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resp(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestFromResponse_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, apierr.ErrAuthRequired},
		{http.StatusForbidden, apierr.ErrAuthRequired},
		{http.StatusNotFound, apierr.ErrNotFound},
		{http.StatusConflict, apierr.ErrAlreadyExists},
		{http.StatusBadRequest, apierr.ErrInvalidInput},
		{http.StatusUnprocessableEntity, apierr.ErrInvalidInput},
		{http.StatusInternalServerError, apierr.ErrServer},
		{http.StatusBadGateway, apierr.ErrServer},
	}

	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			err := apierr.FromResponse(resp(tc.status, `{"error":"boom"}`))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestFromResponse_ServerMessageVerbatim(t *testing.T) {
	err := apierr.FromResponse(resp(500, `{"detail":"GPU pool exhausted"}`))

	var se *apierr.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.StatusCode)
	assert.Equal(t, "GPU pool exhausted", se.Message)
	assert.Equal(t, "GPU pool exhausted", apierr.Message(err))
}

func TestFromResponse_NestedErrorObject(t *testing.T) {
	err := apierr.FromResponse(resp(503, `{"error":{"message":"maintenance window"}}`))
	assert.Equal(t, "maintenance window", apierr.Message(err))
}

func TestFromResponse_RawTextBody(t *testing.T) {
	err := apierr.FromResponse(resp(502, "upstream timeout"))
	assert.Equal(t, "upstream timeout", apierr.Message(err))
}

func TestFromResponse_HTMLBodyUsesGenericFallback(t *testing.T) {
	err := apierr.FromResponse(resp(500, "<html><body>Internal Server Error</body></html>"))

	var se *apierr.ServerError
	require.ErrorAs(t, err, &se)
	assert.NotEmpty(t, se.Message)
	assert.NotContains(t, se.Message, "<html>")
	assert.Contains(t, se.Raw, "<html>")
}

func TestFromResponse_EmptyBody(t *testing.T) {
	err := apierr.FromResponse(resp(500, ""))
	var se *apierr.ServerError
	require.ErrorAs(t, err, &se)
	assert.NotEmpty(t, se.Message)
}

func TestFromResponse_ConflictKeepsMessage(t *testing.T) {
	err := apierr.FromResponse(resp(409, `{"message":"already has early access"}`))
	assert.ErrorIs(t, err, apierr.ErrAlreadyExists)
	assert.Equal(t, "already has early access", apierr.Message(err))
	assert.Contains(t, err.Error(), "already has early access")
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, apierr.Classify(nil))
}

func TestClassify_DNS(t *testing.T) {
	err := apierr.Classify(&url.Error{Op: "Get", URL: "http://nope.invalid", Err: &net.DNSError{Name: "nope.invalid", Err: "no such host"}})
	assert.ErrorIs(t, err, apierr.ErrNetwork)
	assert.Contains(t, err.Error(), "nope.invalid")
}

func TestClassify_Cancelled(t *testing.T) {
	err := apierr.Classify(fmt.Errorf("do: %w", context.Canceled))
	assert.ErrorIs(t, err, apierr.ErrNetwork)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify_Deadline(t *testing.T) {
	err := apierr.Classify(context.DeadlineExceeded)
	assert.ErrorIs(t, err, apierr.ErrNetwork)
	assert.Contains(t, err.Error(), "timed out")
}

func TestClassify_ConnectionRefused(t *testing.T) {
	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	err := apierr.Classify(&url.Error{Op: "Post", URL: "http://localhost:1", Err: opErr})
	assert.ErrorIs(t, err, apierr.ErrNetwork)
	assert.NotErrorIs(t, err, apierr.ErrServer)
}

func TestInvalid(t *testing.T) {
	err := apierr.Invalid("prompt is required")
	assert.ErrorIs(t, err, apierr.ErrInvalidInput)
	assert.Equal(t, "invalid input: prompt is required", err.Error())
}
