// Package apierr defines the error taxonomy shared by the generation and
// bookkeeping clients. Callers branch with errors.Is on the sentinels.
package apierr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrAuthRequired  = errors.New("authentication required")
	ErrNotFound      = errors.New("not found")
	ErrNetwork       = errors.New("network error")
	ErrServer        = errors.New("server error")
	ErrAlreadyExists = errors.New("already exists")
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 8 << 10

const genericServerMessage = "The service returned an unexpected error"

// ServerError is a non-2xx response that did not map onto a more specific sentinel.
type ServerError struct {
	StatusCode int
	Message    string
	Raw        string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: status %d: %s", e.StatusCode, e.Message)
}

func (e *ServerError) Unwrap() error { return ErrServer }

// Invalid wraps ErrInvalidInput with a human-readable reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Classify maps a transport-level failure from http.Client.Do onto ErrNetwork.
// Context cancellation is kept visible so callers can tell teardown from an outage.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: request cancelled: %w", ErrNetwork, context.Canceled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out: %v", ErrNetwork, err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: cannot resolve host %q", ErrNetwork, dnsErr.Name)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: request timed out: %v", ErrNetwork, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, urlErr.Op, urlErr.URL, urlErr.Err)
	}

	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// FromResponse converts a non-2xx response into the taxonomy. It reads (and
// does not close) at most maxErrorBody bytes of the body.
func FromResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := parseMessage(raw)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return withMessage(ErrAuthRequired, msg)
	case http.StatusNotFound:
		return withMessage(ErrNotFound, msg)
	case http.StatusConflict:
		return withMessage(ErrAlreadyExists, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return withMessage(ErrInvalidInput, msg)
	}

	if msg == "" {
		msg = genericServerMessage
	}
	return &ServerError{StatusCode: resp.StatusCode, Message: msg, Raw: string(raw)}
}

// Message returns the text worth showing a user for err: the server-supplied
// message when one exists, otherwise err's own text.
func Message(err error) string {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	var me *messageError
	if errors.As(err, &me) && me.msg != "" {
		return me.msg
	}
	return err.Error()
}

type messageError struct {
	kind error
	msg  string
}

func (e *messageError) Error() string {
	if e.msg == "" {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.msg
}

func (e *messageError) Unwrap() error { return e.kind }

func withMessage(kind error, msg string) error {
	return &messageError{kind: kind, msg: msg}
}

// parseMessage extracts a message from common error body shapes:
// {"error": "..."}, {"error": {"message": "..."}}, {"detail": "..."}, {"message": "..."},
// falling back to the raw text when it is short and not JSON.
func parseMessage(raw []byte) string {
	body := strings.TrimSpace(string(raw))
	if body == "" {
		return ""
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		if len(body) > 300 || strings.HasPrefix(body, "<") {
			return ""
		}
		return body
	}

	for _, key := range []string{"error", "detail", "message"} {
		v, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(v, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return ""
}
