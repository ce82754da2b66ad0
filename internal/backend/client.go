// Package backend is the typed client for the bookkeeping backend that
// stores job metadata, per-user history and account records.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// Client is the interface for the bookkeeping backend. Every call takes the
// caller's identity token explicitly; nothing is cached between calls.
type Client interface {
	RegisterJob(ctx context.Context, token string, req RegisterJobRequest) error
	History(ctx context.Context, token string) ([]models.HistoryEntry, error)
	DeleteJob(ctx context.Context, token, id string) error
	RenameJob(ctx context.Context, token, id, name string) error
	SyncUser(ctx context.Context, token string, req SyncUserRequest) (*models.User, error)
	Me(ctx context.Context, token string) (*models.User, error)
	RequestEarlyAccess(ctx context.Context, token, email string) error
}

// RegisterJobRequest is the metadata recorded for a freshly submitted job.
type RegisterJobRequest struct {
	JobID     string      `json:"job_id"`
	Kind      models.Kind `json:"kind"`
	Prompt    string      `json:"prompt,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// SyncUserRequest carries the identity provider's profile to the backend.
type SyncUserRequest struct {
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

const maxNameLen = 120

// HTTPClient implements Client over the backend's /api endpoints.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new bookkeeping backend client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) RegisterJob(ctx context.Context, token string, req RegisterJobRequest) error {
	if req.JobID == "" {
		return apierr.Invalid("job id is required")
	}
	return c.do(ctx, http.MethodPost, "/api/3d/register-job", token, req, nil)
}

func (c *HTTPClient) History(ctx context.Context, token string) ([]models.HistoryEntry, error) {
	if token == "" {
		return nil, apierr.ErrAuthRequired
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/3d/history", token, nil, &raw); err != nil {
		return nil, err
	}

	entries, err := decodeHistory(raw)
	if err != nil {
		return nil, &apierr.ServerError{StatusCode: http.StatusOK, Message: err.Error()}
	}
	return entries, nil
}

func (c *HTTPClient) DeleteJob(ctx context.Context, token, id string) error {
	if token == "" {
		return apierr.ErrAuthRequired
	}
	if id == "" {
		return apierr.Invalid("job id is required")
	}
	return c.do(ctx, http.MethodDelete, "/api/3d/jobs/"+url.PathEscape(id), token, nil, nil)
}

func (c *HTTPClient) RenameJob(ctx context.Context, token, id, name string) error {
	if token == "" {
		return apierr.ErrAuthRequired
	}
	name = strings.TrimSpace(name)
	if id == "" {
		return apierr.Invalid("job id is required")
	}
	if name == "" {
		return apierr.Invalid("name is required")
	}
	if len([]rune(name)) > maxNameLen {
		return apierr.Invalid("name must be at most %d characters", maxNameLen)
	}
	body := map[string]string{"name": name}
	return c.do(ctx, http.MethodPatch, "/api/3d/jobs/"+url.PathEscape(id), token, body, nil)
}

func (c *HTTPClient) SyncUser(ctx context.Context, token string, req SyncUserRequest) (*models.User, error) {
	if token == "" {
		return nil, apierr.ErrAuthRequired
	}
	if err := ValidateEmail(req.Email); err != nil {
		return nil, err
	}

	var env userEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/3d/sync-user", token, req, &env); err != nil {
		return nil, err
	}
	return env.user(), nil
}

func (c *HTTPClient) Me(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, apierr.ErrAuthRequired
	}

	var env userEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/3d/me", token, nil, &env); err != nil {
		return nil, err
	}
	return env.user(), nil
}

func (c *HTTPClient) RequestEarlyAccess(ctx context.Context, token, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	body := map[string]string{"email": strings.TrimSpace(email)}
	return c.do(ctx, http.MethodPost, "/api/early-access", token, body, nil)
}

// ValidateEmail rejects strings that are not a bare address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apierr.Invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return apierr.Invalid("%q is not a valid email address", email)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apierr.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apierr.FromResponse(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apierr.ServerError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return nil
}

// decodeHistory accepts either a bare array or {"jobs": [...]} / {"data": [...]}.
func decodeHistory(raw json.RawMessage) ([]models.HistoryEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []models.HistoryEntry{}, nil
	}

	var entries []models.HistoryEntry
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("decoding history: %w", err)
		}
	} else {
		var wrapped struct {
			Jobs []models.HistoryEntry `json:"jobs"`
			Data []models.HistoryEntry `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("decoding history: %w", err)
		}
		entries = wrapped.Jobs
		if entries == nil {
			entries = wrapped.Data
		}
	}

	if entries == nil {
		return []models.HistoryEntry{}, nil
	}
	for i := range entries {
		if entries[i].JobID == "" {
			entries[i].JobID = entries[i].ID
		}
	}
	return entries, nil
}

// userEnvelope accepts both {"user": {...}} and a flat user object.
type userEnvelope struct {
	Wrapped *models.User `json:"user"`
	models.User
}

func (e userEnvelope) user() *models.User {
	if e.Wrapped != nil {
		return e.Wrapped
	}
	u := e.User
	return &u
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
