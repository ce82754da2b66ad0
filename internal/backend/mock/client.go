package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
	"github.com/kiranshivaraju/forge3d/internal/backend"
	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// Client satisfies backend.Client for testing. Unset funcs fall back to an
// in-memory history keyed by nothing but insertion order.
type Client struct {
	RegisterJobFunc        func(ctx context.Context, token string, req backend.RegisterJobRequest) error
	HistoryFunc            func(ctx context.Context, token string) ([]models.HistoryEntry, error)
	DeleteJobFunc          func(ctx context.Context, token, id string) error
	RenameJobFunc          func(ctx context.Context, token, id, name string) error
	SyncUserFunc           func(ctx context.Context, token string, req backend.SyncUserRequest) (*models.User, error)
	MeFunc                 func(ctx context.Context, token string) (*models.User, error)
	RequestEarlyAccessFunc func(ctx context.Context, token, email string) error

	mu         sync.Mutex
	history    []models.HistoryEntry
	registered []backend.RegisterJobRequest
	historyN   int
	meN        int
}

func (m *Client) RegisterJob(ctx context.Context, token string, req backend.RegisterJobRequest) error {
	m.mu.Lock()
	m.registered = append(m.registered, req)
	m.mu.Unlock()
	if m.RegisterJobFunc != nil {
		return m.RegisterJobFunc(ctx, token, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]models.HistoryEntry{{
		ID:        req.JobID,
		JobID:     req.JobID,
		Kind:      req.Kind,
		Prompt:    req.Prompt,
		ImageURL:  req.ImageURL,
		Status:    models.StatusPending,
		CreatedAt: req.CreatedAt,
	}}, m.history...)
	return nil
}

func (m *Client) History(ctx context.Context, token string) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	m.historyN++
	m.mu.Unlock()
	if m.HistoryFunc != nil {
		return m.HistoryFunc(ctx, token)
	}
	if token == "" {
		return nil, apierr.ErrAuthRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.HistoryEntry{}, m.history...), nil
}

func (m *Client) DeleteJob(ctx context.Context, token, id string) error {
	if m.DeleteJobFunc != nil {
		return m.DeleteJobFunc(ctx, token, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.history {
		if e.ID == id || e.JobID == id {
			m.history = append(m.history[:i], m.history[i+1:]...)
			return nil
		}
	}
	return apierr.ErrNotFound
}

func (m *Client) RenameJob(ctx context.Context, token, id, name string) error {
	if m.RenameJobFunc != nil {
		return m.RenameJobFunc(ctx, token, id, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.history {
		if e.ID == id || e.JobID == id {
			m.history[i].Name = name
			return nil
		}
	}
	return apierr.ErrNotFound
}

func (m *Client) SyncUser(ctx context.Context, token string, req backend.SyncUserRequest) (*models.User, error) {
	if m.SyncUserFunc != nil {
		return m.SyncUserFunc(ctx, token, req)
	}
	return &models.User{ID: "user-" + req.Email, Email: req.Email, Name: req.Name, AvatarURL: req.AvatarURL}, nil
}

func (m *Client) Me(ctx context.Context, token string) (*models.User, error) {
	m.mu.Lock()
	m.meN++
	m.mu.Unlock()
	if m.MeFunc != nil {
		return m.MeFunc(ctx, token)
	}
	return &models.User{ID: "user-1", Email: "maker@forge3d.dev"}, nil
}

func (m *Client) RequestEarlyAccess(ctx context.Context, token, email string) error {
	if m.RequestEarlyAccessFunc != nil {
		return m.RequestEarlyAccessFunc(ctx, token, email)
	}
	return backend.ValidateEmail(email)
}

// SetHistory replaces the in-memory history.
func (m *Client) SetHistory(entries ...models.HistoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]models.HistoryEntry{}, entries...)
}

// Registered returns every RegisterJob request seen, in order.
func (m *Client) Registered() []backend.RegisterJobRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]backend.RegisterJobRequest(nil), m.registered...)
}

// HistoryCalls returns how many times History was called.
func (m *Client) HistoryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyN
}

// MeCalls returns how many times Me was called.
func (m *Client) MeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meN
}

// Compile-time check that Client implements backend.Client.
var _ backend.Client = (*Client)(nil)
