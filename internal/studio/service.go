// Package studio orchestrates per-user workspaces: submission, polling,
// history reconciliation and the session lifecycle.
package studio

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
	"github.com/kiranshivaraju/forge3d/internal/backend"
	"github.com/kiranshivaraju/forge3d/internal/cache"
	"github.com/kiranshivaraju/forge3d/internal/genapi"
	"github.com/kiranshivaraju/forge3d/internal/metrics"
	"github.com/kiranshivaraju/forge3d/internal/poller"
	"github.com/kiranshivaraju/forge3d/internal/progress"
	"github.com/kiranshivaraju/forge3d/internal/store"
	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// Identity is the caller as established by the auth middleware.
type Identity struct {
	UserID    string
	Email     string
	Name      string
	AvatarURL string
	Token     string
	// Verified is set when the token signature was checked locally. Other
	// tokens are checked with the bookkeeping backend before they are bound.
	Verified  bool
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	Progress        progress.Params
	Poll            poller.Config
	TerminalTTL     time.Duration
	RegisterTimeout time.Duration
	PersistTimeout  time.Duration
	// IdleTTL evicts workspaces with no open stream that saw no request for this long.
	IdleTTL         time.Duration
}

func (o *Options) applyDefaults() {
	if o.Progress == (progress.Params{}) {
		o.Progress = progress.DefaultParams()
	}
	if o.TerminalTTL <= 0 {
		o.TerminalTTL = 24 * time.Hour
	}
	if o.RegisterTimeout <= 0 {
		o.RegisterTimeout = 10 * time.Second
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 30 * time.Minute
	}
}

// Service owns every open workspace. The job mirror and the cache are
// optional; a nil store or cache disables the corresponding feature.
type Service struct {
	gen     genapi.Client
	backend backend.Client
	store   store.Store
	cache   cache.Cache
	opts    Options

	// ctx outlives requests: pollers and background persistence run on it.
	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time

	mu         sync.Mutex
	workspaces map[string]*Workspace
}

// NewService creates a new Service.
func NewService(gen genapi.Client, be backend.Client, st store.Store, ca cache.Cache, opts Options) *Service {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		gen:        gen,
		backend:    be,
		store:      st,
		cache:      ca,
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
	go s.sweep(min(max(opts.IdleTTL/4, 10*time.Millisecond), time.Minute))
	return s
}

// Close stops every poller. The Service must not be used afterwards.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.workspaces {
		ws.poller.Stop()
	}
	s.cancel()
}

// Workspace returns the caller's workspace, creating it on first use. A
// token that is neither the one already bound nor verified locally is
// checked with the bookkeeping backend first.
func (s *Service) Workspace(ctx context.Context, id Identity) (*Workspace, error) {
	ws, _ := s.Lookup(id.UserID)
	if err := s.authorize(ctx, ws, id); err != nil {
		return nil, err
	}
	return s.bind(id), nil
}

// Open returns the caller's workspace and, the first time it is seen after a
// restart, reconciles it with the backend.
func (s *Service) Open(ctx context.Context, id Identity) (*Workspace, error) {
	ws, err := s.Workspace(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, loaded := ws.state.History(); !loaded {
		if err := ws.Load(ctx); err != nil {
			slog.Warn("reconciliation on load failed", "user_id", id.UserID, "error", err)
		}
	}
	return ws, nil
}

// Lookup returns an existing workspace without creating one.
func (s *Service) Lookup(userID string) (*Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[userID]
	return ws, ok
}

func (s *Service) authorize(ctx context.Context, ws *Workspace, id Identity) error {
	if id.UserID == "" || id.Token == "" {
		return apierr.ErrAuthRequired
	}
	if id.Verified || (ws != nil && ws.state.Token() == id.Token) {
		return nil
	}
	if _, err := s.backend.Me(ctx, id.Token); err != nil {
		slog.Warn("identity token rejected", "user_id", id.UserID, "error", err)
		return err
	}
	return nil
}

// bind attaches an authorized identity, replacing a rotated token.
func (s *Service) bind(id Identity) *Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[id.UserID]
	if !ok {
		ws = newWorkspace(s, id)
		s.workspaces[id.UserID] = ws
	} else if id.Token != ws.state.Token() {
		ws.state.SetToken(id.Token)
	}
	ws.touch()
	return ws
}

// SignIn syncs the caller's profile with the bookkeeping backend and runs
// reconciliation on load. An unreachable backend does not block sign-in for
// a locally verified token; authentication and validation failures always do.
func (s *Service) SignIn(ctx context.Context, id Identity) (*Workspace, error) {
	if id.UserID == "" || id.Token == "" {
		return nil, apierr.ErrAuthRequired
	}

	user, err := s.backend.SyncUser(ctx, id.Token, backend.SyncUserRequest{
		Email:     id.Email,
		Name:      id.Name,
		AvatarURL: id.AvatarURL,
	})
	switch {
	case err == nil:
	case errors.Is(err, apierr.ErrAuthRequired), errors.Is(err, apierr.ErrInvalidInput):
		// only a session backed by this very token is dropped
		if ws, ok := s.Lookup(id.UserID); ok && ws.state.Token() == id.Token {
			s.drop(ws)
		}
		return nil, err
	case !id.Verified:
		return nil, err
	default:
		slog.Warn("user sync failed, continuing with identity claims", "user_id", id.UserID, "error", err)
		user = &models.User{ID: id.UserID, Email: id.Email, Name: id.Name, AvatarURL: id.AvatarURL}
	}

	ws := s.bind(id)
	ws.state.SignIn(id.UserID, id.Token, user)

	if err := ws.Load(ctx); err != nil {
		slog.Warn("reconciliation on load failed", "user_id", id.UserID, "error", err)
	}
	return ws, nil
}

// SignOut stops the caller's poller, clears the workspace and forgets it.
func (s *Service) SignOut(ctx context.Context, id Identity) error {
	ws, ok := s.Lookup(id.UserID)
	if !ok {
		return nil
	}
	if err := s.authorize(ctx, ws, id); err != nil {
		return err
	}
	if s.drop(ws) {
		ws.state.SignOut()
		slog.Info("signed out", "user_id", id.UserID)
	}
	return nil
}

// drop forgets ws and stops its poller. It reports false when ws was
// already gone.
func (s *Service) drop(ws *Workspace) bool {
	s.mu.Lock()
	if s.workspaces[ws.userID] != ws {
		s.mu.Unlock()
		return false
	}
	delete(s.workspaces, ws.userID)
	s.mu.Unlock()

	ws.poller.Stop()
	ws.tracker.Reset()
	return true
}

func (s *Service) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

// evictIdle drops workspaces nobody is watching and nobody has used for
// IdleTTL. Their jobs keep running upstream and are resumed on the next load.
func (s *Service) evictIdle() {
	cutoff := s.now().Add(-s.opts.IdleTTL)

	s.mu.Lock()
	var idle []*Workspace
	for _, ws := range s.workspaces {
		if ws.state.Subscribers() == 0 && ws.lastSeen().Before(cutoff) {
			idle = append(idle, ws)
		}
	}
	s.mu.Unlock()

	for _, ws := range idle {
		if s.drop(ws) {
			metrics.IncWorkspaceEvicted()
			slog.Info("idle workspace evicted", "user_id", ws.userID)
		}
	}
}

// Preview renders a concept image for prompt.
func (s *Service) Preview(ctx context.Context, prompt string) (*models.Preview, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apierr.Invalid("prompt is required")
	}
	return s.gen.TextToImage(ctx, prompt)
}

// jobStatus returns the authoritative status of jobID. Terminal payloads are
// immutable and served from the cache when present.
func (s *Service) jobStatus(ctx context.Context, jobID string) (*models.Job, error) {
	if s.cache != nil {
		job, found, err := s.cache.GetTerminalJob(ctx, jobID)
		switch {
		case err != nil:
			metrics.IncCacheLookup("error")
			slog.Warn("terminal job cache lookup failed", "job_id", jobID, "error", err)
		case found:
			metrics.IncCacheLookup("hit")
			return job, nil
		default:
			metrics.IncCacheLookup("miss")
		}
	}

	job, err := s.gen.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		s.cacheTerminal(ctx, job)
	}
	return job, nil
}

// RequestEarlyAccess records interest for email. When the backend reports the
// address as already registered and the caller is signed in, the session's
// account record is refreshed before the error is returned.
func (s *Service) RequestEarlyAccess(ctx context.Context, id *Identity, email string) error {
	token := ""
	if id != nil {
		token = id.Token
	}

	err := s.backend.RequestEarlyAccess(ctx, token, email)
	if !errors.Is(err, apierr.ErrAlreadyExists) || id == nil {
		return err
	}

	if ws, ok := s.Lookup(id.UserID); ok {
		if user, merr := s.backend.Me(ctx, token); merr == nil {
			ws.state.SetUser(user)
		} else {
			slog.Warn("refreshing account after early access failed", "user_id", id.UserID, "error", merr)
		}
	}
	return err
}

func (s *Service) cacheTerminal(ctx context.Context, job *models.Job) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetTerminalJob(ctx, job, s.opts.TerminalTTL); err != nil {
		slog.Warn("caching terminal job failed", "job_id", job.ID, "error", err)
	}
}

// background runs fn on the service context with a timeout, detached from
// the request that triggered it.
func (s *Service) background(timeout time.Duration, fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		fn(ctx)
	}()
}
