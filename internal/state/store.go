// Package state is the single container for one user's client-side state.
//
// It keeps three parts strictly apart: the optimistic "currently generating"
// record, the authoritative history list fetched from the bookkeeping
// backend, and the session. The only code that reads both the record and the
// list is Reconcile.
package state

import (
	"sync"
	"time"

	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// Generating is the optimistic record of the job currently being tracked.
type Generating struct {
	JobID       string                 `json:"job_id"`
	Kind        models.Kind            `json:"kind"`
	Prompt      string                 `json:"prompt,omitempty"`
	ImageURL    string                 `json:"image_url,omitempty"`
	Status      models.Status          `json:"status"`
	Progress    models.DisplayProgress `json:"progress"`
	ResultURL   string                 `json:"result_url,omitempty"`
	PreviewURL  string                 `json:"preview_url,omitempty"`
	Error       string                 `json:"error,omitempty"`
	PollError   string                 `json:"poll_error,omitempty"`
	SubmittedAt time.Time              `json:"submitted_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Session is the signed-in identity. It is initialised by SignIn and
// invalidated by SignOut; nothing else writes it.
type Session struct {
	SignedIn bool         `json:"signed_in"`
	UserID   string       `json:"user_id,omitempty"`
	User     *models.User `json:"user,omitempty"`
	token    string
}

// Snapshot is a copy of the state suitable for rendering.
type Snapshot struct {
	Current        *Generating           `json:"current"`
	History        []models.HistoryEntry `json:"history"`
	HistoryLoaded  bool                  `json:"history_loaded"`
	HistoryFetched time.Time             `json:"history_fetched_at,omitempty"`
	Session        Session               `json:"session"`
	Version        uint64                `json:"version"`
}

// Store is safe for concurrent use. Every mutation bumps Version and
// notifies subscribers.
type Store struct {
	mu      sync.RWMutex
	current *Generating
	history []models.HistoryEntry
	loaded  bool
	fetched time.Time
	session Session
	version uint64
	now     func() time.Time

	subMu sync.Mutex
	subs  map[int]chan Snapshot
	next  int
}

func NewStore() *Store {
	return &Store{now: time.Now, subs: make(map[int]chan Snapshot)}
}

// --- session ---

// SignIn initialises the session. A different user id wipes all job state first.
func (s *Store) SignIn(userID, token string, user *models.User) {
	s.mutate(func() {
		if s.session.UserID != "" && s.session.UserID != userID {
			s.clearLocked()
		}
		s.session = Session{SignedIn: true, UserID: userID, User: user, token: token}
	})
}

// SetToken refreshes the bearer token of the current session, e.g. after the
// identity provider rotated it.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.token = token
}

// SetUser replaces the cached account record.
func (s *Store) SetUser(user *models.User) {
	s.mutate(func() { s.session.User = user })
}

// SignOut invalidates the session and drops every piece of job state.
func (s *Store) SignOut() {
	s.mutate(func() {
		s.clearLocked()
		s.session = Session{}
	})
}

// Token returns the bearer token, empty when signed out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.token
}

func (s *Store) clearLocked() {
	s.current = nil
	s.history = nil
	s.loaded = false
	s.fetched = time.Time{}
}

// --- generating record ---

// Begin replaces the current record with a freshly submitted job.
func (s *Store) Begin(g Generating) {
	s.mutate(func() {
		now := s.now().UTC()
		if g.SubmittedAt.IsZero() {
			g.SubmittedAt = now
		}
		if g.Status == "" {
			g.Status = models.StatusPending
		}
		g.UpdatedAt = now
		g.Progress.JobID = g.JobID
		s.current = &g
	})
}

// Current returns a copy of the current record.
func (s *Store) Current() (Generating, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Generating{}, false
	}
	return *s.current, true
}

// ApplyProgress records a non-terminal observation for jobID. It is a no-op
// when jobID is no longer the current record.
func (s *Store) ApplyProgress(job *models.Job, p models.DisplayProgress) bool {
	return s.updateCurrent(job.ID, func(g *Generating) {
		g.Status = job.Status
		g.Progress = p
		g.PollError = ""
		if job.PreviewImageURL != "" {
			g.PreviewURL = job.PreviewImageURL
		}
	})
}

// ApplyTerminal records the final state of jobID.
func (s *Store) ApplyTerminal(job *models.Job, p models.DisplayProgress) bool {
	return s.updateCurrent(job.ID, func(g *Generating) {
		g.Status = job.Status
		g.Progress = p
		g.PollError = ""
		g.ResultURL = job.ResultArtifactURL
		g.Error = job.ErrorMessage
		if job.PreviewImageURL != "" {
			g.PreviewURL = job.PreviewImageURL
		}
	})
}

// ApplyPollError surfaces a persistent polling problem without touching progress.
func (s *Store) ApplyPollError(jobID, msg string) bool {
	return s.updateCurrent(jobID, func(g *Generating) { g.PollError = msg })
}

// ClearCurrent drops the record if it still refers to jobID.
func (s *Store) ClearCurrent(jobID string) bool {
	cleared := false
	s.mutate(func() {
		if s.current != nil && s.current.JobID == jobID {
			s.current = nil
			cleared = true
		}
	})
	return cleared
}

func (s *Store) updateCurrent(jobID string, fn func(*Generating)) bool {
	applied := false
	s.mutate(func() {
		if s.current == nil || s.current.JobID != jobID {
			return
		}
		fn(s.current)
		s.current.UpdatedAt = s.now().UTC()
		applied = true
	})
	return applied
}

// --- history ---

// ReplaceHistory swaps the whole list. Entries absent from entries disappear
// from the view regardless of what they showed before.
func (s *Store) ReplaceHistory(entries []models.HistoryEntry) {
	cp := make([]models.HistoryEntry, len(entries))
	copy(cp, entries)
	s.mutate(func() {
		s.history = cp
		s.loaded = true
		s.fetched = s.now().UTC()
	})
}

// History returns a copy of the list and whether it was ever loaded.
func (s *Store) History() ([]models.HistoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]models.HistoryEntry, len(s.history))
	copy(cp, s.history)
	return cp, s.loaded
}

// --- reconciliation ---

// Reconcile is the single step that reads both the optimistic record and the
// authoritative list. When nothing is being tracked locally but the history
// holds a job that has not reached a terminal state, it returns that entry so
// polling can resume. The newest such entry wins.
func (s *Store) Reconcile() (models.HistoryEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current != nil && !s.current.Status.IsTerminal() {
		return models.HistoryEntry{}, false
	}

	var (
		best  models.HistoryEntry
		found bool
	)
	for _, e := range s.history {
		if e.Status.IsTerminal() || e.JobID == "" {
			continue
		}
		if !found || e.CreatedAt.After(best.CreatedAt) {
			best, found = e, true
		}
	}
	return best, found
}

// --- snapshots ---

// Snapshot returns a deep-enough copy for rendering.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		HistoryLoaded:  s.loaded,
		HistoryFetched: s.fetched,
		Session:        s.session,
		Version:        s.version,
	}
	snap.Session.token = ""
	if s.current != nil {
		c := *s.current
		snap.Current = &c
	}
	snap.History = make([]models.HistoryEntry, len(s.history))
	copy(snap.History, s.history)
	return snap
}

// Subscribe returns a channel receiving a snapshot after every mutation.
// Slow subscribers only ever see the latest snapshot. Call the returned
// func to unsubscribe.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	// registering under mu orders the first snapshot before any later publish
	s.mu.RLock()
	s.subMu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	ch <- s.snapshotLocked()
	s.subMu.Unlock()
	s.mu.RUnlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
}

// Subscribers reports how many subscriptions are open.
func (s *Store) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// mutate publishes before releasing mu so subscribers observe versions in order.
func (s *Store) mutate(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	s.version++
	s.publish(s.snapshotLocked())
}

func (s *Store) publish(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
