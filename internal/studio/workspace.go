package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
	"github.com/kiranshivaraju/forge3d/internal/backend"
	"github.com/kiranshivaraju/forge3d/internal/genapi"
	"github.com/kiranshivaraju/forge3d/internal/metrics"
	"github.com/kiranshivaraju/forge3d/internal/poller"
	"github.com/kiranshivaraju/forge3d/internal/progress"
	"github.com/kiranshivaraju/forge3d/internal/state"
	"github.com/kiranshivaraju/forge3d/internal/store"
	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// mirrorFallbackLimit bounds how many mirrored jobs stand in for the history
// while the bookkeeping backend is unreachable.
const mirrorFallbackLimit = 50

// Workspace is one user's state container together with the poller and
// progress tracker that feed it.
type Workspace struct {
	svc     *Service
	userID  string
	state   *state.Store
	tracker *progress.Tracker
	poller  *poller.Poller

	seen atomic.Int64 // unix nanos of the last request
}

func newWorkspace(svc *Service, id Identity) *Workspace {
	ws := &Workspace{
		svc:     svc,
		userID:  id.UserID,
		state:   state.NewStore(),
		tracker: progress.NewTracker(svc.opts.Progress),
	}
	ws.poller = poller.New(svc.gen, ws.tracker, &sink{ws: ws}, ws.refreshAfterCompletion, svc.opts.Poll)
	ws.state.SignIn(id.UserID, id.Token, nil)
	return ws
}

func (w *Workspace) UserID() string { return w.userID }

// State exposes the container for snapshots.
func (w *Workspace) State() *state.Store { return w.state }

// Subscribe streams snapshots. An open subscription keeps the workspace from
// being evicted; the idle clock restarts when it ends.
func (w *Workspace) Subscribe() (<-chan state.Snapshot, func()) {
	w.touch()
	ch, cancel := w.state.Subscribe()
	return ch, func() {
		cancel()
		w.touch()
	}
}

func (w *Workspace) touch() { w.seen.Store(w.svc.now().UnixNano()) }

func (w *Workspace) lastSeen() time.Time { return time.Unix(0, w.seen.Load()) }

// ActiveJob reports the job currently being polled.
func (w *Workspace) ActiveJob() (string, bool) { return w.poller.Active() }

// Load refreshes the history and resumes polling of a non-terminal job when
// nothing is tracked locally.
func (w *Workspace) Load(ctx context.Context) error {
	if err := w.RefreshHistory(ctx); err != nil {
		return err
	}
	w.resume()
	return nil
}

func (w *Workspace) resume() {
	e, ok := w.state.Reconcile()
	if !ok {
		return
	}
	if active, running := w.poller.Active(); running && active == e.JobID {
		return
	}

	slog.Info("resuming job from history", "user_id", w.userID, "job_id", e.JobID, "status", e.Status)
	w.state.Begin(state.Generating{
		JobID:       e.JobID,
		Kind:        e.Kind,
		Prompt:      e.Prompt,
		ImageURL:    e.ImageURL,
		Status:      e.Status,
		SubmittedAt: e.CreatedAt,
	})
	w.poller.Start(w.svc.ctx, e.JobID, e.CreatedAt)
}

// RefreshHistory replaces the history with the backend's list. When the
// backend is unreachable the job mirror stands in, if configured.
func (w *Workspace) RefreshHistory(ctx context.Context) error {
	entries, err := w.svc.backend.History(ctx, w.state.Token())
	if err == nil {
		metrics.IncHistoryRefresh("backend")
		w.state.ReplaceHistory(entries)
		return nil
	}

	transient := errors.Is(err, apierr.ErrNetwork) || errors.Is(err, apierr.ErrServer)
	if !transient || w.svc.store == nil {
		metrics.IncHistoryRefresh("error")
		return err
	}

	records, merr := w.svc.store.ListJobs(ctx, store.JobFilter{UserID: w.userID, Limit: mirrorFallbackLimit})
	if merr != nil {
		metrics.IncHistoryRefresh("error")
		slog.Warn("job mirror fallback failed", "user_id", w.userID, "error", merr)
		return err
	}

	slog.Warn("bookkeeping backend unavailable, using job mirror", "user_id", w.userID, "error", err)
	metrics.IncHistoryRefresh("mirror")
	fallback := make([]models.HistoryEntry, 0, len(records))
	for _, r := range records {
		fallback = append(fallback, r.HistoryEntry())
	}
	w.state.ReplaceHistory(fallback)
	return nil
}

func (w *Workspace) refreshAfterCompletion(ctx context.Context) error {
	return w.RefreshHistory(ctx)
}

// SubmitText starts a text-to-3D job.
func (w *Workspace) SubmitText(ctx context.Context, prompt string) (*state.Generating, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, apierr.Invalid("prompt is required")
	}
	jobID, err := w.svc.gen.SubmitText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return w.track(ctx, jobID, models.KindTextTo3D, prompt, ""), nil
}

// SubmitImage starts an image-to-3D job from exactly one of a file or a URL.
func (w *Workspace) SubmitImage(ctx context.Context, in genapi.ImageInput) (*state.Generating, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	jobID, err := w.svc.gen.SubmitImage(ctx, in)
	if err != nil {
		return nil, err
	}
	return w.track(ctx, jobID, models.KindImageTo3D, "", strings.TrimSpace(in.URL)), nil
}

// track records a freshly accepted job everywhere and starts polling it.
// Registration with the bookkeeping backend is fire-and-forget.
func (w *Workspace) track(ctx context.Context, jobID string, kind models.Kind, prompt, imageURL string) *state.Generating {
	now := time.Now().UTC()
	metrics.IncJobSubmitted(string(kind))
	slog.Info("job submitted", "user_id", w.userID, "job_id", jobID, "kind", kind)

	if w.svc.store != nil {
		err := w.svc.store.CreateJob(ctx, &models.JobRecord{
			ID:        jobID,
			UserID:    w.userID,
			Kind:      kind,
			Prompt:    prompt,
			ImageURL:  imageURL,
			Status:    models.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil && !errors.Is(err, store.ErrDuplicateKey) {
			slog.Warn("mirroring job failed", "job_id", jobID, "error", err)
		}
	}

	w.state.Begin(state.Generating{
		JobID:       jobID,
		Kind:        kind,
		Prompt:      prompt,
		ImageURL:    imageURL,
		Status:      models.StatusPending,
		SubmittedAt: now,
	})
	w.poller.Start(w.svc.ctx, jobID, now)

	token := w.state.Token()
	req := backend.RegisterJobRequest{JobID: jobID, Kind: kind, Prompt: prompt, ImageURL: imageURL, CreatedAt: now}
	w.svc.background(w.svc.opts.RegisterTimeout, func(ctx context.Context) {
		if err := w.svc.backend.RegisterJob(ctx, token, req); err != nil {
			slog.Warn("job registration failed", "job_id", jobID, "error", err)
		}
	})

	g, _ := w.state.Current()
	return &g
}

// DeleteJob removes jobID from the history and refreshes it.
func (w *Workspace) DeleteJob(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return apierr.Invalid("job id is required")
	}
	if err := w.svc.backend.DeleteJob(ctx, w.state.Token(), jobID); err != nil {
		return err
	}

	if active, ok := w.poller.Active(); ok && active == jobID {
		w.poller.Stop()
	}
	w.state.ClearCurrent(jobID)
	w.tracker.Forget(jobID)

	if w.svc.store != nil {
		if err := w.svc.store.DeleteJob(ctx, jobID, w.userID); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("deleting mirrored job failed", "job_id", jobID, "error", err)
		}
	}

	w.refreshAfterMutation(ctx)
	return nil
}

// RenameJob sets the display name of jobID and refreshes the history.
func (w *Workspace) RenameJob(ctx context.Context, jobID, name string) error {
	if strings.TrimSpace(jobID) == "" {
		return apierr.Invalid("job id is required")
	}
	if err := w.svc.backend.RenameJob(ctx, w.state.Token(), jobID, name); err != nil {
		return err
	}

	if w.svc.store != nil {
		if err := w.svc.store.RenameJob(ctx, jobID, w.userID, strings.TrimSpace(name)); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("renaming mirrored job failed", "job_id", jobID, "error", err)
		}
	}

	w.refreshAfterMutation(ctx)
	return nil
}

// JobStatus returns the authoritative status of one of the caller's jobs.
func (w *Workspace) JobStatus(ctx context.Context, jobID string) (*models.Job, error) {
	if err := w.owned(ctx, jobID); err != nil {
		return nil, err
	}
	return w.svc.jobStatus(ctx, jobID)
}

// Cancel asks the generation API to cancel one of the caller's jobs. The
// poller observes the resulting cancelled status on its next tick.
func (w *Workspace) Cancel(ctx context.Context, jobID string) error {
	if err := w.owned(ctx, jobID); err != nil {
		return err
	}
	return w.svc.gen.Cancel(ctx, jobID)
}

// owned checks jobID against the tracked record, the history and the job
// mirror, refreshing the history once before giving up. Jobs of other users
// are reported as not found.
func (w *Workspace) owned(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return apierr.Invalid("job id is required")
	}
	if w.knows(jobID) {
		return nil
	}
	if w.svc.store != nil {
		if _, err := w.svc.store.GetJob(ctx, jobID, w.userID); err == nil {
			return nil
		}
	}
	if err := w.RefreshHistory(ctx); err == nil && w.knows(jobID) {
		return nil
	}
	return fmt.Errorf("%w: job %s", apierr.ErrNotFound, jobID)
}

func (w *Workspace) knows(jobID string) bool {
	if cur, ok := w.state.Current(); ok && cur.JobID == jobID {
		return true
	}
	entries, _ := w.state.History()
	for _, e := range entries {
		if e.JobID == jobID {
			return true
		}
	}
	return false
}

// Me reloads the account record from the backend.
func (w *Workspace) Me(ctx context.Context) (*models.User, error) {
	user, err := w.svc.backend.Me(ctx, w.state.Token())
	if err != nil {
		return nil, err
	}
	w.state.SetUser(user)
	return user, nil
}

// the mutation already succeeded, a stale list is only logged
func (w *Workspace) refreshAfterMutation(ctx context.Context) {
	if err := w.RefreshHistory(ctx); err != nil {
		slog.Warn("history refresh after mutation failed", "user_id", w.userID, "error", err)
	}
}
