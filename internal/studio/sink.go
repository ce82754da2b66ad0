package studio

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
	"github.com/kiranshivaraju/forge3d/internal/poller"
	"github.com/kiranshivaraju/forge3d/internal/store"
	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// sink applies poller results to a workspace. It runs under the poller's
// lock, so anything touching the network is pushed to the background.
type sink struct {
	ws *Workspace
}

func (s *sink) Progress(job *models.Job, p models.DisplayProgress) {
	cur, ok := s.ws.state.Current()
	changed := !ok || cur.Status != job.Status

	if s.ws.state.ApplyProgress(job, p) && changed {
		s.mirror(job)
	}
}

func (s *sink) Finished(job *models.Job, p models.DisplayProgress) {
	if !s.ws.state.ApplyTerminal(job, p) {
		return
	}
	s.mirror(job)

	// the not-found failure is synthesized locally, there is nothing to cache
	svc := s.ws.svc
	if job.ErrorMessage != poller.NotFoundMessage {
		cached := *job
		svc.background(svc.opts.PersistTimeout, func(ctx context.Context) {
			svc.cacheTerminal(ctx, &cached)
		})
	}
}

func (s *sink) PollError(jobID string, err error) {
	s.ws.state.ApplyPollError(jobID, pollErrorMessage(err))
}

func (s *sink) mirror(job *models.Job) {
	svc := s.ws.svc
	if svc.store == nil {
		return
	}

	var opts []store.JobUpdateOption
	if job.ResultArtifactURL != "" {
		opts = append(opts, store.WithResultURL(job.ResultArtifactURL))
	}
	if job.PreviewImageURL != "" {
		opts = append(opts, store.WithPreviewURL(job.PreviewImageURL))
	}
	if job.ErrorMessage != "" {
		opts = append(opts, store.WithErrorMessage(job.ErrorMessage))
	}

	id, status := job.ID, job.Status
	svc.background(svc.opts.PersistTimeout, func(ctx context.Context) {
		err := svc.store.UpdateJobStatus(ctx, id, status, opts...)
		// ErrInvalidTransition means a newer terminal write already landed
		if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrInvalidTransition) {
			slog.Warn("mirroring job status failed", "job_id", id, "status", status, "error", err)
		}
	})
}

func pollErrorMessage(err error) string {
	switch {
	case errors.Is(err, apierr.ErrNetwork):
		return "Lost connection to the generation service. Still retrying."
	case errors.Is(err, apierr.ErrAuthRequired):
		return "The generation service rejected the request. Still retrying."
	default:
		return apierr.Message(err) + " Still retrying."
	}
}
