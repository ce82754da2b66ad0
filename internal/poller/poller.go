// Package poller keeps one job's display state fresh by periodically asking
// the generation API for its status.
//
// A Poller owns at most one active loop. Starting a new loop cancels the
// previous one, and every result is applied under the poller's lock only if
// the loop that produced it is still the current one, so a superseded loop
// can never write into the sink after Start or Stop has returned.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
	"github.com/kiranshivaraju/forge3d/internal/metrics"
	"github.com/kiranshivaraju/forge3d/internal/progress"
	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// StatusFetcher is the subset of genapi.Client the poller needs.
type StatusFetcher interface {
	Status(ctx context.Context, jobID string) (*models.Job, error)
}

// Sink receives the results of a polling loop. Methods are called with the
// poller's lock held and must not call back into the Poller.
type Sink interface {
	Progress(job *models.Job, p models.DisplayProgress)
	Finished(job *models.Job, p models.DisplayProgress)
	PollError(jobID string, err error)
}

// RefreshFunc reloads the authoritative history after a job completed.
type RefreshFunc func(ctx context.Context) error

// Config holds the loop timing.
type Config struct {
	Interval         time.Duration
	FailureThreshold int
	RefreshTimeout   time.Duration
}

// DefaultConfig polls every five seconds and surfaces errors after three
// consecutive failures.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second, FailureThreshold: 3, RefreshTimeout: 15 * time.Second}
}

// NotFoundMessage is the failure text shown when the generation API no
// longer knows the job.
const NotFoundMessage = "This job no longer exists on the generation service."

// Poller drives a single status polling loop.
type Poller struct {
	fetcher StatusFetcher
	tracker *progress.Tracker
	sink    Sink
	refresh RefreshFunc
	cfg     Config
	now     func() time.Time

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	jobID  string
}

// New creates a Poller. refresh may be nil.
func New(fetcher StatusFetcher, tracker *progress.Tracker, sink Sink, refresh RefreshFunc, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultConfig().RefreshTimeout
	}
	return &Poller{
		fetcher: fetcher,
		tracker: tracker,
		sink:    sink,
		refresh: refresh,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Start cancels any active loop and begins polling jobID. createdAt is used
// for elapsed-time estimation when the status payload carries no timestamp.
// The first fetch is issued immediately.
func (p *Poller) Start(ctx context.Context, jobID string, createdAt time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.gen++
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.jobID = jobID

	go p.run(loopCtx, p.gen, jobID, createdAt)
}

// Stop cancels the active loop, if any. No sink call happens after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.gen++
}

// Active returns the job being polled.
func (p *Poller) Active() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobID, p.cancel != nil
}

func (p *Poller) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.jobID = ""
}

// run issues one fetch per tick. The next tick is armed only after the
// previous fetch resolved, so fetches of one loop never overlap.
func (p *Poller) run(ctx context.Context, gen uint64, jobID string, createdAt time.Time) {
	metrics.PollerStarted()
	defer metrics.PollerStopped()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in poll loop", "error", r, "job_id", jobID)
		}
	}()

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		job, err := p.fetcher.Status(ctx, jobID)
		latency := time.Since(start).Milliseconds()
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			if errors.Is(err, apierr.ErrNotFound) {
				metrics.ObservePollFetch("not_found", latency)
				p.finishNotFound(gen, jobID, createdAt)
				return
			}
			metrics.ObservePollFetch("error", latency)
			failures++
			slog.Warn("status poll failed", "job_id", jobID, "failures", failures, "error", err)
			if failures >= p.cfg.FailureThreshold {
				p.deliver(gen, func() { p.sink.PollError(jobID, err) })
			}
			timer.Reset(p.cfg.Interval)
			continue
		}

		metrics.ObservePollFetch("ok", latency)
		failures = 0
		if job.ID == "" {
			job.ID = jobID
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = createdAt
		}

		if job.Status.IsTerminal() {
			p.finish(ctx, gen, job)
			return
		}

		p.deliver(gen, func() {
			dp := p.tracker.Observe(job.ID, progress.InputFromJob(job, p.now()))
			p.sink.Progress(job, dp)
		})
		timer.Reset(p.cfg.Interval)
	}
}

func (p *Poller) finish(ctx context.Context, gen uint64, job *models.Job) {
	applied := p.deliver(gen, func() {
		dp := p.tracker.Finish(job.ID, job.Status)
		p.sink.Finished(job, dp)
		p.releaseLocked(gen)
	})
	if !applied {
		return
	}

	metrics.IncJobFinished(string(job.Status))
	slog.Info("job reached terminal state", "job_id", job.ID, "status", job.Status)

	if job.Status == models.StatusCompleted && p.refresh != nil {
		// the loop context is about to be released, the refresh must outlive it
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RefreshTimeout)
		go func() {
			defer cancel()
			if err := p.refresh(rctx); err != nil {
				slog.Warn("history refresh after completion failed", "job_id", job.ID, "error", err)
			}
		}()
	}
}

func (p *Poller) finishNotFound(gen uint64, jobID string, createdAt time.Time) {
	job := &models.Job{
		ID:           jobID,
		Status:       models.StatusFailed,
		CreatedAt:    createdAt,
		ErrorMessage: NotFoundMessage,
	}
	applied := p.deliver(gen, func() {
		dp := p.tracker.Finish(jobID, models.StatusFailed)
		p.sink.Finished(job, dp)
		p.releaseLocked(gen)
	})
	if applied {
		metrics.IncJobFinished("not_found")
		slog.Info("job not found, polling stopped", "job_id", jobID)
	}
}

// deliver runs fn under the lock if gen is still the current loop.
func (p *Poller) deliver(gen uint64, fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return false
	}
	fn()
	return true
}

// releaseLocked marks the loop as finished without bumping the generation.
func (p *Poller) releaseLocked(gen uint64) {
	if p.gen == gen && p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.jobID = ""
	}
}
