package progress

import (
	"sync"

	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// Tracker remembers the last displayed percentage per job so the bar never
// moves backwards, even when the backend revises its estimates downward.
// A Tracker lives as long as the session that displays the bars.
type Tracker struct {
	params Params

	mu   sync.Mutex
	last map[string]models.DisplayProgress
}

func NewTracker(params Params) *Tracker {
	return &Tracker{params: params, last: make(map[string]models.DisplayProgress)}
}

// Observe folds a new non-terminal observation into the job's progress.
func (t *Tracker) Observe(jobID string, in Input) models.DisplayProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.last[jobID]
	if seen && prev.Terminal {
		return prev
	}

	pct := t.params.Estimate(in)
	if seen && prev.Percent > pct {
		pct = prev.Percent
	}

	p := models.DisplayProgress{JobID: jobID, Percent: pct, Phase: PhaseOf(in)}
	t.last[jobID] = p
	return p
}

// Finish records a terminal status. Completed jumps to 100; failed and
// cancelled freeze the bar where it was.
func (t *Tracker) Finish(jobID string, status models.Status) models.DisplayProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.last[jobID]
	p.JobID = jobID
	p.Terminal = true
	switch status {
	case models.StatusCompleted:
		p.Percent = 100
		p.Phase = models.PhaseCompleted
	case models.StatusCancelled:
		p.Phase = models.PhaseCancelled
	default:
		p.Phase = models.PhaseFailed
	}
	t.last[jobID] = p
	return p
}

// Current returns the last progress recorded for jobID.
func (t *Tracker) Current(jobID string) (models.DisplayProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.last[jobID]
	return p, ok
}

// Forget drops a job, e.g. after it was deleted from the history.
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, jobID)
}

// Reset drops everything. Called on sign-out.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = make(map[string]models.DisplayProgress)
}
