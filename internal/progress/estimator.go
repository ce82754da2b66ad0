// Package progress turns client-observable job timing into a bounded,
// never-decreasing percentage for display.
package progress

import (
	"math"
	"time"

	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// MaxNonTerminal is the highest percentage estimation may produce. Only an
// authoritative completed status moves a job to 100.
const MaxNonTerminal = 99.0

// Params are the presentation heuristics of the bar.
type Params struct {
	WaitingCeiling    float64
	ProcessingCeiling float64
	FallbackTotal     time.Duration
}

// DefaultParams returns the stock ceilings (45% / 95%) and a three minute fallback total.
func DefaultParams() Params {
	return Params{
		WaitingCeiling:    45,
		ProcessingCeiling: 95,
		FallbackTotal:     3 * time.Minute,
	}
}

// Input is one observation of a job. Nil pointers mean the backend did not report the value.
type Input struct {
	Elapsed        time.Duration
	QueuePosition  *int
	EstimatedWait  *time.Duration
	EstimatedTotal *time.Duration
}

// InputFromJob builds an Input from a status payload observed at now.
func InputFromJob(job *models.Job, now time.Time) Input {
	in := Input{QueuePosition: job.QueuePosition()}
	if !job.CreatedAt.IsZero() {
		in.Elapsed = now.Sub(job.CreatedAt)
	}
	if job.Queue != nil {
		in.EstimatedWait = seconds(job.Queue.EstimatedWaitSeconds)
		in.EstimatedTotal = seconds(job.Queue.EstimatedTotalSeconds)
	}
	return in
}

func seconds(v *float64) *time.Duration {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	d := time.Duration(*v * float64(time.Second))
	return &d
}

// PhaseOf reports whether the job is still waiting in the queue.
func PhaseOf(in Input) models.Phase {
	if in.QueuePosition != nil && *in.QueuePosition > 0 {
		return models.PhaseWaiting
	}
	return models.PhaseProcessing
}

// Estimate is the stateless two-phase estimate for a non-terminal job. The
// result lies in [0, MaxNonTerminal]; monotonicity across calls is the
// Tracker's job.
//
// While waiting the bar fills 0 → WaitingCeiling over the estimated wait.
// While processing it fills WaitingCeiling → ProcessingCeiling over the span
// between the estimated wait and the estimated total.
func (p Params) Estimate(in Input) float64 {
	elapsed := in.Elapsed.Seconds()
	if elapsed < 0 {
		elapsed = 0
	}

	total := p.FallbackTotal.Seconds()
	if in.EstimatedTotal != nil && *in.EstimatedTotal > 0 {
		total = in.EstimatedTotal.Seconds()
	}
	wait := 0.0
	if in.EstimatedWait != nil && *in.EstimatedWait > 0 {
		wait = in.EstimatedWait.Seconds()
	}

	var pct float64
	if PhaseOf(in) == models.PhaseWaiting {
		pct = clamp(ratio(elapsed, wait, total)*p.WaitingCeiling, 0, p.WaitingCeiling)
	} else {
		span := total - wait
		var r float64
		if span > 0 {
			r = (elapsed - wait) / span
		} else {
			r = ratio(elapsed, 0, total)
		}
		pct = clamp(p.WaitingCeiling+r*(p.ProcessingCeiling-p.WaitingCeiling), p.WaitingCeiling, p.ProcessingCeiling)
	}

	return clamp(pct, 0, MaxNonTerminal)
}

// ratio is num/den, falling back to num/fallback when den is not positive.
func ratio(num, den, fallback float64) float64 {
	if den > 0 {
		return num / den
	}
	if fallback > 0 {
		return num / fallback
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
