package models

// Phase is the label shown next to a progress bar.
type Phase string

const (
	PhaseWaiting    Phase = "waiting"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseCancelled  Phase = "cancelled"
)

// DisplayProgress is a client-synthesized approximation of completion.
// It is derived state: never persisted and never sent to the bookkeeping backend.
type DisplayProgress struct {
	JobID    string  `json:"job_id"`
	Percent  float64 `json:"percent"`
	Phase    Phase   `json:"phase"`
	Terminal bool    `json:"terminal"`
}
