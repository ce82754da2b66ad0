// Package models holds the data types shared between the studio packages.
package models

import (
	"time"
)

// Status is the lifecycle state of a generation job as reported by the generation API.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transitions can occur.
// Unknown statuses are treated as non-terminal so polling keeps going.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Kind identifies which generation pipeline produced a job.
type Kind string

const (
	KindTextTo3D  Kind = "text-to-3d"
	KindImageTo3D Kind = "image-to-3d"
)

// Queue is the optional scheduling block of a status payload.
type Queue struct {
	// Position is 0 while processing, N when N jobs are ahead.
	Position              int      `json:"position"`
	EstimatedWaitSeconds  *float64 `json:"estimated_wait_seconds,omitempty"`
	EstimatedTotalSeconds *float64 `json:"estimated_total_seconds,omitempty"`
	JobsAhead             int      `json:"jobs_ahead,omitempty"`
}

// Job mirrors a generation request owned by the generation API.
// The studio treats it as a read-mostly cache of authoritative state.
type Job struct {
	ID                string    `db:"id"                  json:"id"`
	Status            Status    `db:"status"              json:"status"`
	CreatedAt         time.Time `db:"created_at"          json:"created_at"`
	Queue             *Queue    `db:"-"                   json:"queue,omitempty"`
	ResultArtifactURL string    `db:"result_artifact_url" json:"result_artifact_url,omitempty"`
	PreviewImageURL   string    `db:"preview_image_url"   json:"preview_image_url,omitempty"`
	ErrorMessage      string    `db:"error_message"       json:"error_message,omitempty"`
}

// QueuePosition returns the reported queue position, or nil when the payload had no queue block.
func (j *Job) QueuePosition() *int {
	if j.Queue == nil {
		return nil
	}
	p := j.Queue.Position
	return &p
}

// Normalize enforces the payload invariants: the result artifact is only
// kept for completed jobs, the error message only for failed or cancelled
// jobs, and a negative queue position is clamped to zero.
func (j *Job) Normalize() {
	if j.Status != StatusCompleted {
		j.ResultArtifactURL = ""
	}
	if j.Status != StatusFailed && j.Status != StatusCancelled {
		j.ErrorMessage = ""
	}
	if j.Queue != nil && j.Queue.Position < 0 {
		j.Queue.Position = 0
	}
}
