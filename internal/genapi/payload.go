package genapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// statusPayload is the wire shape of GET /status/{job_id}. Field names vary
// slightly between generation API versions, hence the aliases.
type statusPayload struct {
	JobID      string      `json:"job_id"`
	Status     string      `json:"status"`
	CreatedAt  flexTime    `json:"created_at"`
	ModelURL   string      `json:"model_url"`
	ResultURL  string      `json:"result_url"`
	PreviewURL string      `json:"preview_url"`
	ImageURL   string      `json:"image_url"`
	Error      string      `json:"error"`
	Message    string      `json:"message"`
	Queue      *queueBlock `json:"queue"`
}

type queueBlock struct {
	Position              *int     `json:"position"`
	EstimatedWaitSeconds  *float64 `json:"estimated_wait_seconds"`
	EstimatedTotalSeconds *float64 `json:"estimated_total_seconds"`
	JobsAhead             *int     `json:"jobs_ahead"`
}

func (p statusPayload) toJob(requestedID string) *models.Job {
	id := p.JobID
	if id == "" {
		id = requestedID
	}

	job := &models.Job{
		ID:                id,
		Status:            parseStatus(p.Status),
		CreatedAt:         time.Time(p.CreatedAt),
		ResultArtifactURL: firstNonEmpty(p.ModelURL, p.ResultURL),
		PreviewImageURL:   firstNonEmpty(p.PreviewURL, p.ImageURL),
		ErrorMessage:      firstNonEmpty(p.Error, p.Message),
	}

	if p.Queue != nil {
		q := &models.Queue{
			EstimatedWaitSeconds:  p.Queue.EstimatedWaitSeconds,
			EstimatedTotalSeconds: p.Queue.EstimatedTotalSeconds,
		}
		switch {
		case p.Queue.Position != nil:
			q.Position = *p.Queue.Position
		case p.Queue.JobsAhead != nil:
			q.Position = *p.Queue.JobsAhead
		}
		if p.Queue.JobsAhead != nil {
			q.JobsAhead = *p.Queue.JobsAhead
		}
		job.Queue = q
	}

	if job.Status == models.StatusFailed && job.ErrorMessage == "" {
		job.ErrorMessage = "generation failed"
	}
	if job.Status == models.StatusCancelled && job.ErrorMessage == "" {
		job.ErrorMessage = "generation was cancelled"
	}

	job.Normalize()
	return job
}

// parseStatus folds the generation API's status vocabulary onto models.Status.
func parseStatus(s string) models.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "complete", "succeeded", "success", "done":
		return models.StatusCompleted
	case "failed", "error":
		return models.StatusFailed
	case "cancelled", "canceled":
		return models.StatusCancelled
	case "processing", "running", "in_progress":
		return models.StatusProcessing
	case "queued", "waiting":
		return models.StatusQueued
	case "", "pending", "submitted":
		return models.StatusPending
	default:
		return models.Status(strings.ToLower(s))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// flexTime accepts RFC 3339 strings or unix seconds (integer or fractional).
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			*t = flexTime(parsed.UTC())
			return nil
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			*t = flexTime(unixFloat(secs))
			return nil
		}
		return fmt.Errorf("unrecognized timestamp %q", s)
	}

	secs, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("unrecognized timestamp %s", b)
	}
	*t = flexTime(unixFloat(secs))
	return nil
}

func unixFloat(secs float64) time.Time {
	whole := int64(secs)
	frac := int64((secs - float64(whole)) * float64(time.Second))
	return time.Unix(whole, frac).UTC()
}
