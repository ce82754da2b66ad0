package models

import "time"

// JobRecord is the studio's own mirror of a job it submitted. It lets a
// session resume polling when the bookkeeping backend is unreachable.
type JobRecord struct {
	ID           string     `db:"id"            json:"id"`
	UserID       string     `db:"user_id"       json:"user_id"`
	Kind         Kind       `db:"kind"          json:"kind"`
	Prompt       string     `db:"prompt"        json:"prompt,omitempty"`
	ImageURL     string     `db:"image_url"     json:"image_url,omitempty"`
	Name         string     `db:"name"          json:"name,omitempty"`
	Status       Status     `db:"status"        json:"status"`
	ResultURL    string     `db:"result_url"    json:"result_url,omitempty"`
	PreviewURL   string     `db:"preview_url"   json:"preview_url,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	FinishedAt   *time.Time `db:"finished_at"   json:"finished_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// HistoryEntry converts the record into the shape the history view renders.
func (r *JobRecord) HistoryEntry() HistoryEntry {
	return HistoryEntry{
		ID:           r.ID,
		JobID:        r.ID,
		Kind:         r.Kind,
		Prompt:       r.Prompt,
		Name:         r.Name,
		Status:       r.Status,
		ImageURL:     r.ImageURL,
		ModelURL:     r.ResultURL,
		ThumbnailURL: r.PreviewURL,
		CreatedAt:    r.CreatedAt,
	}
}
