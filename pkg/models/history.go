package models

import "time"

// HistoryEntry is one row of the bookkeeping backend's job history.
type HistoryEntry struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	Kind         Kind      `json:"kind"`
	Prompt       string    `json:"prompt,omitempty"`
	Name         string    `json:"name,omitempty"`
	Status       Status    `json:"status"`
	ImageURL     string    `json:"image_url,omitempty"`
	ModelURL     string    `json:"model_url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// User is the bookkeeping backend's view of the signed-in account.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	EarlyAccess bool   `json:"early_access"`
}

// Preview is the result of a text-to-image call, shown before committing to a 3D job.
type Preview struct {
	ImageURL  string `json:"image_url"`
	PreviewID string `json:"preview_id"`
}
