package store

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/forge3d/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface for the job mirror. All database
// operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.JobRecord) error
	GetJob(ctx context.Context, id string, userID string) (*models.JobRecord, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.JobRecord, error)
	UpdateJobStatus(ctx context.Context, id string, status models.Status, opts ...JobUpdateOption) error
	RenameJob(ctx context.Context, id string, userID string, name string) error
	DeleteJob(ctx context.Context, id string, userID string) error
}

type JobFilter struct {
	UserID     string
	ActiveOnly bool
	Limit      int
}

type jobUpdateParams struct {
	ErrorMessage *string
	ResultURL    *string
	PreviewURL   *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResultURL(url string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ResultURL = &url
	}
}

func WithPreviewURL(url string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.PreviewURL = &url
	}
}
