package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
	"github.com/kiranshivaraju/forge3d/internal/genapi"
	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// Client satisfies genapi.Client for testing. Unset funcs fall back to
// simple canned behaviour; every call is counted.
type Client struct {
	TextToImageFunc func(ctx context.Context, prompt string) (*models.Preview, error)
	SubmitTextFunc  func(ctx context.Context, prompt string) (string, error)
	SubmitImageFunc func(ctx context.Context, in genapi.ImageInput) (string, error)
	StatusFunc      func(ctx context.Context, jobID string) (*models.Job, error)
	CancelFunc      func(ctx context.Context, jobID string) error

	mu          sync.Mutex
	statusCalls map[string]int
	submits     int
	cancels     []string
}

func (m *Client) TextToImage(ctx context.Context, prompt string) (*models.Preview, error) {
	if m.TextToImageFunc != nil {
		return m.TextToImageFunc(ctx, prompt)
	}
	return &models.Preview{ImageURL: "https://mock.local/preview.png", PreviewID: "preview-1"}, nil
}

func (m *Client) SubmitText(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.submits++
	n := m.submits
	m.mu.Unlock()
	if m.SubmitTextFunc != nil {
		return m.SubmitTextFunc(ctx, prompt)
	}
	if prompt == "" {
		return "", apierr.Invalid("prompt is required")
	}
	return fmt.Sprintf("job-%d", n), nil
}

func (m *Client) SubmitImage(ctx context.Context, in genapi.ImageInput) (string, error) {
	m.mu.Lock()
	m.submits++
	n := m.submits
	m.mu.Unlock()
	if m.SubmitImageFunc != nil {
		return m.SubmitImageFunc(ctx, in)
	}
	if err := in.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("job-%d", n), nil
}

func (m *Client) Status(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	if m.statusCalls == nil {
		m.statusCalls = make(map[string]int)
	}
	m.statusCalls[jobID]++
	m.mu.Unlock()
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, jobID)
	}
	return &models.Job{ID: jobID, Status: models.StatusProcessing, CreatedAt: time.Now().UTC()}, nil
}

func (m *Client) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.cancels = append(m.cancels, jobID)
	m.mu.Unlock()
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, jobID)
	}
	return nil
}

// StatusCalls returns how many times Status was called for jobID.
func (m *Client) StatusCalls(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls[jobID]
}

// Cancelled returns the job ids Cancel was called with, in order.
func (m *Client) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancels...)
}

// NewFailingClient returns a Client whose every call fails with err.
func NewFailingClient(err error) *Client {
	return &Client{
		TextToImageFunc: func(context.Context, string) (*models.Preview, error) { return nil, err },
		SubmitTextFunc:  func(context.Context, string) (string, error) { return "", err },
		SubmitImageFunc: func(context.Context, genapi.ImageInput) (string, error) { return "", err },
		StatusFunc:      func(context.Context, string) (*models.Job, error) { return nil, err },
		CancelFunc:      func(context.Context, string) error { return err },
	}
}

// NewSequenceClient returns a Client whose Status walks through the given
// statuses for every job, repeating the last one once exhausted.
func NewSequenceClient(statuses ...models.Status) *Client {
	var (
		mu  sync.Mutex
		pos = make(map[string]int)
	)
	created := time.Now().UTC()
	return &Client{
		StatusFunc: func(_ context.Context, jobID string) (*models.Job, error) {
			mu.Lock()
			i := pos[jobID]
			if i < len(statuses)-1 {
				pos[jobID] = i + 1
			}
			mu.Unlock()

			job := &models.Job{ID: jobID, Status: statuses[i], CreatedAt: created}
			switch job.Status {
			case models.StatusCompleted:
				job.ResultArtifactURL = "https://mock.local/" + jobID + ".glb"
			case models.StatusFailed, models.StatusCancelled:
				job.ErrorMessage = "mock " + string(job.Status)
			}
			return job, nil
		},
	}
}

// Compile-time check that Client implements genapi.Client.
var _ genapi.Client = (*Client)(nil)
