// Package genapi is the typed client for the external 3D generation API.
package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/forge3d/internal/apierr"
	"github.com/kiranshivaraju/forge3d/pkg/models"
)

// Client is the interface for talking to the generation API.
type Client interface {
	TextToImage(ctx context.Context, prompt string) (*models.Preview, error)
	SubmitText(ctx context.Context, prompt string) (string, error)
	SubmitImage(ctx context.Context, in ImageInput) (string, error)
	Status(ctx context.Context, jobID string) (*models.Job, error)
	Cancel(ctx context.Context, jobID string) error
}

// ImageInput is the source image of an image-to-3D job. Exactly one of URL
// or File must be set.
type ImageInput struct {
	URL      string
	File     io.Reader
	Filename string
}

// Validate reports ErrInvalidInput when neither or both sources are set.
func (in ImageInput) Validate() error {
	hasURL := strings.TrimSpace(in.URL) != ""
	hasFile := in.File != nil
	switch {
	case hasURL && hasFile:
		return apierr.Invalid("provide either an image file or an image URL, not both")
	case !hasURL && !hasFile:
		return apierr.Invalid("an image file or an image URL is required")
	}
	if hasURL {
		u, err := url.Parse(in.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apierr.Invalid("image URL must be an absolute http(s) URL")
		}
	}
	return nil
}

// HTTPClient implements Client over the generation API's HTTP endpoints.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new generation API client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) TextToImage(ctx context.Context, prompt string) (*models.Preview, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, apierr.Invalid("prompt is required")
	}

	body, contentType, err := multipartBody(map[string]string{"prompt": prompt}, nil)
	if err != nil {
		return nil, err
	}

	var out struct {
		ImageURL  string `json:"image_url"`
		PreviewID string `json:"preview_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/text-to-image", body, contentType, &out); err != nil {
		return nil, err
	}
	if out.ImageURL == "" {
		return nil, &apierr.ServerError{StatusCode: http.StatusOK, Message: "text-to-image response had no image_url"}
	}
	return &models.Preview{ImageURL: out.ImageURL, PreviewID: out.PreviewID}, nil
}

func (c *HTTPClient) SubmitText(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", apierr.Invalid("prompt is required")
	}

	body, contentType, err := multipartBody(map[string]string{"prompt": prompt}, nil)
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "/text-to-3d", body, contentType)
}

func (c *HTTPClient) SubmitImage(ctx context.Context, in ImageInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}

	var (
		body        *bytes.Buffer
		contentType string
		err         error
	)
	if in.File != nil {
		body, contentType, err = multipartBody(nil, &in)
	} else {
		body, contentType, err = multipartBody(map[string]string{"image_url": in.URL}, nil)
	}
	if err != nil {
		return "", err
	}
	return c.submit(ctx, "/image-to-3d", body, contentType)
}

func (c *HTTPClient) Status(ctx context.Context, jobID string) (*models.Job, error) {
	if jobID == "" {
		return nil, apierr.Invalid("job id is required")
	}

	var payload statusPayload
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(jobID), nil, "", &payload); err != nil {
		return nil, err
	}

	job := payload.toJob(jobID)
	return job, nil
}

func (c *HTTPClient) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return apierr.Invalid("job id is required")
	}
	return c.do(ctx, http.MethodPost, "/cancel/"+url.PathEscape(jobID), nil, "", nil)
}

func (c *HTTPClient) submit(ctx context.Context, path string, body io.Reader, contentType string) (string, error) {
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, contentType, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", &apierr.ServerError{StatusCode: http.StatusOK, Message: "submission response had no job_id"}
	}
	return out.JobID, nil
}

// do sends one request and decodes a 2xx JSON body into out (when non-nil).
func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apierr.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apierr.FromResponse(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apierr.ServerError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return nil
}

func multipartBody(fields map[string]string, file *ImageInput) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("writing form field %s: %w", k, err)
		}
	}

	if file != nil {
		name := file.Filename
		if name == "" {
			name = "upload.png"
		}
		part, err := w.CreateFormFile("image_file", name)
		if err != nil {
			return nil, "", fmt.Errorf("creating form file: %w", err)
		}
		if _, err := io.Copy(part, file.File); err != nil {
			return nil, "", fmt.Errorf("copying image: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
