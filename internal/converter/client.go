// Package converter is the HTTP client for the external Markdown conversion
// service. Conversion itself is asynchronous: the service accepts a job,
// converts in its own time and posts the result to our callback endpoint.
package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"doc-ingest-platform/models"
)

// ErrRejected marks a synchronous converter rejection: the job will never
// succeed and must not be retried.
var ErrRejected = errors.New("converter rejected job")

// Job is one conversion request.
type Job struct {
	DocumentID     string
	FilePath       string
	Format         string
	FormatCategory string
	Conversion     models.ConversionConfig
}

// acceptResponse is the converter's synchronous acknowledgement.
type acceptResponse struct {
	Accepted bool   `json:"accepted"`
	JobID    string `json:"jobId"`
	Error    string `json:"error,omitempty"`
}

// Client talks to the conversion service.
type Client struct {
	baseURL     string
	callbackURL string
	httpClient  *http.Client
}

// NewClient builds a converter client. callbackURL is the absolute URL of
// our /internal/callback endpoint, handed to the service with every job.
func NewClient(baseURL, callbackURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		baseURL:     baseURL,
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// IsHealthy checks the converter's health endpoint.
func (c *Client) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Dispatch uploads the file and job parameters. A 4xx answer means the
// converter will never take this job (ErrRejected); network failures and 5xx
// are ordinary errors the queue retries.
func (c *Client) Dispatch(ctx context.Context, job Job) error {
	fileData, err := os.ReadFile(job.FilePath)
	if err != nil {
		return fmt.Errorf("%w: unreadable upload: %v", ErrRejected, err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filepath.Base(job.FilePath))
	if err != nil {
		return fmt.Errorf("failed to build form file: %w", err)
	}
	if _, err := fileWriter.Write(fileData); err != nil {
		return fmt.Errorf("failed to write form file: %w", err)
	}

	conversion, err := json.Marshal(job.Conversion)
	if err != nil {
		return fmt.Errorf("failed to encode conversion config: %w", err)
	}
	writer.WriteField("documentId", job.DocumentID)
	writer.WriteField("format", job.Format)
	writer.WriteField("formatCategory", job.FormatCategory)
	writer.WriteField("callbackUrl", c.callbackURL)
	writer.WriteField("conversion", string(conversion))
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", &buf)
	if err != nil {
		return fmt.Errorf("failed to build convert request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("convert request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, string(body))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("converter returned status %d", resp.StatusCode)
	}

	var accepted acceptResponse
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return fmt.Errorf("failed to decode converter response: %w", err)
	}
	if !accepted.Accepted {
		return fmt.Errorf("%w: %s", ErrRejected, accepted.Error)
	}
	return nil
}
