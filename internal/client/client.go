// Package client provides an HTTP client for the workstation provisioning service
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shehryarbajwa/cloud-workstations/internal/catalog"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

const (
	LaunchPath  = "/api/workstation/launch"
	CatalogPath = "/api/workstation/catalog"

	// maxResponseBytes bounds how much of a response body is read
	maxResponseBytes = 1 << 20
)

// StatusError is returned when the service answers with an error-class status
type StatusError struct {
	Code int
	// Message is the service's "error" field, empty when the body carried none
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Code)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Code, e.Message)
}

// TransportError is returned when no response was received
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("request failed: %v", e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when a success response cannot be used
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Client talks to the provisioning endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the service at baseURL. A zero timeout leaves requests bounded
// only by their context.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Launch sends one launch request and returns the validated session descriptor
func (c *Client) Launch(ctx context.Context, osID models.OSIdentifier) (*models.SessionDescriptor, error) {
	body, err := json.Marshal(models.LaunchRequest{OSIdentifier: osID})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+LaunchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var descriptor models.SessionDescriptor
	if err := c.do(req, &descriptor); err != nil {
		return nil, err
	}

	if err := descriptor.Validate(); err != nil {
		return nil, &MalformedResponseError{Err: err}
	}
	if descriptor.OSIdentifier != osID {
		return nil, &MalformedResponseError{
			Err: fmt.Errorf("requested %s but service launched %s", osID, descriptor.OSIdentifier),
		}
	}
	if descriptor.Status != models.StatusRunning {
		return nil, &MalformedResponseError{
			Err: fmt.Errorf("launch succeeded with status %q, want %q", descriptor.Status, models.StatusRunning),
		}
	}

	return &descriptor, nil
}

// Catalog fetches the OS display catalog
func (c *Client) Catalog(ctx context.Context) ([]catalog.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+CatalogPath, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	var entries []catalog.Entry
	if err := c.do(req, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// do executes req and decodes a success body into out
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &MalformedResponseError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage extracts the "error" field of a failure body, if there is one
func errorMessage(data []byte) string {
	var body models.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return strings.TrimSpace(body.Error)
}
