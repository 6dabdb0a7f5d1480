// Package profile registers tracking profiles with the sync server's REST API.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m1ndfucker/autotracker/internal/resilience"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 2
)

// ErrProfileExists is returned when the server rejects a duplicate name.
var ErrProfileExists = errors.New("profile already exists")

// Client talks to the profile management endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	backoff resilience.Backoff
}

// New creates a profile client for the given API base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		backoff: resilience.Backoff{BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
}

type createRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type apiError struct {
	Error string `json:"error"`
}

// Create registers a new profile. Server errors that may be transient
// (network failures, 5xx responses) are retried; rejections are not.
func (c *Client) Create(ctx context.Context, name, password string) error {
	body, err := json.Marshal(createRequest{Name: name, Password: password})
	if err != nil {
		return fmt.Errorf("encode profile request: %w", err)
	}

	return resilience.Retry(ctx, maxRetries, c.backoff, transient, func() error {
		return c.create(ctx, body)
	})
}

func (c *Client) create(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/bb-profiles", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &transientError{err: fmt.Errorf("profile request: %w", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrProfileExists
	case resp.StatusCode >= 500:
		return &transientError{err: fmt.Errorf("server error: %s", resp.Status)}
	default:
		return fmt.Errorf("profile request rejected: %s", readError(resp))
	}
}

// readError extracts the server's error message, falling back to the status.
func readError(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Error != "" {
			return ae.Error
		}
	}
	return resp.Status
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
