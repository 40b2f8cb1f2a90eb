// Package webhook delivers terminal build notifications to caller-supplied
// URLs with retry and backoff.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"texforge/internal/backend"
)

// Notification is the payload posted when a build reaches a terminal state.
type Notification struct {
	JobID     string               `json:"job_id"`
	TargetKey string               `json:"target_key"`
	Status    string               `json:"status"`
	Result    *backend.BuildResult `json:"result,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

type Sender interface {
	Notify(ctx context.Context, url string, n Notification) error
}

type httpSender struct {
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// NewHTTPSender builds a Sender that retries failed deliveries with
// exponential backoff.
func NewHTTPSender(timeout time.Duration, maxRetries int) Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 3
	}
	return &httpSender{
		client:      &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		baseBackoff: 500 * time.Millisecond,
	}
}

func (s *httpSender) Notify(ctx context.Context, url string, n Notification) error {
	body, _ := json.Marshal(n)
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		resp, err := s.client.Do(req)
		if err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if resp.Body != nil {
				_ = resp.Body.Close()
			}
			return nil
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			lastErr = errors.New(resp.Status)
		} else {
			lastErr = err
		}
		if attempt == s.maxRetries {
			break
		}
		backoff := s.baseBackoff * (1 << attempt)
		select {
		case <-time.After(backoff + time.Duration(int64(time.Millisecond)*int64(attempt*50))):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
