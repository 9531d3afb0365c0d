// Package transport delivers envelope batches to the collector.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vincentbai/behaviortrace/internal/clock"
	"github.com/vincentbai/behaviortrace/internal/models"
)

// Transport sends one batch and returns the collector's suggestion, if any.
type Transport interface {
	Send(ctx context.Context, events []models.Envelope) (*models.Suggestion, error)
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("collector returned HTTP %d", e.Code) }

// RejectedError is a 2xx response carrying success=false.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return "collector rejected batch: " + e.Message }

// ResponseError is a 2xx response whose body could not be parsed. The batch
// reached the collector, so it must not be sent again.
type ResponseError struct {
	Err error
}

func (e *ResponseError) Error() string { return "malformed collector response: " + e.Err.Error() }
func (e *ResponseError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed Send should enter the retry path.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var respErr *ResponseError
	return !errors.As(err, &respErr)
}

type HTTP struct {
	endpoint string
	version  string
	client   *http.Client
	clock    clock.Clock
}

func NewHTTP(endpoint, version string, timeout time.Duration, clk clock.Clock) *HTTP {
	if version == "" {
		version = models.ProtocolVersion
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &HTTP{
		endpoint: endpoint,
		version:  version,
		client:   &http.Client{Timeout: timeout},
		clock:    clk,
	}
}

func (h *HTTP) Send(ctx context.Context, events []models.Envelope) (*models.Suggestion, error) {
	body, err := json.Marshal(models.TrackRequest{
		Events: events,
		Meta:   models.Meta{ClientTime: h.clock.Now().UnixMilli(), Version: h.version},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach collector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var result models.TrackResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ResponseError{Err: err}
	}
	if !result.Success {
		return nil, &RejectedError{Message: result.Message}
	}
	if result.Data == nil {
		return nil, nil
	}
	return result.Data.AISuggestion, nil
}
