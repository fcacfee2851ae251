package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Error kinds surfaced by source adapters. Callers distinguish transient
// throttling (back off and retry) from outage (retry) from credential
// problems (do not retry until configuration changes).
var (
	ErrRateLimited  = errors.New("source rate limited")
	ErrAuthRejected = errors.New("source authentication rejected")
	ErrUnavailable  = errors.New("source unavailable")
)

// RateLimitError carries the server-advertised retry delay when present.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source rate limited (retry after %s)", e.RetryAfter)
	}
	return "source rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// APIError is a non-retryable HTTP error from a source API.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("source API error %d: %s", e.StatusCode, e.Detail)
}

// classifyStatus maps an HTTP status code to the adapter error taxonomy.
func classifyStatus(resp *http.Response, detail string) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", ErrUnavailable, (&APIError{resp.StatusCode, detail}).Error())
	default:
		return &APIError{StatusCode: resp.StatusCode, Detail: detail}
	}
}

// classifyTransport maps transport-level failures. Timeouts and connection
// errors are the same retryable condition as an unreachable source.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// IsRetryable reports whether the error is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := time.ParseDuration(header + "s"); err == nil {
		return seconds
	}
	return 0
}
