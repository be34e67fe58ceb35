package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"link_grader/internal/config"
)

var (
	ErrDisallowed = errors.New("disallowed by robots.txt")
	ErrCaptcha    = errors.New("captcha detected")
	ErrHTTPStatus = errors.New("unexpected http status")
)

type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Retryable reports whether err is worth another attempt: network failures
// and transient HTTP statuses are, robots refusals and captchas are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrDisallowed) || errors.Is(err, ErrCaptcha) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return isRetryableStatus(se.Code)
	}
	return true
}

// withRetry runs once until it succeeds, fails with a non retryable error or
// the policy's attempts are used up. Delays between attempts grow per policy.
func withRetry(ctx context.Context, policy config.RetryPolicy, logger *slog.Logger, rawURL string,
	once func(ctx context.Context, rawURL string) (*Page, error)) (*Page, error) {
	attempts := max(policy.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if delay := policy.GetRetryDelay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		page, err := once(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if !Retryable(err) || ctx.Err() != nil {
			break
		}
		logger.Warn("Fetch failed", "url", rawURL, "attempt", attempt, "error", err)
	}

	return nil, lastErr
}
