package llm

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Retry policy: base 1s, factor 2, jitter ±20%, max 5 attempts.
const (
	retryBaseDelay  = 1 * time.Second
	retryFactor     = 2.0
	retryJitter     = 0.20
	retryMaxAttempts = 5
)

// sleepFunc is injectable for tests.
var sleepFunc = time.Sleep

// CompleteWithRetry wraps Complete in exponential backoff on throttling or
// transient errors. Terminal failure after retryMaxAttempts returns the last
// error; callers degrade to their own safe-default response.
func CompleteWithRetry(ctx context.Context, p Provider, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	delay := retryBaseDelay

	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}

		if attempt == retryMaxAttempts-1 {
			break
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		sleepFunc(applyJitter(delay))
		delay = time.Duration(float64(delay) * retryFactor)
	}

	return nil, lastErr
}

func applyJitter(d time.Duration) time.Duration {
	// ±20% jitter around d.
	span := float64(d) * retryJitter
	offset := (rand.Float64()*2 - 1) * span
	return time.Duration(float64(d) + offset)
}

// IsRetryable classifies an error from a Provider call as a transient,
// retryable failure (throttling, timeout, 5xx) versus a terminal one.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "too many requests", "rate limit", "throttl",
		"500", "502", "503", "504", "timeout", "deadline exceeded",
		"connection reset", "connection refused", "temporarily unavailable",
	} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}
