package llm

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// isRetryable reports whether another attempt could plausibly succeed.
// Cancellation of the caller's context is terminal; a per-attempt timeout
// is not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusRequestTimeout ||
			httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode >= 500
	}
	return false
}

// retryDelay picks the wait before the next attempt. A Retry-After header
// from the provider overrides the exponential backoff; either way the wait
// is capped at ceiling and jittered so parallel pipeline runs spread out.
func retryDelay(resp *http.Response, backoff, ceiling time.Duration) time.Duration {
	wait := backoff
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
	}
	if ceiling > 0 && wait > ceiling {
		wait = ceiling
	}
	if wait <= 0 {
		return 0
	}
	f := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(wait) * f)
}
