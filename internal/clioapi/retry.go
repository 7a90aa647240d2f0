package clioapi

import (
	"net/http"
	"strconv"
	"time"
)

// parseRetryDelay extracts a retry duration from a 429 response's headers.
// Clio sends a standard Retry-After in seconds; an HTTP date is accepted too.
// Returns 0 when no usable value is present so the caller falls back to its
// own backoff.
func parseRetryDelay(h http.Header) time.Duration {
	retryAfter := h.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
