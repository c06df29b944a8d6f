// Package fetcher implements the HTTP-first fetch strategy with a conditional
// headless-render fallback.
package fetcher

import "time"

// Attempt budget for the direct fetch path.
const defaultMaxAttempts = 3

// RetryableStatus reports whether an HTTP status warrants another attempt.
func RetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// BackoffDelay returns the wait before retrying after the given attempt
// (1-based). The schedule is 2^attempt seconds, doubled again for 429 since
// rate limiting wants a longer pause than an ordinary server error.
func BackoffDelay(attempt, statusCode int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if statusCode == 429 {
		delay *= 2
	}
	return delay
}
