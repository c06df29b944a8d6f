package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryableStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{429, 500, 502, 503, 504} {
		require.True(t, RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 410, 501} {
		require.False(t, RetryableStatus(code), "status %d", code)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2*time.Second, BackoffDelay(1, 500))
	require.Equal(t, 4*time.Second, BackoffDelay(2, 503))
	require.Equal(t, 8*time.Second, BackoffDelay(3, 0))
	// 429 doubles the schedule.
	require.Equal(t, 4*time.Second, BackoffDelay(1, 429))
	require.Equal(t, 8*time.Second, BackoffDelay(2, 429))
}
