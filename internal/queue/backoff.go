package queue

import "time"

// DefaultBaseDelay and DefaultMaxAttempts apply when Config leaves them unset.
const (
	DefaultBaseDelay   = 60 * time.Second
	DefaultMaxAttempts = 5
)

// Backoff returns base * 2^attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return base << attempt
}

// shouldRetry reports whether a failed attempt leaves another one within max.
func shouldRetry(attempt, max int) bool {
	return attempt+1 < max
}
