// Package embedding turns document text into vectors through an external
// embeddings API.
package embedding

import (
	"context"
	"errors"
)

// ErrRateLimited marks failures the caller may retry after a delay.
var ErrRateLimited = errors.New("embedding rate limited")

// Embedder computes a fixed-dimension vector for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
