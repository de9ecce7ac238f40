package repository

import (
	"context"
	"time"
)

// DefaultQueryTimeout applies when a repository is built with a zero timeout
const DefaultQueryTimeout = 5 * time.Second

// withTimeout bounds a single statement. The parent deadline still wins when it is earlier.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
