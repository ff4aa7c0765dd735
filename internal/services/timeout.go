package services

import (
	"context"
	"time"
)

const DefaultStoreTimeout = 5 * time.Second

type deadline time.Duration

func (d deadline) duration() time.Duration {
	if d <= 0 {
		return DefaultStoreTimeout
	}
	return time.Duration(d)
}

// read bounds a store call by the request context and the store timeout.
func (d deadline) read(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.duration())
}

// write detaches from request cancellation so a disconnecting client does not
// abort a mutation halfway.
func (d deadline) write(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.duration())
}
