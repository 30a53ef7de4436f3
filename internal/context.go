package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextSourceAddrKey ctxKey = "sourceAddr"

func SourceAddrFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if addr, ok := ctx.Value(ContextSourceAddrKey).(string); ok {
		return addr
	}
	return ""
}

func ContextWithSourceAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, ContextSourceAddrKey, addr)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
