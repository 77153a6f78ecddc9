package scheduler

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}

// NewRunID returns a short random run identifier.
func NewRunID() string { return uuid.NewString()[:8] }

// WithRunID attaches a run identifier to ctx.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the run identifier carried by ctx, or "" when there is none.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey{}).(string)
	return v
}

// EnsureRunID returns ctx and its run identifier, attaching a new one when ctx
// carries none.
func EnsureRunID(ctx context.Context) (context.Context, string) {
	if id := RunID(ctx); id != "" {
		return ctx, id
	}
	id := NewRunID()
	return WithRunID(ctx, id), id
}
