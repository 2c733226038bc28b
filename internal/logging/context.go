package logging

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}

// WithRunID attaches a batch run id to ctx. Every *WithContext log line
// made under ctx carries it as run_id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID returns the run id on ctx, or "".
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NewRunID generates a random run id.
func NewRunID() string {
	return uuid.New().String()
}

// EnsureRunID returns ctx unchanged when it already carries a run id.
// Otherwise it attaches one from gen, or NewRunID when gen is nil.
func EnsureRunID(ctx context.Context, gen func() string) (context.Context, string) {
	if id := RunID(ctx); id != "" {
		return ctx, id
	}
	if gen == nil {
		gen = NewRunID
	}
	id := gen()
	return WithRunID(ctx, id), id
}
