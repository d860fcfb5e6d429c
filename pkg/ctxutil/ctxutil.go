// Package ctxutil carries per-run identifiers through context.Context.
package ctxutil

import "context"

type ctxKey string

const runIDKey ctxKey = "run_id"

// WithRunID stores the ingestion run ID in the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromCtx extracts the run ID from the context.
// Returns an empty string and false if absent or empty.
func RunIDFromCtx(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
