// Package trace tags each conversational turn with an ID so that every log
// line a turn produces can be correlated.
package trace

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// NewID returns a fresh turn ID.
func NewID() string {
	return "turn_" + uuid.NewString()
}

// WithTraceID returns a child of ctx carrying id.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext returns the turn ID carried by ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
