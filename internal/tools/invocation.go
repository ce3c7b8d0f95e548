package tools

import (
	"context"

	"github.com/propfolio/researchd/internal/credits"
)

type invocationKey struct{}

// Invocation carries per-call identity into tool implementations that need
// to scope their effects to the acting user.
type Invocation struct {
	SessionID string
	Owner     credits.Owner
}

// WithInvocation attaches invocation identity to the context. The invoker
// sets this before Execute.
func WithInvocation(ctx context.Context, inv Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom extracts invocation identity; the zero value means an
// unscoped call (tests, composites).
func InvocationFrom(ctx context.Context) Invocation {
	inv, _ := ctx.Value(invocationKey{}).(Invocation)
	return inv
}
