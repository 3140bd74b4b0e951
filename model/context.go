package model

import "context"

// ActorContext carries the identity of whoever is driving a transition,
// plus correlation information for logging and tracing. It is immutable
// after construction and safe for concurrent reads.
type ActorContext struct {
	ActorID       string
	Role          string
	DepartmentID  string
	CorrelationID string
	TraceID       string
}

type actorKey struct{}

// WithActorContext attaches an ActorContext to the given context.
func WithActorContext(ctx context.Context, actor *ActorContext) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorContextFrom extracts the ActorContext from the context, or returns
// nil if not present.
func ActorContextFrom(ctx context.Context) *ActorContext {
	actor, _ := ctx.Value(actorKey{}).(*ActorContext)
	return actor
}
