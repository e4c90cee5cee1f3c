package accountguard

import "context"

type requestIDContextKey struct{}
type actorContextKey struct{}

// WithRequestID attaches a correlation identifier to ctx. Every audit event
// emitted while serving ctx carries it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// WithActor attaches the authenticated operator identity to ctx. The delivery
// layer uses it for administrative operations.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the operator identity attached by WithActor.
func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	actor, _ := ctx.Value(actorContextKey{}).(string)
	return actor
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	requestID, _ := ctx.Value(requestIDContextKey{}).(string)
	return requestID
}
