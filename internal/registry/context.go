package registry

import "context"

type ctxKey int

const (
	reasonKey ctxKey = iota
	actorKey
	runIDKey
)

// WithReason tags mutations made with ctx for the audit log
// (e.g. "command", "forbidden").
func WithReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, reasonKey, reason)
}

func WithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorKey, userID)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

func ReasonFrom(ctx context.Context) string {
	v, _ := ctx.Value(reasonKey).(string)
	return v
}

func ActorFrom(ctx context.Context) int64 {
	v, _ := ctx.Value(actorKey).(int64)
	return v
}

func RunIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}
