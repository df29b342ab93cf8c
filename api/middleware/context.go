package middleware

import (
	"context"

	"github.com/angelmondragon/foodops-backend/pkg/enums"
)

type contextKey string

const (
	ctxActorID   contextKey = "actor_id"
	ctxActorKind contextKey = "actor_kind"
)

func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxActorID).(string); ok {
		return v
	}
	return ""
}

func ActorKindFromContext(ctx context.Context) enums.ActorKind {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxActorKind).(enums.ActorKind); ok {
		return v
	}
	return ""
}

// WithActor injects the authenticated actor into the context.
func WithActor(ctx context.Context, actorID string, kind enums.ActorKind) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxActorID, actorID)
	return context.WithValue(ctx, ctxActorKind, kind)
}
