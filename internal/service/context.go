package service

import (
	"context"
	"strings"

	"posledger/internal/model"
)

type actorKey struct{}

// WithActor 把当前操作人写入上下文，审计日志从这里读取
func WithActor(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actorKey{}, name)
}

// ActorFromContext 未登录时返回 System
func ActorFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(actorKey{}).(string); ok && strings.TrimSpace(name) != "" {
		return name
	}
	return model.ActorSystem
}
