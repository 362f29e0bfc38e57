package ctxkeys

import (
	"context"

	"github.com/google/uuid"
)

// TraceIDKey 上下文中追踪 ID 的键
type TraceIDKey struct{}

// ContextIDKey 上下文中捕获上下文 ID 的键
type ContextIDKey struct{}

// WithTraceID 为上下文附加新的追踪 ID，已存在时保持不变
func WithTraceID(ctx context.Context) context.Context {
	if TraceID(ctx) != "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey{}, uuid.NewString())
}

// TraceID 读取上下文中的追踪 ID
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithContextID 为上下文附加捕获上下文 ID
func WithContextID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextIDKey{}, id)
}

// ContextID 读取上下文中的捕获上下文 ID
func ContextID(ctx context.Context) string {
	if v, ok := ctx.Value(ContextIDKey{}).(string); ok {
		return v
	}
	return ""
}
