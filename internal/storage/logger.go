package storage

import (
	"context"
	"time"

	"sessionrecorder/internal/ctxkeys"
	ilog "sessionrecorder/internal/logger"

	"gorm.io/gorm/logger"
)

// GormLogger 将 GORM 日志转发到项目日志接口
type GormLogger struct {
	ilog.Logger
	LogLevel      logger.LogLevel
	SlowThreshold time.Duration
}

// NewGormLogger 创建新的GormLogger实例
func NewGormLogger(l ilog.Logger) *GormLogger {
	if l == nil {
		l = ilog.NewNop()
	}
	return &GormLogger{
		Logger:        l,
		LogLevel:      logger.Warn,
		SlowThreshold: 500 * time.Millisecond,
	}
}

// LogMode 设置日志级别
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info 打印info级别日志
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.Logger.Info(msg, l.fields(ctx, "data", data)...)
	}
}

// Warn 打印warn级别日志
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.Logger.Warn(msg, l.fields(ctx, "data", data)...)
	}
}

// Error 打印error级别日志
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.Logger.Error(msg, l.fields(ctx, "data", data)...)
	}
}

// Trace 打印SQL日志
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := l.fields(ctx,
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds())/1e6,
	)

	switch {
	case err != nil && l.LogLevel >= logger.Error && !isNotFound(err):
		l.Logger.Error("SQL执行错误", append(fields, "error", err.Error())...)
	case elapsed > l.SlowThreshold && l.SlowThreshold > 0 && l.LogLevel >= logger.Warn:
		l.Logger.Warn("慢SQL查询", append(fields, "threshold", l.SlowThreshold.String())...)
	case l.LogLevel == logger.Info:
		l.Logger.Debug("SQL执行", fields...)
	}
}

// fields 附加追踪 ID 与捕获上下文
func (l *GormLogger) fields(ctx context.Context, kv ...any) []any {
	out := make([]any, 0, len(kv)+4)
	if id := ctxkeys.TraceID(ctx); id != "" {
		out = append(out, "traceId", id)
	}
	if id := ctxkeys.ContextID(ctx); id != "" {
		out = append(out, "context", id)
	}
	return append(out, kv...)
}
