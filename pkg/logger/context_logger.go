package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

// RequestIDKey is set by the HTTP middleware so log lines can be correlated
// with a single inbound call.
const RequestIDKey ctxKey = "request_id"

// ContextLogger decorates log lines with per-request fields pulled from the
// context.
type ContextLogger struct {
	logger *zap.Logger
}

func NewContextLogger(logger *zap.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns the logger enriched with the request id, when present.
func (cl *ContextLogger) WithContext(ctx context.Context) *zap.Logger {
	if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
		return cl.logger.With(zap.String("request_id", id))
	}
	return cl.logger
}

func (cl *ContextLogger) WithFields(fields ...zapcore.Field) *zap.Logger {
	return cl.logger.With(fields...)
}

// LogRequest records one handled HTTP request.
func (cl *ContextLogger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	cl.WithContext(ctx).Info("http_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status_code", statusCode),
		zap.Duration("duration", duration),
	)
}
