package observability

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/govflow/govflow/internal/config"
	"github.com/govflow/govflow/model"
)

type loggerKey struct{}

const redacted = "[REDACTED]"

// NewLogger builds the JSON logger written to stdout.
//
// Levels:
//   - error: store or document failures, panics, 5xx responses
//   - warn:  4xx responses, rejected transitions, failed logins
//   - info:  request end, lifecycle transitions, assignments, seed loading
//   - debug: redacted action payloads
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	return loggerConfig(cfg.LogLevel).Build(zap.Fields(zap.String("service", "govflow")))
}

// loggerConfig starts from zap's production preset. Sampling is off because
// transition and assignment lines form part of the audit trail.
func loggerConfig(levelName string) zap.Config {
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.OutputPaths = []string{"stdout"}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	return zc
}

// WithLogger stores a request-scoped logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns the context logger tagged with the authenticated
// caller. Unauthenticated contexts get the logger unchanged.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := []zap.Field{zap.String("user_id", rctx.UserID), zap.String("role", string(rctx.Role))}
	if rctx.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", rctx.CorrelationID))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}

// ServiceRequestFields identify a service request and where it stands in its
// workflow.
func ServiceRequestFields(req model.ServiceRequest) []zap.Field {
	return []zap.Field{
		zap.String("request_id", req.ID),
		zap.String("workflow_id", req.WorkflowDefinitionID),
		zap.String("step_id", req.CurrentStepID),
		zap.String("status", string(req.Status)),
	}
}

// DebugPayload logs a redacted copy of body at debug level. The copy is only
// built when debug logging is enabled.
func DebugPayload(logger *zap.Logger, msg string, body map[string]any) {
	if ce := logger.Check(zapcore.DebugLevel, msg); ce != nil {
		ce.Write(zap.Any("body", RedactBody(body, nil)))
	}
}

// sensitiveKeys are matched case-insensitively. Any key containing
// "password" is sensitive as well.
var sensitiveKeys = map[string]bool{
	"secret":        true,
	"token":         true,
	"resettoken":    true,
	"authorization": true,
	"nic":           true,
	"nicnumber":     true,
}

func sensitive(key string, extra map[string]bool) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || sensitiveKeys[k] || extra[k]
}

// RedactBody returns a copy of body with credentials and citizen identifiers
// replaced by "[REDACTED]". Nested objects and arrays are walked. extra adds
// keys for one call.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}
	var more map[string]bool
	if len(extra) > 0 {
		more = make(map[string]bool, len(extra))
		for _, k := range extra {
			more[strings.ToLower(k)] = true
		}
	}
	return redactMap(body, more)
}

func redactMap(m map[string]any, extra map[string]bool) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sensitive(k, extra) {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v, extra)
	}
	return out
}

func redactValue(v any, extra map[string]bool) any {
	switch x := v.(type) {
	case map[string]any:
		return redactMap(x, extra)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = redactValue(e, extra)
		}
		return out
	default:
		return v
	}
}
