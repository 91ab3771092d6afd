// Package requestctx carries the per-request values that cross layer
// boundaries: the request-scoped logger and the Cloud Trace correlation
// metadata attached by the HTTP middleware.
package requestctx

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Unexported struct keys keep these values private to this package; callers
// go through the accessors below.
type (
	loggerKey struct{}
	traceKey  struct{}
)

var fallbackLogger = zap.NewNop()

// TraceInfo identifies the Cloud Trace span handling the current request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// ResourceName renders the trace in the projects/<id>/traces/<trace> form
// Cloud Logging uses to correlate log entries with traces. Empty when either
// part is missing.
func (t TraceInfo) ResourceName() string {
	if t.ProjectID == "" || t.TraceID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", t.ProjectID, t.TraceID)
}

// WithLogger attaches logger to ctx. A nil logger degrades to a no-op so
// downstream log calls stay safe.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = fallbackLogger
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the logger attached to ctx, or a shared no-op logger when
// none was attached.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return fallbackLogger
	}
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return fallbackLogger
}

// NoopLogger returns the shared no-op logger, letting callers detect a
// context that never had a real logger attached.
func NoopLogger() *zap.Logger { return fallbackLogger }

// WithTrace attaches trace correlation metadata to ctx.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceKey{}, info)
}

// Trace returns the trace metadata attached to ctx.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID is a convenience accessor for the bare trace identifier.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}
