package observability

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/solara-energy/api/internal/platform/requestctx"
)

const (
	tracerName       = "github.com/solara-energy/api/internal/platform/observability"
	cloudTraceHeader = "X-Cloud-Trace-Context"
)

var tracer = otel.Tracer(tracerName)

// TraceMiddleware extracts the Cloud Trace header when present, starts a
// server span for the request, and stores trace identifiers on the context so
// log entries can be correlated with traces.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			traceID, spanID, sampled := parseCloudTraceHeader(r.Header.Get(cloudTraceHeader))

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
				),
			)
			defer span.End()

			if traceID == "" {
				traceID = span.SpanContext().TraceID().String()
			}
			if spanID == "" {
				spanID = span.SpanContext().SpanID().String()
			}

			ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
				TraceID:   traceID,
				SpanID:    spanID,
				Sampled:   sampled,
				ProjectID: projectID,
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// parseCloudTraceHeader parses "TRACE_ID/SPAN_ID;o=1" as sent by Google front ends.
func parseCloudTraceHeader(header string) (traceID, spanID string, sampled bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", "", false
	}
	slash := strings.IndexByte(header, '/')
	if slash < 0 {
		return header, "", false
	}
	traceID = header[:slash]
	rest := header[slash+1:]
	if semi := strings.IndexByte(rest, ';'); semi >= 0 {
		spanID = rest[:semi]
		sampled = strings.Contains(rest[semi+1:], "o=1")
	} else {
		spanID = rest
	}
	return traceID, spanID, sampled
}
