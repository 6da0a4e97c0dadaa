package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const (
	TraceIDHeader = "X-Trace-Id"
	SpanIDHeader  = "X-Span-Id"
)

// TraceHeaders echoes the server span's IDs so a client report can be
// matched to a trace. Nothing is set when tracing is off.
func TraceHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
			w.Header().Set(TraceIDHeader, sc.TraceID().String())
			w.Header().Set(SpanIDHeader, sc.SpanID().String())
		}
		next.ServeHTTP(w, r)
	})
}
