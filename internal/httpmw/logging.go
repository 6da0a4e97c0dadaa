package httpmw

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/basicweb/internal/log"
)

// WithLogger stores a request-scoped logger in the context, carrying the
// request ID, client and peer addresses, method and path. It also tags the
// active span with the same identifiers.
func WithLogger(base log.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)

			peer := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peer); err == nil {
				peer = host
			}
			client := ClientIPFromContext(ctx)
			if client == "" {
				client = peer
			}

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", client),
					attribute.String("network.peer.address", peer),
				)
			}

			l := base.With(
				"request_id", reqID,
				"client.address", client,
				"network.peer.address", peer,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, l)))
		})
	}
}

// RequestLog is the logger stage of the pipeline: one line per request on
// arrival, before anything else can answer it. The query string is logged
// only here, not on every request-scoped line.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var kv []any
		if q := r.URL.RawQuery; q != "" {
			kv = append(kv, "url.query", q)
		}
		log.FromContext(ctx).Info(ctx, "request", kv...)
		next.ServeHTTP(w, r)
	})
}

// AccessLog logs the outcome of each request once the inner stages return.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		route := RoutePattern(r)
		if route == "" {
			route = "-"
		}
		ctx := r.Context()
		log.FromContext(ctx).Info(ctx, "http request",
			"http.response.status_code", sw.Status(),
			"http.server.request.duration", time.Since(start).Seconds(),
			"http.response.body.size", sw.bytes,
			"http.request.body.size", max(r.ContentLength, 0),
			"http.route", route,
		)
	})
}

// statusWriter records the status and body size sent.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Status is 200 when the handler wrote nothing.
func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
