package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/keithlinneman/basicweb/internal/log"
	"github.com/keithlinneman/basicweb/internal/xerrors"
)

// FailureBody is the only thing a client ever learns about a failure.
const FailureBody = "Something broke!"

// ErrorHandler is the terminal stage: every failure, whether returned as a
// Result or raised as a panic anywhere in the chain, is logged with its
// stack and answered with 500 FailureBody.
type ErrorHandler struct {
	// Logger is used when the request context carries no logger, which is
	// the case for panics recovered outside the request-logger middleware.
	Logger log.Logger
	// OnFailure is called once per failed request.
	OnFailure func()
	// OnPanic is called once per recovered panic, before OnFailure.
	OnPanic func()
}

func (e *ErrorHandler) logger(r *http.Request) log.Logger {
	if l, ok := log.Lookup(r.Context()); ok {
		return l
	}
	if e != nil && e.Logger != nil {
		return e.Logger.With("http.request.method", r.Method, "url.path", r.URL.Path)
	}
	return log.Nop()
}

// Handle logs err and writes the fixed 500 response.
func (e *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	e.report(w, r, xerrors.EnsureTrace(err), "request failed", true)
}

func (e *ErrorHandler) report(w http.ResponseWriter, r *http.Request, err error, msg string, writable bool) {
	ctx := r.Context()
	e.logger(r).Error(ctx, err, msg)
	if e != nil && e.OnFailure != nil {
		e.OnFailure()
	}
	if !writable {
		return
	}
	h := w.Header()
	h.Del("Content-Encoding")
	h.Del("Content-Disposition")
	h.Set("Content-Type", TextContentType)
	h.Set("Content-Length", strconv.Itoa(len(FailureBody)))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusInternalServerError)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(FailureBody))
	}
}

// Recover turns a panic in any inner stage into a failure. Panics with
// http.ErrAbortHandler are re-raised so net/http can abort the connection.
// If the response was already started only the log line is emitted.
func (e *ErrorHandler) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &trackingWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			if e != nil && e.OnPanic != nil {
				e.OnPanic()
			}
			e.report(tw, r, panicError(rec), "panic recovered", !tw.started)
		}()
		next.ServeHTTP(tw, r)
	})
}

func panicError(rec any) error {
	if err, ok := rec.(error); ok {
		return xerrors.WithStack(fmt.Errorf("panic: %w", err))
	}
	return xerrors.WithStack(errors.New("panic: " + fmt.Sprint(rec)))
}

// trackingWriter remembers whether headers were sent.
type trackingWriter struct {
	http.ResponseWriter
	started bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.started = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.started = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		t.started = true
		f.Flush()
	}
}

func (t *trackingWriter) Unwrap() http.ResponseWriter { return t.ResponseWriter }
