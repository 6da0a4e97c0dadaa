package httpserver

import (
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/basicweb/internal/bodyparse"
	"github.com/keithlinneman/basicweb/internal/httpmw"
	"github.com/keithlinneman/basicweb/internal/log"
	"github.com/keithlinneman/basicweb/internal/pipeline"
)

// NewHandler builds the request pipeline once:
//
//	logger -> body parser -> static files -> routes
//
// wrapped in the transport middleware listed in package httpmw. The error
// handler sits both outermost and directly around the pipeline, so a panic
// anywhere ends in the same 500 and pipeline panics still reach the access
// log and metrics.
func NewHandler(opts Options) (http.Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	errs := opts.Errors
	if errs == nil {
		errs = &pipeline.ErrorHandler{Logger: logger}
	}

	parse := opts.BodyParse
	if parse.Errors == nil {
		parse.Errors = errs
	}

	d := &pipeline.Dispatcher{Errors: errs}
	if opts.Static != nil {
		d.Files = opts.Static
	}

	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"text/plain",
		"text/javascript",
		"application/javascript",
		"application/json",
		"image/svg+xml",
	))
	if err := pipeline.Mount(r, opts.Routes, d); err != nil {
		return nil, err
	}

	var staticStage httpmw.Middleware
	if opts.Static != nil {
		staticStage = opts.Static.Middleware
	}

	return httpmw.Chain(bindRoutes(r),
		errs.Recover,
		httpmw.RouteContext,
		httpmw.SecurityHeaders(opts.HSTS),
		httpmw.RequestID,
		httpmw.ClientIP(opts.TrustedHops),
		opts.RateLimitMW,
		tracing,
		httpmw.AnnotateRoute,
		httpmw.TraceHeaders,
		opts.MetricsMW,
		httpmw.WithLogger(logger),
		httpmw.AccessLog,
		errs.Recover,

		httpmw.RequestLog,
		httpmw.MaxBody(opts.MaxBodyBytes),
		bodyparse.Middleware(parse),
		staticStage,
	), nil
}

// bindRoutes points a route context installed by httpmw.RouteContext at r.
// chi only does this for contexts it allocates itself, and middleware such
// as GetHead looks routes up through it.
func bindRoutes(r chi.Router) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if rc := chi.RouteContext(req.Context()); rc != nil && rc.Routes == nil {
			rc.Routes = r
		}
		r.ServeHTTP(w, req)
	})
}

// tracing starts the server span. With no tracer provider installed the
// global no-op provider makes this free.
func tracing(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool { return !untraced(r.URL.Path) }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AnnotateRoute renames matched routes
			return r.Method
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// untraced skips asset fetches, which would otherwise dominate traces.
func untraced(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".mjs", ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return true
	}
	return false
}
