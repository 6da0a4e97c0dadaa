package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/keithlinneman/basicweb/internal/bodyparse"
	"github.com/keithlinneman/basicweb/internal/log"
	"github.com/keithlinneman/basicweb/internal/metrics"
	"github.com/keithlinneman/basicweb/internal/pipeline"
	"github.com/keithlinneman/basicweb/internal/routes"
	"github.com/keithlinneman/basicweb/internal/static"
)

const indexHTML = "<!doctype html>\n<title>basicweb</title>\n<h1>Hello</h1>\n"

// recLogger records every line; With returns the same recorder so request
// loggers land here too.
type recLogger struct {
	mu     sync.Mutex
	infos  []line
	errors []line
}

type line struct {
	msg string
	err error
	kv  map[string]any
}

func toMap(kv []any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}

func (l *recLogger) With(...any) log.Logger                { return l }
func (l *recLogger) Debug(context.Context, string, ...any) {}
func (l *recLogger) Warn(context.Context, string, ...any)  {}
func (l *recLogger) Sync() error                           { return nil }

func (l *recLogger) Info(_ context.Context, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, line{msg: msg, kv: toMap(kv)})
}

func (l *recLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, line{msg: msg, err: err, kv: toMap(kv)})
}

func (l *recLogger) infoLines(msg string) []line {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []line
	for _, ln := range l.infos {
		if ln.msg == msg {
			out = append(out, ln)
		}
	}
	return out
}

func (l *recLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func publicFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":      {Data: []byte(indexHTML)},
		"css/site.css":    {Data: []byte("body{margin:0}")},
		"docs/index.html": {Data: []byte("<p>docs</p>")},
	}
}

func newStatic(t *testing.T) *static.Handler {
	t.Helper()
	h, err := static.New(static.Options{FS: publicFS()})
	if err != nil {
		t.Fatalf("static.New: %v", err)
	}
	return h
}

func newHandler(t *testing.T, opts Options) http.Handler {
	t.Helper()
	if opts.Routes == nil {
		opts.Routes = routes.Table()
	}
	h, err := NewHandler(opts)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h
}

func defaultHandler(t *testing.T, l *recLogger) http.Handler {
	t.Helper()
	return newHandler(t, Options{Logger: l, Static: newStatic(t), MaxBodyBytes: 100 << 10})
}

func serve(h http.Handler, method, target string, body io.Reader, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// pipeline

func TestFixedRoutes(t *testing.T) {
	h := defaultHandler(t, &recLogger{})
	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/about", routes.AboutBody},
		{http.MethodPost, "/submit", routes.SubmitBody},
		{http.MethodPut, "/update", routes.UpdateBody},
		{http.MethodDelete, "/delete", routes.DeleteBody},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(h, tt.method, tt.path, http.NoBody)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if got := rec.Body.String(); got != tt.want {
				t.Fatalf("body = %q, want %q", got, tt.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != pipeline.TextContentType {
				t.Fatalf("Content-Type = %q", ct)
			}
		})
	}
}

func TestRoot_ServesIndexFile(t *testing.T) {
	rec := serve(defaultHandler(t, &recLogger{}), http.MethodGet, "/", http.NoBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != indexHTML {
		t.Fatalf("body = %q, want index file bytes", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestRoot_WithoutIndexFails(t *testing.T) {
	st, err := static.New(static.Options{FS: fstest.MapFS{"other.txt": {Data: []byte("x")}}})
	if err != nil {
		t.Fatal(err)
	}
	l := &recLogger{}
	rec := serve(newHandler(t, Options{Logger: l, Static: st}), http.MethodGet, "/", http.NoBody)
	if rec.Code != http.StatusInternalServerError || rec.Body.String() != pipeline.FailureBody {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if l.errorCount() != 1 {
		t.Fatalf("error lines = %d", l.errorCount())
	}
}

func TestRoot_NoStaticStage(t *testing.T) {
	rec := serve(newHandler(t, Options{}), http.MethodGet, "/", http.NoBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	// other routes are unaffected
	rec = serve(newHandler(t, Options{}), http.MethodGet, "/about", http.NoBody)
	if rec.Body.String() != routes.AboutBody {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestStaticFile(t *testing.T) {
	rec := serve(defaultHandler(t, &recLogger{}), http.MethodGet, "/css/site.css", http.NoBody)
	if rec.Code != http.StatusOK || rec.Body.String() != "body{margin:0}" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Fatalf("Content-Type = %q", ct)
	}
}

func TestStaticDirectoryRedirect(t *testing.T) {
	rec := serve(defaultHandler(t, &recLogger{}), http.MethodGet, "/docs?x=1", http.NoBody)
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/docs/?x=1" {
		t.Fatalf("Location = %q", loc)
	}
}

func TestSubmit_LogsJSONBody(t *testing.T) {
	l := &recLogger{}
	rec := serve(defaultHandler(t, l), http.MethodPost, "/submit", strings.NewReader(`{"a":1}`),
		"Content-Type", "application/json")
	if rec.Code != http.StatusOK || rec.Body.String() != routes.SubmitBody {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"a"`) {
		t.Fatal("body echoed")
	}

	lines := l.infoLines("data received")
	if len(lines) != 1 {
		t.Fatalf("data received lines = %d", len(lines))
	}
	if k := lines[0].kv["body.kind"]; k != "json" {
		t.Fatalf("body.kind = %v", k)
	}
	fields, ok := lines[0].kv["body"].(map[string]any)
	if !ok {
		t.Fatalf("body = %T", lines[0].kv["body"])
	}
	if fields["a"] != json.Number("1") {
		t.Fatalf("a = %#v", fields["a"])
	}
}

func TestSubmit_FormBody(t *testing.T) {
	l := &recLogger{}
	rec := serve(defaultHandler(t, l), http.MethodPost, "/submit", strings.NewReader("name=ada&tags=x&tags=y"),
		"Content-Type", "application/x-www-form-urlencoded")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	fields := l.infoLines("data received")[0].kv["body"].(map[string]any)
	if fields["name"] != "ada" {
		t.Fatalf("name = %#v", fields["name"])
	}
	if tags, _ := fields["tags"].([]any); len(tags) != 2 {
		t.Fatalf("tags = %#v", fields["tags"])
	}
}

func TestSubmit_MalformedJSONStillSucceeds(t *testing.T) {
	l := &recLogger{}
	rec := serve(defaultHandler(t, l), http.MethodPost, "/submit", strings.NewReader(`{"a":`),
		"Content-Type", "application/json")
	if rec.Code != http.StatusOK || rec.Body.String() != routes.SubmitBody {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
	if p := l.infoLines("data received")[0].kv["body.parsed"]; p != false {
		t.Fatalf("body.parsed = %v", p)
	}
}

func TestSubmit_BodyTooLarge(t *testing.T) {
	h := newHandler(t, Options{Static: newStatic(t), MaxBodyBytes: 16})
	rec := serve(h, http.MethodPost, "/submit", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`),
		"Content-Type", "application/json")
	if rec.Code != http.StatusInternalServerError || rec.Body.String() != pipeline.FailureBody {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestSubmit_BodyTooLargeCountsFailure(t *testing.T) {
	failures := 0
	l := &recLogger{}
	errs := &pipeline.ErrorHandler{Logger: l, OnFailure: func() { failures++ }}
	h := newHandler(t, Options{Logger: l, Static: newStatic(t), Errors: errs, MaxBodyBytes: 16})
	rec := serve(h, http.MethodPost, "/submit", strings.NewReader(strings.Repeat("a=b&", 32)),
		"Content-Type", "application/x-www-form-urlencoded")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if failures != 1 || l.errorCount() != 1 {
		t.Fatalf("failures=%d error lines=%d", failures, l.errorCount())
	}
}

func TestParseOutcomesReported(t *testing.T) {
	var mu sync.Mutex
	var got []string
	h := newHandler(t, Options{BodyParse: bodyparse.Options{OnParse: func(k bodyparse.Kind, outcome string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, k.String()+"/"+outcome)
	}}})
	serve(h, http.MethodPost, "/submit", strings.NewReader(`{"a":1}`), "Content-Type", "application/json")
	if len(got) != 1 || got[0] != "json/parsed" {
		t.Fatalf("outcomes = %v", got)
	}
}

func TestUnmatched(t *testing.T) {
	fixed := map[string]bool{
		routes.AboutBody:  true,
		routes.SubmitBody: true,
		routes.UpdateBody: true,
		routes.DeleteBody: true,
		indexHTML:         true,
	}
	h := defaultHandler(t, &recLogger{})
	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/missing", http.StatusNotFound},
		{http.MethodGet, "/about/", http.StatusNotFound},
		{http.MethodGet, "/.env", http.StatusNotFound},
		{http.MethodPost, "/about", http.StatusMethodNotAllowed},
		{http.MethodGet, "/submit", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/update", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(h, tt.method, tt.path, http.NoBody)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if fixed[rec.Body.String()] {
				t.Fatalf("unmatched request got fixed response %q", rec.Body.String())
			}
		})
	}
}

func TestHead(t *testing.T) {
	h := defaultHandler(t, &recLogger{})
	for _, p := range []string{"/", "/about"} {
		rec := serve(h, http.MethodHead, p, http.NoBody)
		if rec.Code != http.StatusOK {
			t.Fatalf("HEAD %s status = %d", p, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Fatalf("HEAD %s body = %q", p, rec.Body.String())
		}
	}
}

func TestCompressesWhenAccepted(t *testing.T) {
	rec := serve(defaultHandler(t, &recLogger{}), http.MethodGet, "/about", http.NoBody, "Accept-Encoding", "gzip")
	if ce := rec.Header().Get("Content-Encoding"); ce != "gzip" {
		t.Fatalf("Content-Encoding = %q", ce)
	}
}

// failures

func failingRoutes() []pipeline.Route {
	return append(routes.Table(),
		pipeline.Route{Method: http.MethodGet, Path: "/fail", Handle: func(*http.Request) pipeline.Result {
			return pipeline.Fail(errors.New("disk on fire"))
		}},
		pipeline.Route{Method: http.MethodGet, Path: "/panic", Handle: func(*http.Request) pipeline.Result {
			panic("boom")
		}},
	)
}

func TestFailures_AnsweredAndServerKeepsServing(t *testing.T) {
	var failures, panics atomic.Int32
	l := &recLogger{}
	errs := &pipeline.ErrorHandler{
		Logger:    l,
		OnFailure: func() { failures.Add(1) },
		OnPanic:   func() { panics.Add(1) },
	}
	h := newHandler(t, Options{Logger: l, Routes: failingRoutes(), Errors: errs, Static: newStatic(t)})

	for _, p := range []string{"/fail", "/panic"} {
		rec := serve(h, http.MethodGet, p, http.NoBody)
		if rec.Code != http.StatusInternalServerError || rec.Body.String() != pipeline.FailureBody {
			t.Fatalf("%s: got %d %q", p, rec.Code, rec.Body.String())
		}
	}
	if rec := serve(h, http.MethodGet, "/about", http.NoBody); rec.Body.String() != routes.AboutBody {
		t.Fatalf("after failures: %q", rec.Body.String())
	}

	if failures.Load() != 2 || panics.Load() != 1 {
		t.Fatalf("failures=%d panics=%d", failures.Load(), panics.Load())
	}
	if l.errorCount() != 2 {
		t.Fatalf("error lines = %d", l.errorCount())
	}
}

func TestFailures_ReachAccessLog(t *testing.T) {
	l := &recLogger{}
	h := newHandler(t, Options{Logger: l, Routes: failingRoutes()})
	serve(h, http.MethodGet, "/panic", http.NoBody)

	lines := l.infoLines("http request")
	if len(lines) != 1 {
		t.Fatalf("access lines = %d", len(lines))
	}
	if s := lines[0].kv["http.response.status_code"]; s != http.StatusInternalServerError {
		t.Fatalf("status = %v", s)
	}
	if r := lines[0].kv["http.route"]; r != "/panic" {
		t.Fatalf("route = %v", r)
	}
}

func TestPanicInMiddlewareRecovered(t *testing.T) {
	boom := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("limiter exploded") })
	}
	h := newHandler(t, Options{RateLimitMW: boom})
	rec := serve(h, http.MethodGet, "/about", http.NoBody)
	if rec.Code != http.StatusInternalServerError || rec.Body.String() != pipeline.FailureBody {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestNewHandler_BadRoutes(t *testing.T) {
	_, err := NewHandler(Options{Routes: []pipeline.Route{{Method: http.MethodGet, Path: "about", Handle: routes.About}}})
	if err == nil {
		t.Fatal("expected error for relative path")
	}
}

// transport stages

func TestResponseHeaders(t *testing.T) {
	rec := serve(defaultHandler(t, &recLogger{}), http.MethodGet, "/about", http.NoBody, "X-Request-Id", "abc-123")
	if got := rec.Header().Get("X-Request-Id"); got != "abc-123" {
		t.Fatalf("X-Request-Id = %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS sent by default: %q", got)
	}
}

func TestRequestLoggedOnce(t *testing.T) {
	l := &recLogger{}
	serve(defaultHandler(t, l), http.MethodGet, "/css/site.css", http.NoBody)
	if n := len(l.infoLines("request")); n != 1 {
		t.Fatalf("request lines = %d", n)
	}
	if n := len(l.infoLines("http request")); n != 1 {
		t.Fatalf("access lines = %d", n)
	}
}

func TestMetricsStage(t *testing.T) {
	m := metrics.New()
	h := newHandler(t, Options{Static: newStatic(t), MetricsMW: m.Middleware})
	serve(h, http.MethodGet, "/about", http.NoBody)
	serve(h, http.MethodGet, "/nope", http.NoBody)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	body := rec.Body.String()
	for _, want := range []string{
		`route="/about",status="200"`,
		`route="unmatched",status="404"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %s", want)
		}
	}
}

func TestConcurrentRequests(t *testing.T) {
	h := defaultHandler(t, &recLogger{})
	tests := []struct{ method, path, want string }{
		{http.MethodGet, "/about", routes.AboutBody},
		{http.MethodPost, "/submit", routes.SubmitBody},
		{http.MethodPut, "/update", routes.UpdateBody},
		{http.MethodDelete, "/delete", routes.DeleteBody},
		{http.MethodGet, "/", indexHTML},
	}

	var wg sync.WaitGroup
	errc := make(chan error, 50*len(tests))
	for i := 0; i < 50; i++ {
		for _, tt := range tests {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rec := serve(h, tt.method, tt.path, http.NoBody)
				if rec.Code != http.StatusOK || rec.Body.String() != tt.want {
					errc <- fmt.Errorf("%s %s: %d %q", tt.method, tt.path, rec.Code, rec.Body.String())
				}
			}()
		}
	}
	wg.Wait()
	close(errc)
	for err := range errc {
		t.Error(err)
	}
}

// lifecycle

func TestStart_ServesAndShutsDown(t *testing.T) {
	ctx := context.Background()
	srv, err := Start(ctx, Options{Addr: "127.0.0.1:0", Routes: routes.Table(), Static: newStatic(t)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/about")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != routes.AboutBody {
		t.Fatalf("got %d %q", resp.StatusCode, body)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-srv.Done():
	default:
		t.Fatal("Done not closed after Shutdown")
	}
	if err := srv.Err(); err != nil {
		t.Fatalf("Err = %v", err)
	}
	if err := srv.Shutdown(sctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if _, err := http.Get("http://" + srv.Addr() + "/about"); err == nil {
		t.Fatal("server still accepting after Shutdown")
	}
}

func TestListen_AddressInUse(t *testing.T) {
	ctx := context.Background()
	a, err := Listen(ctx, nil, "a", "127.0.0.1:0", http.NotFoundHandler())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer func() { _ = a.Shutdown(ctx) }()

	if _, err := Listen(ctx, nil, "b", a.Addr(), http.NotFoundHandler()); err == nil {
		t.Fatal("expected bind error")
	}
}

func TestShutdown_WaitsForInflight(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
		_, _ = io.WriteString(w, "done")
	})
	srv, err := Listen(ctx, nil, "test", "127.0.0.1:0", h)
	if err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + srv.Addr() + "/")
		if err != nil {
			got <- err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		got <- string(b)
	}()
	<-started

	shut := make(chan error, 1)
	go func() { shut <- srv.Shutdown(ctx) }()
	time.Sleep(50 * time.Millisecond)
	close(release)

	if b := <-got; b != "done" {
		t.Fatalf("in-flight response = %q", b)
	}
	if err := <-shut; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
