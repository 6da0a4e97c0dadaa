package pipeline

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/basicweb/internal/xerrors"
)

// FileServer sends a named file from the public root. A non-nil error means
// nothing was written.
type FileServer interface {
	ServeFile(w http.ResponseWriter, r *http.Request, name string) error
}

type Dispatcher struct {
	Files  FileServer
	Errors *ErrorHandler
}

// Handler adapts a route to net/http.
func (d *Dispatcher) Handler(rt Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.Write(w, r, rt.Handle(r))
	}
}

// Write sends res. Anything that cannot be sent becomes a failure.
func (d *Dispatcher) Write(w http.ResponseWriter, r *http.Request, res Result) {
	switch res.Kind {
	case KindText:
		writeText(w, r, res)
	case KindFile:
		if d.Files == nil {
			d.Errors.Handle(w, r, xerrors.Newf("send file %q: no public root configured", res.File))
			return
		}
		if err := d.Files.ServeFile(w, r, res.File); err != nil {
			d.Errors.Handle(w, r, xerrors.Wrapf(err, "send file %q", res.File))
		}
	case KindFailure:
		d.Errors.Handle(w, r, res.Err)
	default:
		d.Errors.Handle(w, r, xerrors.Newf("route %s %s returned result of kind %s", r.Method, r.URL.Path, res.Kind))
	}
}

func writeText(w http.ResponseWriter, r *http.Request, res Result) {
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}
	ct := res.ContentType
	if ct == "" {
		ct = TextContentType
	}
	h := w.Header()
	h.Set("Content-Type", ct)
	h.Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(res.Body)
	}
}

// Mount registers routes on r. Paths must be literal: no chi patterns, no
// wildcards, and each (method, path) pair may appear once.
func Mount(r chi.Router, routes []Route, d *Dispatcher) error {
	seen := make(map[string]bool, len(routes))
	for _, rt := range routes {
		if err := checkRoute(rt); err != nil {
			return err
		}
		key := rt.Method + " " + rt.Path
		if seen[key] {
			return fmt.Errorf("duplicate route %s", key)
		}
		seen[key] = true
		r.Method(rt.Method, rt.Path, d.Handler(rt))
	}
	return nil
}

// chi panics on anything else
var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	http.MethodConnect: true, http.MethodOptions: true, http.MethodTrace: true,
}

func checkRoute(rt Route) error {
	switch {
	case rt.Handle == nil:
		return fmt.Errorf("route %s %s: nil handler", rt.Method, rt.Path)
	case !knownMethods[rt.Method]:
		return fmt.Errorf("route %q %s: method must be an upper-case HTTP method", rt.Method, rt.Path)
	case !strings.HasPrefix(rt.Path, "/"):
		return fmt.Errorf("route %s %q: path must start with /", rt.Method, rt.Path)
	case strings.ContainsAny(rt.Path, "{}*"):
		return fmt.Errorf("route %s %q: only literal paths are supported", rt.Method, rt.Path)
	}
	return nil
}
