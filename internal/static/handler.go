// Package static is the static-file stage of the request pipeline. A GET or
// HEAD whose path names a file in the public directory is answered from
// disk and the pipeline stops; anything else is forwarded untouched.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
)

type Handler struct {
	opts Options
}

func New(opts Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: opts}, nil
}

// Check fails while the public directory has no index file, which makes
// "/" answer 500. It satisfies health.Probe.
func (h *Handler) Check(context.Context) error {
	fi, err := fs.Stat(h.opts.FS, h.opts.Index)
	if err != nil {
		return fmt.Errorf("public index: %w", err)
	}
	if fi.IsDir() {
		return fmt.Errorf("public index %s: %w", h.opts.Index, errIsDir)
	}
	return nil
}

// Middleware serves hits and forwards misses to next.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		file, redirectTo, ok := resolvePath(r.URL.Path, h.opts.Index, h.opts.FS)
		if redirectTo != "" {
			if q := r.URL.RawQuery; q != "" {
				redirectTo += "?" + q
			}
			http.Redirect(w, r, redirectTo, http.StatusMovedPermanently)
			return
		}
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		// the file can vanish between resolve and open
		if err := h.ServeFile(w, r, file); err != nil {
			next.ServeHTTP(w, r)
		}
	})
}

var errIsDir = errors.New("is a directory")

// ServeFile sends name from the public directory with a content type
// inferred from its extension. It writes nothing when it returns an error.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request, name string) error {
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	f, err := h.opts.FS.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &fs.PathError{Op: "open", Path: name, Err: errIsDir}
	}

	content, err := seekable(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}

	class := classify(name)
	if cc := h.opts.cacheControl(class); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}
	// ServeContent sniffs the type from the name's extension
	http.ServeContent(w, r, path.Base(name), info.ModTime(), content)

	if h.opts.OnHit != nil {
		h.opts.OnHit(class)
	}
	return nil
}

func seekable(f fs.File) (io.ReadSeeker, error) {
	if rs, ok := f.(io.ReadSeeker); ok {
		return rs, nil
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}
