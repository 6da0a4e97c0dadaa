// Package bodyparse is the body-parser stage of the request pipeline.
//
// The decoder is chosen from the declared Content-Type alone: JSON, form or
// none. Malformed input never fails the request; the stage records the
// outcome and forwards with the raw bytes still readable from r.Body. A body
// that cannot be read at all, including one over the size limit, is a
// failure and goes to the error handler.
package bodyparse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/keithlinneman/basicweb/internal/log"
	"github.com/keithlinneman/basicweb/internal/pipeline"
	"github.com/keithlinneman/basicweb/internal/xerrors"
)

// Kind is the decoder selected for a request.
type Kind uint8

const (
	KindNone Kind = iota
	KindJSON
	KindForm
)

func (k Kind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindForm:
		return "form"
	default:
		return "none"
	}
}

// Detect maps a Content-Type header value to a decoder. Parameters such as
// charset are ignored; an unparseable header selects KindNone.
func Detect(contentType string) Kind {
	if strings.TrimSpace(contentType) == "" {
		return KindNone
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return KindNone
	}
	switch mt {
	case "application/json":
		return KindJSON
	case "application/x-www-form-urlencoded":
		return KindForm
	default:
		return KindNone
	}
}

// Parse outcomes, as passed to Options.OnParse.
const (
	OutcomeParsed    = "parsed"
	OutcomeInvalid   = "invalid"
	OutcomeEmpty     = "empty"
	OutcomeSkipped   = "skipped"
	OutcomeTooLarge  = "too_large"
	OutcomeReadError = "read_error"
)

// Body is what the parser learned about a request body.
type Body struct {
	Kind Kind
	// Fields is nil unless the body was decoded.
	Fields map[string]any
	// Raw is nil for KindNone, which never reads the body.
	Raw []byte
	// Err is the decode error for a body that was left unparsed.
	Err error
}

// Parsed reports whether Fields holds a decoded body.
func (b Body) Parsed() bool { return b.Fields != nil }

type bodyKey struct{}

func WithBody(ctx context.Context, b Body) context.Context {
	return context.WithValue(ctx, bodyKey{}, b)
}

// FromContext returns the Body recorded by Middleware.
func FromContext(ctx context.Context) (Body, bool) {
	b, ok := ctx.Value(bodyKey{}).(Body)
	return b, ok
}

// Decode runs the decoder for kind over raw. KindNone and empty input
// decode to nil without error.
func Decode(kind Kind, raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	switch kind {
	case KindJSON:
		return decodeJSON(raw)
	case KindForm:
		return decodeForm(raw)
	default:
		return nil, nil
	}
}

type Options struct {
	// OnParse is called once per request with the decoder kind and one of
	// the Outcome constants.
	OnParse func(kind Kind, outcome string)
	// Errors answers bodies that could not be read. A nil handler still
	// writes the fixed 500 and logs through the request logger.
	Errors *pipeline.ErrorHandler
}

// Middleware decodes JSON and form bodies and attaches the result to the
// request context. A read failure, including a body over the limit set by
// an outer http.MaxBytesReader, is handed to opts.Errors.
func Middleware(opts Options) func(http.Handler) http.Handler {
	report := func(k Kind, outcome string) {
		if opts.OnParse != nil {
			opts.OnParse(k, outcome)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			kind := Detect(r.Header.Get("Content-Type"))

			if kind == KindNone {
				report(kind, OutcomeSkipped)
				next.ServeHTTP(w, r.WithContext(WithBody(ctx, Body{Kind: kind})))
				return
			}
			if r.Body == nil || r.Body == http.NoBody {
				report(kind, OutcomeEmpty)
				next.ServeHTTP(w, r.WithContext(WithBody(ctx, Body{Kind: kind})))
				return
			}

			raw, err := io.ReadAll(r.Body)
			_ = r.Body.Close()
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					report(kind, OutcomeTooLarge)
					opts.Errors.Handle(w, r, xerrors.Wrapf(err, "request body over %d bytes", tooLarge.Limit))
					return
				}
				report(kind, OutcomeReadError)
				opts.Errors.Handle(w, r, xerrors.Wrap(err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))

			b := Body{Kind: kind, Raw: raw}
			switch fields, derr := Decode(kind, raw); {
			case len(raw) == 0:
				report(kind, OutcomeEmpty)
			case derr != nil:
				b.Err = derr
				report(kind, OutcomeInvalid)
				log.FromContext(ctx).Debug(ctx, "request body left unparsed",
					"body.kind", kind.String(),
					"body.bytes", len(raw),
					"error", derr.Error(),
				)
			default:
				b.Fields = fields
				report(kind, OutcomeParsed)
			}

			next.ServeHTTP(w, r.WithContext(WithBody(ctx, b)))
		})
	}
}
