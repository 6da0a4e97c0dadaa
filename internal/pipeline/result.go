// Package pipeline holds the route-matching end of the request pipeline:
// the Result type every route handler returns, the dispatcher that turns a
// Result into a response and the error handler that owns the fixed 500.
//
// Handlers never write to the ResponseWriter themselves. They return a
// Result tagged as text, file or failure, and the dispatcher inspects the
// tag. Failures and panics from any stage end in ErrorHandler.
package pipeline

import (
	"net/http"

	"github.com/keithlinneman/basicweb/internal/xerrors"
)

// Kind tags a Result.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindFile
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "file"
	case KindFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// TextContentType is what plain string responses are sent as.
const TextContentType = "text/html; charset=utf-8"

type Result struct {
	Kind Kind

	// KindText
	Status      int
	ContentType string
	Body        []byte

	// KindFile: path relative to the public root
	File string

	// KindFailure
	Err error
}

// Text is a successful response with a literal body.
func Text(status int, body string) Result {
	return Result{Kind: KindText, Status: status, ContentType: TextContentType, Body: []byte(body)}
}

// OK is Text with status 200.
func OK(body string) Result { return Text(http.StatusOK, body) }

// File sends a file from the public root.
func File(name string) Result { return Result{Kind: KindFile, File: name} }

// Fail reports a handler failure. A nil err is still a failure.
func Fail(err error) Result {
	if err == nil {
		err = xerrors.New("handler failed without an error")
	}
	return Result{Kind: KindFailure, Err: xerrors.EnsureTrace(err)}
}

func (r Result) Failed() bool { return r.Kind == KindFailure }

// HandlerFunc produces a Result for a request.
type HandlerFunc func(*http.Request) Result

// Route is one exact (method, path) entry of the route table.
type Route struct {
	Method string
	Path   string
	Handle HandlerFunc
}
