// Package routes is the fixed route table of the server.
package routes

import (
	"net/http"

	"github.com/keithlinneman/basicweb/internal/bodyparse"
	"github.com/keithlinneman/basicweb/internal/log"
	"github.com/keithlinneman/basicweb/internal/pipeline"
)

// IndexFile is what GET / sends from the public directory.
const IndexFile = "index.html"

const (
	AboutBody  = "About this application!"
	SubmitBody = "Data received!"
	UpdateBody = "Data updated!"
	DeleteBody = "Data deleted!"
)

// Table returns the five routes in registration order.
func Table() []pipeline.Route {
	return []pipeline.Route{
		{Method: http.MethodGet, Path: "/", Handle: Home},
		{Method: http.MethodGet, Path: "/about", Handle: About},
		{Method: http.MethodPost, Path: "/submit", Handle: Submit},
		{Method: http.MethodPut, Path: "/update", Handle: Update},
		{Method: http.MethodDelete, Path: "/delete", Handle: Delete},
	}
}

// Home sends the index page. The static stage answers "/" first whenever the
// file exists, so this only runs when it does not, and then fails.
func Home(*http.Request) pipeline.Result { return pipeline.File(IndexFile) }

func About(*http.Request) pipeline.Result { return pipeline.OK(AboutBody) }

// Submit logs whatever the body parser produced. The body is never echoed.
func Submit(r *http.Request) pipeline.Result {
	ctx := r.Context()
	l := log.FromContext(ctx)

	b, ok := bodyparse.FromContext(ctx)
	switch {
	case !ok:
		l.Info(ctx, "data received", "body.kind", bodyparse.KindNone.String())
	case b.Parsed():
		l.Info(ctx, "data received", "body.kind", b.Kind.String(), "body", b.Fields)
	default:
		l.Info(ctx, "data received", "body.kind", b.Kind.String(), "body.bytes", len(b.Raw), "body.parsed", false)
	}
	return pipeline.OK(SubmitBody)
}

func Update(*http.Request) pipeline.Result { return pipeline.OK(UpdateBody) }

func Delete(*http.Request) pipeline.Result { return pipeline.OK(DeleteBody) }
