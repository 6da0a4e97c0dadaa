package httpserver

import (
	"github.com/keithlinneman/basicweb/internal/bodyparse"
	"github.com/keithlinneman/basicweb/internal/httpmw"
	"github.com/keithlinneman/basicweb/internal/log"
	"github.com/keithlinneman/basicweb/internal/pipeline"
	"github.com/keithlinneman/basicweb/internal/static"
)

type Options struct {
	Logger log.Logger
	// Addr defaults to ":3000".
	Addr string

	// Routes is the route table mounted on the router.
	Routes []pipeline.Route
	// Static serves the public directory. nil skips the static stage and
	// makes file results fail.
	Static *static.Handler
	// Errors answers failures and recovers panics. A zero handler logging
	// to Logger is used when nil.
	Errors *pipeline.ErrorHandler

	// MaxBodyBytes caps request bodies; <= 0 disables the cap.
	MaxBodyBytes int64
	BodyParse    bodyparse.Options

	TrustedHops int
	HSTS        bool

	// Optional stages; nil skips them.
	MetricsMW   httpmw.Middleware
	RateLimitMW httpmw.Middleware
}
