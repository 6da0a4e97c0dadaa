// Package httpmw holds the net/http middleware that wraps the request
// pipeline.
//
// httpserver.NewHandler composes them outermost first: panic recovery,
// route context, security headers, request ID, client IP, optional rate
// limiting, OTel tracing, trace response headers, metrics, the request
// logger, the access log and the body limit. The body parser, static
// resolver and router follow.
//
// Query strings, bodies and most headers are kept out of logs.
package httpmw
