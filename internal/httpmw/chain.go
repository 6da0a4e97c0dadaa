package httpmw

import "net/http"

// Middleware wraps a handler.
type Middleware = func(http.Handler) http.Handler

// Chain wraps h so that mws[0] sees the request first. Nil entries are
// skipped, which lets callers switch stages off with When.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// When returns mw if on is true and nil otherwise.
func When(on bool, mw Middleware) Middleware {
	if !on {
		return nil
	}
	return mw
}
