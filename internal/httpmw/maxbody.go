package httpmw

import "net/http"

// MaxBody caps how much of a request body can be read. Reading past the cap
// fails with *http.MaxBytesError, which the body parser hands to the error handler.
// A limit <= 0 disables the cap.
func MaxBody(limit int64) Middleware {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
