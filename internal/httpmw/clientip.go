package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// ClientIP records the client address in the context.
//
// trustedHops is the number of reverse proxies in front of the server.
// With 0, X-Forwarded-For is never trusted. With N > 0 the Nth entry from
// the right is used, but only when the connection itself comes from a
// private address. Untrusted forwarding headers are removed from the
// request so nothing further in can read them.
func ClientIP(trustedHops int) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientAddr(r, trustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func clientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	peerIP := net.ParseIP(peer)
	if peerIP == nil {
		return "0.0.0.0"
	}

	if trustedHops <= 0 || !(peerIP.IsPrivate() || peerIP.IsLoopback()) {
		dropForwarded(r)
		return peer
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}
	hops := strings.Split(xff, ",")
	idx := len(hops) - trustedHops
	if idx < 0 {
		// fewer hops than proxies: misconfigured or spoofed
		dropForwarded(r)
		return peer
	}
	if candidate := strings.TrimSpace(hops[idx]); net.ParseIP(candidate) != nil {
		return candidate
	}
	return peer
}

func dropForwarded(r *http.Request) {
	r.Header.Del("X-Forwarded-For")
	r.Header.Del("X-Forwarded-Proto")
}
