package opshttp

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/keithlinneman/basicweb/internal/log"
)

// requireNonPublicNetwork answers 403 to peers outside loopback, private and
// link-local ranges. Only the socket peer is considered; forwarding headers
// are ignored on the ops listener.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !nonPublicPeer(r.RemoteAddr) {
			L.Warn(r.Context(), "ops request from public address rejected",
				"network.peer.address", r.RemoteAddr,
				"url.path", r.URL.Path,
			)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func nonPublicPeer(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
