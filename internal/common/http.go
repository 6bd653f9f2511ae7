package common

import (
	"net"
	"net/http"
)

// ClientIP returns the host part of RemoteAddr. Forwarding headers are not
// consulted here; the router's RealIP middleware has already folded a trusted
// X-Forwarded-For or X-Real-IP into RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
