package middleware

import (
	"net"
	"net/http"

	"github.com/MrEthical07/tierauth"
)

// ClientIP records the peer address for audit metadata. Forwarding headers
// are ignored; put a trusted proxy's real-IP middleware in front if needed.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}
		next.ServeHTTP(w, r.WithContext(tierauth.WithClientIP(r.Context(), ip)))
	})
}
