package middleware

import (
	"net/http"

	"github.com/MrEthical07/tierauth"
	"github.com/MrEthical07/tierauth/policy"
)

// RequireRole rejects callers below min. It must run after one of the
// authenticating guards.
func RequireRole(min tierauth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := tierauth.PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, tierauth.ErrInvalidToken)
				return
			}
			if !policy.HasMinimumRole(p.Role, min) {
				WriteError(w, tierauth.ErrInsufficientRole)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
