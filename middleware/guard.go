package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/tierauth"
)

// Authenticator is the part of *tierauth.Engine the guards call.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (tierauth.Principal, error)
	AuthenticateAPIKey(ctx context.Context, rawKey string) (tierauth.Principal, error)
}

// DefaultAPIKeyHeader is read by RequireAPIKey and RequireAny.
const DefaultAPIKeyHeader = "X-API-Key"

// RequireAccess admits requests with a valid "Authorization: Bearer" access
// token.
func RequireAccess(auth Authenticator) func(http.Handler) http.Handler {
	return guard(auth, func(r *http.Request) (tierauth.Principal, error) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			return tierauth.Principal{}, tierauth.ErrInvalidToken
		}
		return auth.Authenticate(r.Context(), token)
	})
}

// RequireAPIKey admits requests whose header carries a valid API key. An
// empty header name means DefaultAPIKeyHeader.
func RequireAPIKey(auth Authenticator, header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return guard(auth, func(r *http.Request) (tierauth.Principal, error) {
		key := strings.TrimSpace(r.Header.Get(header))
		if key == "" {
			return tierauth.Principal{}, tierauth.ErrInvalidCredentials
		}
		return auth.AuthenticateAPIKey(r.Context(), key)
	})
}

// RequireAny checks the API key header when present and the bearer token
// otherwise. A present but invalid key is not retried as a token.
func RequireAny(auth Authenticator, header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return guard(auth, func(r *http.Request) (tierauth.Principal, error) {
		if key := strings.TrimSpace(r.Header.Get(header)); key != "" {
			return auth.AuthenticateAPIKey(r.Context(), key)
		}
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			return tierauth.Principal{}, tierauth.ErrInvalidToken
		}
		return auth.Authenticate(r.Context(), token)
	})
}

func guard(auth Authenticator, resolve func(*http.Request) (tierauth.Principal, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				WriteError(w, tierauth.ErrEngineNotReady)
				return
			}

			p, err := resolve(r)
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(tierauth.WithPrincipal(r.Context(), p)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
