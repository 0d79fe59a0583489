package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	authkit "github.com/retailpoint/authkit"
)

type authResultContextKey struct{}
type accessTokenContextKey struct{}

// AuthResultFromContext returns the verified identity placed by Guard.
func AuthResultFromContext(ctx context.Context) (*authkit.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authkit.AuthResult)
	return res, ok
}

// AccessTokenFromContext returns the raw bearer token Guard verified,
// for handlers that need it again (logout blacklisting).
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenContextKey{}).(string)
	return token, ok
}

// Guard authenticates requests via the Authorization header or, failing
// that, the access cookie. A verified request proceeds with the
// AuthResult in its context; anything else is rejected with a status
// matching the engine error.
func Guard(engine *authkit.Engine, accessCookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok && accessCookieName != "" {
				if cookie, err := r.Cookie(accessCookieName); err == nil && cookie.Value != "" {
					token, ok = cookie.Value, true
				}
			}
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			ctx = authkit.WithClientIP(ctx, clientIP(r))
			ctx = authkit.WithUserAgent(ctx, r.UserAgent())

			res, err := engine.Verify(ctx, token)
			if err != nil {
				http.Error(w, "unauthorized", guardStatus(err))
				return
			}

			ctx = context.WithValue(ctx, authResultContextKey{}, res)
			ctx = context.WithValue(ctx, accessTokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func guardStatus(err error) int {
	switch {
	case errors.Is(err, authkit.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}

	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
