package middleware

import (
	"errors"
	"net/http"

	authkit "github.com/retailpoint/authkit"
)

// Header and form fallbacks accepted for the CSRF token, checked in
// order.
const (
	csrfHeader    = "X-CSRF-Token"
	csrfAltHeader = "X-XSRF-Token"
	csrfFormField = "_csrf"
)

// CsrfSetter writes the rotated token back to the client. The HTTP
// layer supplies the cookie plumbing so this package stays free of
// cookie policy.
type CsrfSetter func(w http.ResponseWriter, token string)

// Csrf enforces the double-submit check on state-changing methods.
// Safe methods (GET, HEAD, OPTIONS) pass through untouched. Must run
// after Guard: the session identity comes from the request context.
//
// On success the session's token has rotated; the replacement is handed
// to setter for the response.
func Csrf(engine *authkit.Engine, setter CsrfSetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			presented := r.Header.Get(csrfHeader)
			if presented == "" {
				presented = r.Header.Get(csrfAltHeader)
			}
			if presented == "" {
				presented = r.PostFormValue(csrfFormField)
			}

			rotated, err := engine.ValidateCsrf(r.Context(), res.SessionID, presented)
			if err != nil {
				http.Error(w, "forbidden", csrfStatus(err))
				return
			}

			if setter != nil {
				setter(w, rotated)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func csrfStatus(err error) int {
	if errors.Is(err, authkit.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusForbidden
}
