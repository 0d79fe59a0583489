package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	authkit "github.com/retailpoint/authkit"
)

// envelope is the uniform response body. Data is present on success,
// Code and Message on failure.
type envelope struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// writeError maps engine sentinels to stable HTTP statuses and codes.
// In production mode the message is the generic code text, never the
// underlying error detail.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)

	message := code
	var limited *authkit.RateLimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(limited.RetryAfterMinutes()*60))
		message = limited.Error()
	} else if !h.production {
		message = err.Error()
	}
	writeJSON(w, status, envelope{Success: false, Code: code, Message: message})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, authkit.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, authkit.ErrAccountDisabled):
		return http.StatusForbidden, "account_disabled"
	case errors.Is(err, authkit.ErrAccountLocked):
		return http.StatusForbidden, "account_locked"
	case errors.Is(err, authkit.ErrPinNotEnabled):
		return http.StatusBadRequest, "pin_not_enabled"
	case errors.Is(err, authkit.ErrRateLimited),
		errors.Is(err, authkit.ErrRefreshRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, authkit.ErrTokenMissing),
		errors.Is(err, authkit.ErrTokenInvalid),
		errors.Is(err, authkit.ErrTokenExpired),
		errors.Is(err, authkit.ErrTokenBlacklisted),
		errors.Is(err, authkit.ErrSessionExpired):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, authkit.ErrRefreshInvalid),
		errors.Is(err, authkit.ErrRefreshReuse):
		return http.StatusUnauthorized, "invalid_refresh"
	case errors.Is(err, authkit.ErrCsrfMissing),
		errors.Is(err, authkit.ErrCsrfMismatch),
		errors.Is(err, authkit.ErrCsrfExpired):
		return http.StatusForbidden, "csrf_rejected"
	case errors.Is(err, authkit.ErrSessionNotOwned),
		errors.Is(err, authkit.ErrInsufficientPermissions):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, authkit.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, authkit.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
