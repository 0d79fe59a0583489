package httpapi

import (
	"net/http"
	"strings"
	"time"

	authkit "github.com/retailpoint/authkit"
)

// Cookie names. Access, refresh, and session are HttpOnly; the CSRF
// cookie must stay readable by scripts for the double-submit echo.
const (
	CookieAccess  = "pos_access"
	CookieRefresh = "pos_refresh"
	CookieSession = "pos_session"
	CookieCsrf    = "pos_csrf"
)

type cookieWriter struct {
	cfg authkit.CookieConfig

	accessMaxAge  int
	refreshMaxAge int
	sessionMaxAge int
	csrfMaxAge    int
}

func newCookieWriter(cfg authkit.CookieConfig, accessTTL, refreshTTL, sessionTTL, csrfTTL time.Duration) *cookieWriter {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &cookieWriter{
		cfg:           cfg,
		accessMaxAge:  int(accessTTL.Seconds()),
		refreshMaxAge: int(refreshTTL.Seconds()),
		sessionMaxAge: int(sessionTTL.Seconds()),
		csrfMaxAge:    int(csrfTTL.Seconds()),
	}
}

func (c *cookieWriter) set(w http.ResponseWriter, name, value string, maxAge int, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.cfg.Path,
		Domain:   c.cfg.Domain,
		MaxAge:   maxAge,
		Secure:   c.cfg.Secure,
		HttpOnly: httpOnly,
		SameSite: c.cfg.SameSite,
	})
}

// setAuth writes the full cookie set after login or refresh. An empty
// csrfToken leaves the existing CSRF cookie alone.
func (c *cookieWriter) setAuth(w http.ResponseWriter, accessToken, refreshToken, sessionID, csrfToken string) {
	c.set(w, CookieAccess, accessToken, c.accessMaxAge, true)
	c.set(w, CookieRefresh, refreshToken, c.refreshMaxAge, true)
	c.set(w, CookieSession, sessionID, c.sessionMaxAge, true)
	if csrfToken != "" {
		c.set(w, CookieCsrf, csrfToken, c.csrfMaxAge, false)
	}
}

// clearAuth expires every auth cookie. Called on logout and on any
// failure path that consumed a credential, so clients never retry with
// a dead token.
func (c *cookieWriter) clearAuth(w http.ResponseWriter) {
	c.set(w, CookieAccess, "", -1, true)
	c.set(w, CookieRefresh, "", -1, true)
	c.set(w, CookieSession, "", -1, true)
	c.set(w, CookieCsrf, "", -1, false)
}

func (c *cookieWriter) setCsrf(w http.ResponseWriter, token string) {
	c.set(w, CookieCsrf, token, c.csrfMaxAge, false)
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
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
