package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	authkit "github.com/retailpoint/authkit"
	"github.com/retailpoint/authkit/middleware"
)

// Handler exposes the auth flows over HTTP. Tokens ride in cookies for
// browser clients and in the JSON body for terminals that manage their
// own storage; both are always set.
type Handler struct {
	engine     *authkit.Engine
	cookies    *cookieWriter
	production bool
}

// Options configures the HTTP surface from the engine's own config
// values so cookie lifetimes track token lifetimes.
type Options struct {
	Cookie     authkit.CookieConfig
	Config     authkit.Config
	Production bool
}

func NewHandler(engine *authkit.Engine, opts Options) *Handler {
	return &Handler{
		engine: engine,
		cookies: newCookieWriter(
			opts.Cookie,
			opts.Config.Token.AccessTTL,
			opts.Config.Refresh.TTL,
			opts.Config.Session.Timeout,
			opts.Config.Csrf.TokenTTL,
		),
		production: opts.Production,
	}
}

// Routes wires the endpoints. Guarded routes authenticate via bearer
// header or access cookie; state-changing guarded routes additionally
// pass the CSRF check.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", h.withClientContext(h.handleLogin))
	mux.HandleFunc("POST /auth/login/pin", h.withClientContext(h.handlePinLogin))
	mux.HandleFunc("POST /auth/refresh", h.withClientContext(h.handleRefresh))

	guard := middleware.Guard(h.engine, CookieAccess)
	csrf := middleware.Csrf(h.engine, func(w http.ResponseWriter, token string) {
		h.cookies.setCsrf(w, token)
	})

	mux.Handle("POST /auth/logout", guard(csrf(http.HandlerFunc(h.handleLogout))))
	mux.Handle("GET /auth/csrf", guard(http.HandlerFunc(h.handleCsrfToken)))
	mux.Handle("GET /auth/sessions", guard(http.HandlerFunc(h.handleListSessions)))
	mux.Handle("DELETE /auth/sessions/{id}", guard(csrf(http.HandlerFunc(h.handleTerminateSession))))
	mux.Handle("POST /auth/sessions/terminate-others", guard(csrf(http.HandlerFunc(h.handleTerminateOthers))))
	mux.Handle("POST /auth/password", guard(csrf(http.HandlerFunc(h.handleChangePassword))))

	return mux
}

// withClientContext attaches IP and user agent for unguarded routes;
// the Guard does the same for guarded ones.
func (h *Handler) withClientContext(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := authkit.WithClientIP(r.Context(), clientIP(r))
		ctx = authkit.WithUserAgent(ctx, r.UserAgent())
		next(w, r.WithContext(ctx))
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Pin      string `json:"pin"`
}

type tokenResponse struct {
	UserID       string `json:"userId"`
	SessionID    string `json:"sessionId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Code: "bad_request", Message: "username and password required"})
		return
	}

	result, err := h.engine.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.cookies.clearAuth(w)
		h.writeError(w, err)
		return
	}

	h.finishLogin(w, result)
}

func (h *Handler) handlePinLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Pin == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Code: "bad_request", Message: "username and pin required"})
		return
	}

	result, err := h.engine.LoginWithPin(r.Context(), req.Username, req.Pin)
	if err != nil {
		h.cookies.clearAuth(w)
		h.writeError(w, err)
		return
	}

	h.finishLogin(w, result)
}

func (h *Handler) finishLogin(w http.ResponseWriter, result *authkit.LoginResult) {
	h.cookies.setAuth(w, result.AccessToken, result.RefreshToken, result.SessionID, result.CsrfToken)
	writeData(w, tokenResponse{
		UserID:       result.UserID,
		SessionID:    result.SessionID,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, CookieRefresh)
	if token == "" {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = req.RefreshToken
		}
	}
	if token == "" {
		h.cookies.clearAuth(w)
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Code: "bad_request", Message: "refresh token required"})
		return
	}

	result, err := h.engine.Refresh(r.Context(), token)
	if err != nil {
		// The presented token is dead on every failure path; make the
		// client drop it instead of retrying.
		h.cookies.clearAuth(w)
		h.writeError(w, err)
		return
	}

	h.cookies.setAuth(w, result.AccessToken, result.RefreshToken, result.SessionID, "")
	writeData(w, tokenResponse{
		UserID:       result.UserID,
		SessionID:    result.SessionID,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	})
}

// handleCsrfToken re-issues the session's CSRF token, for clients that
// lost theirs. The previous token stops validating once replaced.
func (h *Handler) handleCsrfToken(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())

	token, err := h.engine.IssueCsrf(r.Context(), res.SessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.cookies.setCsrf(w, token)
	writeData(w, map[string]string{"csrfToken": token})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.AccessTokenFromContext(r.Context())

	if err := h.engine.Logout(r.Context(), token); err != nil {
		h.cookies.clearAuth(w)
		h.writeError(w, err)
		return
	}

	h.cookies.clearAuth(w)
	writeData(w, map[string]bool{"loggedOut": true})
}

type sessionView struct {
	SessionID      string `json:"sessionId"`
	CreatedAt      int64  `json:"createdAt"`
	ExpiresAt      int64  `json:"expiresAt"`
	LastActivityAt int64  `json:"lastActivityAt"`
	IPAddress      string `json:"ipAddress,omitempty"`
	UserAgent      string `json:"userAgent,omitempty"`
	Current        bool   `json:"current"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())

	sessions, err := h.engine.ListSessions(r.Context(), res.UserID, res.SessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			SessionID:      s.SessionID,
			CreatedAt:      s.CreatedAt.Unix(),
			ExpiresAt:      s.ExpiresAt.Unix(),
			LastActivityAt: s.LastActivityAt.Unix(),
			IPAddress:      s.IPAddress,
			UserAgent:      s.UserAgent,
			Current:        s.Current,
		})
	}
	writeData(w, views)
}

func (h *Handler) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())
	sessionID := r.PathValue("id")

	if err := h.engine.TerminateSession(r.Context(), res.UserID, sessionID); err != nil {
		h.writeError(w, err)
		return
	}

	if sessionID == res.SessionID {
		// The caller just ended the session they are on.
		h.cookies.clearAuth(w)
	}
	writeData(w, map[string]bool{"terminated": true})
}

func (h *Handler) handleTerminateOthers(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())

	count, err := h.engine.TerminateOtherSessions(r.Context(), res.UserID, res.SessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeData(w, map[string]int{"terminated": count})
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	res, _ := middleware.AuthResultFromContext(r.Context())

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OldPassword == "" || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Code: "bad_request", Message: "oldPassword and newPassword required"})
		return
	}

	err := h.engine.ChangePassword(r.Context(), res.UserID, res.SessionID, req.OldPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, authkit.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, envelope{Success: false, Code: "invalid_credentials", Message: "invalid_credentials"})
			return
		}
		h.writeError(w, err)
		return
	}
	writeData(w, map[string]bool{"changed": true})
}
