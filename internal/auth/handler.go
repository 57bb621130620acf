package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"vidtube-api/internal/observability"
)

const (
	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"
	maxJSONBodyBytes  = 1 << 20
)

// CookieConfig controls how the token pair is delivered to browsers. Tokens
// are always httpOnly; Secure is relaxed only for local development.
type CookieConfig struct {
	Secure bool
	Domain string
}

type Handler struct {
	service *Service
	logger  *observability.Logger
	cookies CookieConfig
}

func NewHandler(service *Service, logger *observability.Logger, cookies CookieConfig) *Handler {
	return &Handler{service: service, logger: logger, cookies: cookies}
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User PublicUser `json:"user"`
	Tokens
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.Login(r.Context(), LoginInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "username or email and password are required")
		case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrInvalidCredentials):
			// Unknown identifier and wrong password are indistinguishable to
			// clients; the reason stays in the log.
			h.logger.Info("login_rejected", map[string]any{"reason": rejectionReason(err)})
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			sentry.CaptureException(err)
			h.logger.Error("login_failed", map[string]any{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "failed to login")
		}
		return
	}

	h.setAuthCookies(w, result.Tokens)
	writeJSON(w, http.StatusOK, loginResponse{User: result.User, Tokens: result.Tokens})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	presented := h.refreshTokenFromRequest(w, r)
	if presented == "" {
		writeError(w, http.StatusUnauthorized, "refresh token is required")
		return
	}

	tokens, err := h.service.Refresh(r.Context(), presented)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenExpired),
			errors.Is(err, ErrTokenInvalid),
			errors.Is(err, ErrStaleRefreshToken),
			errors.Is(err, ErrUserNotFound):
			h.logger.Info("refresh_rejected", map[string]any{"reason": rejectionReason(err)})
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
		default:
			sentry.CaptureException(err)
			h.logger.Error("refresh_failed", map[string]any{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "failed to refresh token")
		}
		return
	}

	h.setAuthCookies(w, tokens)
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.service.Logout(r.Context(), userID); err != nil && !errors.Is(err, ErrUserNotFound) {
		sentry.CaptureException(err)
		h.logger.Error("logout_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	h.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body changePasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, body.OldPassword, body.NewPassword); err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "old and new passwords are required")
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, ErrUserNotFound):
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			sentry.CaptureException(err)
			h.logger.Error("change_password_failed", map[string]any{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// refreshTokenFromRequest prefers the cookie; the JSON body field is the
// fallback for non-browser clients.
func (h *Handler) refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	var body refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ""
	}

	return strings.TrimSpace(body.RefreshToken)
}

func (h *Handler) setAuthCookies(w http.ResponseWriter, tokens Tokens) {
	http.SetCookie(w, h.cookie(accessCookieName, tokens.AccessToken, int(tokens.ExpiresIn)))
	http.SetCookie(w, h.cookie(refreshCookieName, tokens.RefreshToken, 0))
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookieName, refreshCookieName} {
		cookie := h.cookie(name, "", -1)
		http.SetCookie(w, cookie)
	}
}

func (h *Handler) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrInvalidCredentials):
		return "password_mismatch"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrStaleRefreshToken):
		return "token_stale"
	default:
		return "unknown"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
