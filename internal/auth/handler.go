package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
)

const (
	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"

	maxJSONBodyBytes = 1 << 20
)

type Handler struct {
	service      *Service
	gate         *SessionGate
	issuer       *TokenIssuer
	secureCookie bool
}

func NewHandler(service *Service, gate *SessionGate, issuer *TokenIssuer) *Handler {
	return &Handler{service: service, gate: gate, issuer: issuer}
}

// WithSecureCookies marks both auth cookies Secure. Off by default so the
// API works over plain HTTP in development; turn on behind TLS.
func (h *Handler) WithSecureCookies(secure bool) *Handler {
	h.secureCookie = secure
	return h
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type updateUserRequest struct {
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	user, err := h.service.Register(r.Context(), body.Username, body.Email, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingFields):
			writeError(w, http.StatusBadRequest, "please provide all required fields")
		case errors.Is(err, ErrUsernameTaken):
			writeError(w, http.StatusBadRequest, "username already taken")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to register")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "register success",
		"user":    user,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	identity, pair, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "login success",
		"username": identity.Username,
		"role":     identity.Role,
	})
}

func (h *Handler) writeLoginError(w http.ResponseWriter, err error) {
	var locked *LockedError
	var badPassword *InvalidPasswordError

	switch {
	case errors.Is(err, ErrUnknownUser):
		writeError(w, http.StatusUnauthorized, "invalid username")
	case errors.As(err, &locked):
		writeError(w, http.StatusForbidden, fmt.Sprintf(
			"user is locked, please contact admin or try again in %d minutes", locked.RetryMinutes()))
	case errors.As(err, &badPassword):
		if badPassword.Locked {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf(
				"invalid password, user is locked, try again in %d minutes", int(h.service.LockWindow().Minutes())))
		} else {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf(
				"invalid password, you have %d more chances to log in", badPassword.AttemptsLeft))
		}
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
	}
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	identity, err := h.gate.AuthenticateAccess(cookieValue(r, accessCookieName))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "token not found or invalid")
		return
	}

	var body updateUserRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), identity.Username, body.Password, body.NewPassword); err != nil {
		switch {
		case errors.Is(err, ErrMissingFields):
			writeError(w, http.StatusBadRequest, "please provide all required fields")
		case errors.Is(err, ErrWrongPassword), errors.Is(err, ErrUnknownUser):
			writeError(w, http.StatusUnauthorized, "invalid current password")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logout success"})
}

func (h *Handler) CheckAuthenticated(w http.ResponseWriter, r *http.Request) {
	identity, rotated, err := h.gate.Authenticate(
		cookieValue(r, accessCookieName),
		cookieValue(r, refreshCookieName),
	)
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to check session")
		return
	}

	if rotated != nil {
		h.setAuthCookies(w, *rotated)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":         "already logged in",
		"isAuthenticated": true,
		"user":            identity,
	})
}

func (h *Handler) GetDataUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to fetch users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "fetch data success",
		"dataUser": users,
	})
}

// DeleteUser requires an admin access token. The original behavior had no
// auth check here at all; that was a defect, not a contract.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	identity, err := h.gate.AuthenticateAccess(cookieValue(r, accessCookieName))
	if err == nil {
		err = h.gate.RequireAdmin(identity)
	}
	if err != nil {
		// Insufficient role answers exactly like a missing token.
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return false
	}
	return true
}

func (h *Handler) setAuthCookies(w http.ResponseWriter, pair TokenPair) {
	h.setCookie(w, accessCookieName, pair.AccessToken, int(h.issuer.AccessTTL().Seconds()))
	h.setCookie(w, refreshCookieName, pair.RefreshToken, int(h.issuer.RefreshTTL().Seconds()))
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	h.setCookie(w, accessCookieName, "", -1)
	h.setCookie(w, refreshCookieName, "", -1)
}

// Cookie max-age always equals the token TTL, so cookie and token expire
// together.
func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
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
