package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/studyhelper/internal/i18n"
)

const accessCookieName = "session"

// requireAccess checks for a valid access token when a password is configured.
// The token is read from the session cookie or a Bearer Authorization header.
func (h *Handler) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.config.AccessPasswordHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			if cookie, err := r.Cookie(accessCookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			writeMessage(w, http.StatusUnauthorized, appI18n.T(r.Context(), "ErrUnauthorized"))
			return
		}

		ok, err := h.store.ValidAccessToken(r.Context(), token)
		if err != nil {
			slog.Error("failed to check access token", "error", err)
			writeMessage(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ErrInternal"))
			return
		}
		if !ok {
			writeMessage(w, http.StatusUnauthorized, appI18n.T(r.Context(), "ErrUnauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if h.config.AccessPasswordHash == "" {
		writeJSON(w, http.StatusOK, map[string]any{"open": true})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "ErrBadRequest"))
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.config.AccessPasswordHash), []byte(body.Password)); err != nil {
		slog.Warn("rejected login", "remote", r.RemoteAddr)
		writeMessage(w, http.StatusUnauthorized, appI18n.T(r.Context(), "ErrInvalidPassword"))
		return
	}

	token, expires, err := h.store.CreateAccessToken(r.Context())
	if err != nil {
		slog.Error("failed to create access token", "error", err)
		writeMessage(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ErrInternal"))
		return
	}
	if err := h.store.CleanupExpiredTokens(r.Context()); err != nil {
		slog.Warn("cleanup expired tokens", "error", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expiresAt": expires.Format(time.RFC3339)})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if cookie, err := r.Cookie(accessCookieName); err == nil && token == "" {
		token = cookie.Value
	}
	if token != "" && h.store != nil {
		_ = h.store.DeleteAccessToken(r.Context(), token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HashPassword returns the bcrypt hash used for AccessPasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
