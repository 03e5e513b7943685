package main

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

type ctxKey int

const userCtxKey ctxKey = iota

// --------- Cookies ---------

func (a *App) cookie(name, value string, ttl time.Duration, httpOnly bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   a.cfg.CookieDomain,
		HttpOnly: httpOnly,
		SameSite: a.cfg.CookieSameSite,
		Secure:   a.cfg.CookieSecure,
	}
	if ttl > 0 {
		c.Expires = a.now().Add(ttl)
		c.MaxAge = int(ttl.Seconds())
	} else {
		c.MaxAge = -1
	}
	return c
}

// setSessionCookies issues access, refresh and CSRF cookies for userID.
func (a *App) setSessionCookies(w http.ResponseWriter, userID string) error {
	secret := []byte(a.cfg.JWTSecret)
	now := a.now()
	access, err := signToken(secret, userID, tokenAccess, now, a.cfg.AccessTTL)
	if err != nil {
		return err
	}
	refresh, err := signToken(secret, userID, tokenRefresh, now, a.cfg.RefreshTTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, a.cookie(a.cfg.CookieName, access, a.cfg.AccessTTL, true))
	http.SetCookie(w, a.cookie(a.cfg.RefreshCookieName, refresh, a.cfg.RefreshTTL, true))
	_, err = a.issueCSRF(w)
	return err
}

func (a *App) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, a.cookie(a.cfg.CookieName, "", 0, true))
	http.SetCookie(w, a.cookie(a.cfg.RefreshCookieName, "", 0, true))
	http.SetCookie(w, a.cookie(a.cfg.CSRFCookieName, "", 0, false))
}

// issueCSRF sets a fresh CSRF cookie readable by the frontend and returns it.
func (a *App) issueCSRF(w http.ResponseWriter) (string, error) {
	tok, err := newSecret()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, a.cookie(a.cfg.CSRFCookieName, tok, a.cfg.RefreshTTL, false))
	return tok, nil
}

// --------- Identity ---------

// userIDFromRequest extracts the authenticated user id from the access
// cookie (or a Bearer header), falling back to the X-Hub-User header when
// the dev fallback is enabled.
func (a *App) userIDFromRequest(r *http.Request) string {
	raw := ""
	if c, err := r.Cookie(a.cfg.CookieName); err == nil && c.Value != "" {
		raw = c.Value
	} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if raw != "" {
		if claims, err := parseToken([]byte(a.cfg.JWTSecret), raw, tokenAccess, a.now()); err == nil {
			return claims.UserID
		}
	}
	if a.cfg.AllowDevHeader {
		if v := strings.TrimSpace(r.Header.Get("X-Hub-User")); v != "" {
			return v
		}
	}
	return ""
}

// withUser loads the user (if any) into the request context. It never rejects.
func (a *App) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := a.userIDFromRequest(r); id != "" {
			var u User
			if err := a.db.WithContext(r.Context()).First(&u, "id = ?", id).Error; err == nil {
				r = r.WithContext(context.WithValue(r.Context(), userCtxKey, &u))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requireUser rejects anonymous requests with 401.
func (a *App) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if currentUser(r) == nil {
			errorJSON(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// csrfProtect enforces double-submit CSRF on unsafe methods for cookie
// sessions. Bearer and dev-header callers are not exposed to CSRF.
func (a *App) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if _, err := r.Cookie(a.cfg.CookieName); err != nil {
			next.ServeHTTP(w, r)
			return
		}
		c, err := r.Cookie(a.cfg.CSRFCookieName)
		header := firstNonEmpty(r.Header.Get("X-CSRFToken"), r.Header.Get("X-CSRF-Token"))
		if err != nil || c.Value == "" || header == "" ||
			subtle.ConstantTimeCompare([]byte(c.Value), []byte(header)) != 1 {
			errorJSON(w, http.StatusForbidden, "csrf_failed", "CSRF token missing or incorrect")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func currentUser(r *http.Request) *User {
	u, _ := r.Context().Value(userCtxKey).(*User)
	return u
}

// mustUser is for handlers mounted behind requireUser.
func mustUser(r *http.Request) *User {
	u := currentUser(r)
	if u == nil {
		panic("mustUser called on an unauthenticated route")
	}
	return u
}
