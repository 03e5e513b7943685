package main

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// --------- DTOs ---------

type registerReq struct {
	Username    string `json:"username"     validate:"username"`
	Email       string `json:"email"        validate:"required,email"`
	Password    string `json:"password"     validate:"min=8,max=72"`
	DisplayName string `json:"display_name" validate:"max=120"`
}

type loginReq struct {
	Username string `json:"username"` // username or email
	Email    string `json:"email"`
	Password string `json:"password" validate:"required"`
}

// --------- Handlers ---------

// POST /api/auth/register/
func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) error {
	var in registerReq
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = normalizeEmail(in.Email)
	in.DisplayName = strings.TrimSpace(in.DisplayName)

	// bcrypt's limit is in bytes, the tag counts runes
	if len(in.Password) > 72 {
		return validationError(map[string]string{"password": "must be at most 72 bytes"})
	}

	db := a.db.WithContext(r.Context())
	var count int64
	if err := db.Model(&User{}).Where("LOWER(username) = LOWER(?)", in.Username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errConflict("username already in use")
	}
	if err := db.Model(&User{}).Where("email = ?", in.Email).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errConflict("email already in use")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), a.bcryptCost)
	if err != nil {
		return err
	}
	u := User{
		ID:           newID(),
		Username:     in.Username,
		Email:        in.Email,
		DisplayName:  firstNonEmpty(in.DisplayName, in.Username),
		PasswordHash: string(hash),
	}
	if err := db.Create(&u).Error; err != nil {
		if isUniqueViolation(err) {
			return errConflict("username or email already in use")
		}
		return err
	}
	if err := a.setSessionCookies(w, u.ID); err != nil {
		return err
	}
	a.log.Infow("user registered", "userId", u.ID, "username", u.Username)
	writeJSON(w, http.StatusCreated, toDTO(u))
	return nil
}

// POST /api/auth/login/
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) error {
	if !a.loginLimiter.allow(clientIP(r)) {
		return newAPIError(http.StatusTooManyRequests, "rate_limited", "too many login attempts, try again later")
	}
	var in loginReq
	if err := decodeJSON(r, &in); err != nil {
		return err
	}
	ident := strings.TrimSpace(firstNonEmpty(in.Username, in.Email))
	if ident == "" || in.Password == "" {
		return validationError(map[string]string{"username": "username and password required"})
	}

	var u User
	q := a.db.WithContext(r.Context())
	if strings.Contains(ident, "@") {
		q = q.Where("email = ?", normalizeEmail(ident))
	} else {
		q = q.Where("LOWER(username) = LOWER(?)", ident)
	}
	err := q.First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errUnauthorized("invalid credentials")
	} else if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)) != nil {
		return errUnauthorized("invalid credentials")
	}

	if err := a.setSessionCookies(w, u.ID); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, toDTO(u))
	return nil
}

// POST /api/auth/logout/
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) error {
	a.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
	return nil
}

// GET /api/auth/check/
func (a *App) handleCheck(w http.ResponseWriter, r *http.Request) error {
	u := currentUser(r)
	if u == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "user": nil})
		return nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": toDTO(*u)})
	return nil
}

// POST /api/auth/refresh/
func (a *App) handleRefresh(w http.ResponseWriter, r *http.Request) error {
	c, err := r.Cookie(a.cfg.RefreshCookieName)
	if err != nil || c.Value == "" {
		return errUnauthorized("no refresh session")
	}
	claims, err := parseToken([]byte(a.cfg.JWTSecret), c.Value, tokenRefresh, a.now())
	if err != nil {
		return errUnauthorized("invalid refresh session")
	}
	var u User
	if err := a.db.WithContext(r.Context()).First(&u, "id = ?", claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errUnauthorized("user not found")
		}
		return err
	}
	access, err := signToken([]byte(a.cfg.JWTSecret), u.ID, tokenAccess, a.now(), a.cfg.AccessTTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, a.cookie(a.cfg.CookieName, access, a.cfg.AccessTTL, true))
	writeJSON(w, http.StatusOK, map[string]any{"user": toDTO(u), "expires_in": int(a.cfg.AccessTTL.Seconds())})
	return nil
}

// GET /api/auth/csrf/
func (a *App) handleCSRF(w http.ResponseWriter, r *http.Request) error {
	tok, err := a.issueCSRF(w)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": tok})
	return nil
}
