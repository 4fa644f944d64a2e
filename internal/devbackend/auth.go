package devbackend

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/photocapsule/capsuleauth/internal/rate"
	"github.com/photocapsule/capsuleauth/middleware"
)

var errEmailTaken = errors.New("email already registered")

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (b *Backend) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := b.CreateUser(req.Email, req.Password); err != nil {
		if errors.Is(err, errEmailTaken) {
			http.Error(w, "Email already registered", http.StatusConflict)
			return
		}
		b.logger.Error("creating user failed", zap.Error(err))
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "User created successfully"})
}

func (b *Backend) handleSignIn(w http.ResponseWriter, r *http.Request) {
	b.signInCalls.Add(1)

	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := b.limiter.Check(ctx, req.Email); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			http.Error(w, "Too many sign-in attempts", http.StatusTooManyRequests)
			return
		}
		b.logger.Warn("sign-in throttle unavailable", zap.Error(err))
	}

	b.mu.Lock()
	u, ok := b.users[req.Email]
	b.mu.Unlock()

	if !ok {
		_ = b.limiter.Fail(ctx, req.Email)
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if match, err := verifyPassword(req.Password, u.passwordHash); err != nil || !match {
		_ = b.limiter.Fail(ctx, req.Email)
		http.Error(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	_ = b.limiter.Reset(ctx, req.Email)

	access, err := b.manager.CreateAccess(u.id, u.email)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	refresh, err := b.sessions.issue(ctx, refreshSession{UserID: u.id, Email: u.email})
	if err != nil {
		b.logger.Error("issuing refresh session failed", zap.Error(err))
		http.Error(w, "Failed to generate refresh token", http.StatusInternalServerError)
		return
	}

	b.setRefreshCookie(w, refresh)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Login successful",
		"token":   access,
	})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b.refreshCalls.Add(1)

	if d := time.Duration(b.refreshDelay.Load()); d > 0 {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
	}
	if b.failRefresh.Load() {
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	cookie, err := r.Cookie(RefreshCookie)
	if err != nil || cookie.Value == "" {
		http.Error(w, "Refresh token not provided", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	sess, err := b.sessions.consume(ctx, cookie.Value)
	if err != nil {
		if !errors.Is(err, errUnknownSession) {
			b.logger.Error("loading refresh session failed", zap.Error(err))
		}
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	rotated, err := b.sessions.issue(ctx, sess)
	if err != nil {
		b.logger.Error("rotating refresh session failed", zap.Error(err))
		http.Error(w, "Could not rotate refresh token", http.StatusInternalServerError)
		return
	}
	access, err := b.manager.CreateAccess(sess.UserID, sess.Email)
	if err != nil {
		http.Error(w, "Could not generate access token", http.StatusInternalServerError)
		return
	}

	b.setRefreshCookie(w, rotated)
	writeJSON(w, http.StatusOK, map[string]string{"access_token": access})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.logoutCalls.Add(1)

	if cookie, err := r.Cookie(RefreshCookie); err == nil && cookie.Value != "" {
		if err := b.sessions.revoke(r.Context(), cookie.Value); err != nil {
			b.logger.Warn("revoking refresh session failed", zap.Error(err))
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   b.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": claims.UserID,
		"email":   claims.Email,
	})
}

func (b *Backend) setRefreshCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   b.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(b.cfg.RefreshTTL),
	})
}
