// Package handlers implements the JSON HTTP API: account sign-up and
// sign-in, the posts feed and its live websocket push.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"postfeed/internal/identity"
	"postfeed/internal/middleware"
	"postfeed/internal/models"
)

// Accounts is the identity surface the auth handlers use.
type Accounts interface {
	SignUp(ctx context.Context, email, password, displayName string) (*models.User, error)
	SignIn(ctx context.Context, w http.ResponseWriter, email, password string) (string, *models.User, error)
}

// SessionDestroyer removes the session named by the request cookie and
// expires the cookie.
type SessionDestroyer interface {
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// FeedSignOut ends a session's feed controller.
type FeedSignOut interface {
	SignOut(ctx context.Context, sessionID string) error
}

// Auth groups all authentication-related HTTP handlers.
type Auth struct {
	accounts Accounts
	sessions SessionDestroyer
	feeds    FeedSignOut
}

// NewAuth creates a new Auth handler group.
func NewAuth(accounts Accounts, sessions SessionDestroyer, feeds FeedSignOut) *Auth {
	return &Auth{
		accounts: accounts,
		sessions: sessions,
		feeds:    feeds,
	}
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func newUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID.String(), Email: u.Email, DisplayName: u.Name()}
}

// Signup registers a new account. It does not sign the user in.
func (a *Auth) Signup(w http.ResponseWriter, r *http.Request) {
	user, err := a.accounts.SignUp(r.Context(),
		r.FormValue("email"),
		r.FormValue("password"),
		r.FormValue("display_name"),
	)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "user": newUserResponse(user)})
	case errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, identity.ErrDisplayNameTooLong):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, identity.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("signup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Login checks the credentials and starts a session cookie.
func (a *Auth) Login(w http.ResponseWriter, r *http.Request) {
	_, user, err := a.accounts.SignIn(r.Context(), w, r.FormValue("email"), r.FormValue("password"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": newUserResponse(user)})
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, identity.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "too many failed attempts, try again later")
	default:
		slog.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Logout ends the session and its feed controller. Logging out without a
// session succeeds.
func (a *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	if id := middleware.SessionIDFromCtx(r.Context()); id != "" {
		if err := a.feeds.SignOut(r.Context(), id); err != nil {
			slog.Warn("feed sign out failed", "error", err)
		}
	}
	if err := a.sessions.Destroy(r.Context(), w, r); err != nil {
		slog.Error("session destroy failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
