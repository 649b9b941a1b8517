// Package identity answers "who is signed in" for a session. Accounts
// handles sign-up and sign-in against the users table; Session exposes the
// current user of one browser session to the feed controller.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"postfeed/internal/models"
	"postfeed/internal/session"
	"postfeed/internal/store"
)

// MinPasswordLen is the shortest password SignUp accepts.
const MinPasswordLen = 8

const maxDisplayNameLen = 100

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	ErrDisplayNameTooLong = fmt.Errorf("display name must be at most %d characters", maxDisplayNameLen)
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrTooManyAttempts    = errors.New("too many failed sign-in attempts, try again later")
)

// UserRepository is the subset of store.UserStore Accounts uses.
type UserRepository interface {
	Create(ctx context.Context, email, password, displayName string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	CheckPassword(user *models.User, password string) bool
}

// SessionStore is the subset of session.Store Accounts uses.
type SessionStore interface {
	Create(ctx context.Context, w http.ResponseWriter, data *session.Data) (string, error)
	GetByID(ctx context.Context, id string) (*session.Data, error)
	DestroyByID(ctx context.Context, id string) error
}

// Throttler limits failed sign-ins per e-mail address.
type Throttler interface {
	Blocked(ctx context.Context, key string) (bool, error)
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// Accounts handles sign-up and sign-in.
type Accounts struct {
	users    UserRepository
	sessions SessionStore
	throttle Throttler
}

// NewAccounts creates Accounts. throttle may be nil to disable per-account
// lockout.
func NewAccounts(users UserRepository, sessions SessionStore, throttle Throttler) *Accounts {
	return &Accounts{users: users, sessions: sessions, throttle: throttle}
}

// NormalizeEmail trims and lower-cases an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a new user. It does not sign them in.
func (a *Accounts) SignUp(ctx context.Context, email, password, displayName string) (*models.User, error) {
	email = NormalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if utf8.RuneCountInString(password) < MinPasswordLen {
		return nil, ErrWeakPassword
	}
	displayName = strings.TrimSpace(displayName)
	if utf8.RuneCountInString(displayName) > maxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}

	u, err := a.users.Create(ctx, email, password, displayName)
	if errors.Is(err, store.ErrDuplicateEmail) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	slog.Info("user signed up", "user_id", u.ID)
	return u, nil
}

// SignIn verifies the credentials and starts a session, setting the session
// cookie on w. Returns the new session ID and the user.
func (a *Accounts) SignIn(ctx context.Context, w http.ResponseWriter, email, password string) (string, *models.User, error) {
	email = NormalizeEmail(email)

	if a.throttle != nil {
		blocked, err := a.throttle.Blocked(ctx, email)
		if err != nil {
			slog.Warn("sign-in throttle unavailable", "error", err)
		} else if blocked {
			return "", nil, ErrTooManyAttempts
		}
	}

	u, err := a.users.FindByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("sign in: %w", err)
	}

	// Compare against a dummy hash for unknown users so response time does
	// not reveal which addresses are registered.
	candidate := u
	if candidate == nil {
		candidate = &models.User{PasswordHash: dummyHash()}
	}
	if !a.users.CheckPassword(candidate, password) || u == nil {
		a.recordFailure(ctx, email)
		return "", nil, ErrInvalidCredentials
	}

	id, err := a.sessions.Create(ctx, w, &session.Data{
		UserID:      u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
	})
	if err != nil {
		return "", nil, fmt.Errorf("sign in: %w", err)
	}

	if a.throttle != nil {
		if err := a.throttle.Reset(ctx, email); err != nil {
			slog.Warn("sign-in throttle reset failed", "error", err)
		}
	}

	slog.Info("user signed in", "user_id", u.ID)
	return id, u, nil
}

func (a *Accounts) recordFailure(ctx context.Context, email string) {
	if a.throttle == nil {
		return
	}
	if err := a.throttle.Fail(ctx, email); err != nil {
		slog.Warn("sign-in throttle update failed", "error", err)
	}
}

// Session returns the identity view of one session.
func (a *Accounts) Session(id string) *Session {
	return &Session{id: id, store: a.sessions}
}

// Session resolves the current user of a single browser session.
type Session struct {
	id    string
	store SessionStore
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// CurrentUser returns the signed-in user, or nil if the session has ended.
func (s *Session) CurrentUser(ctx context.Context) (*models.User, error) {
	data, err := s.store.GetByID(ctx, s.id)
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return &models.User{
		ID:          data.UserID,
		Email:       data.Email,
		DisplayName: data.DisplayName,
	}, nil
}

// SignOut ends the session.
func (s *Session) SignOut(ctx context.Context) error {
	if err := s.store.DestroyByID(ctx, s.id); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

func validEmail(email string) bool {
	if len(email) > 320 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	_, domain, _ := strings.Cut(email, "@")
	return strings.Contains(domain, ".")
}

var dummyHash = sync.OnceValue(func() string {
	h, _ := bcrypt.GenerateFromPassword([]byte("postfeed-dummy-password"), bcrypt.DefaultCost)
	return string(h)
})
