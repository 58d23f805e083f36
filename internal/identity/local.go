package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hopecore/community/internal/domain"
)

// Local is an in-process identity provider for development, used when no
// auth endpoint is configured. Accounts live in memory with bcrypt-hashed
// passwords and sessions are issued immediately, with no email confirmation
// step.
type Local struct {
	logger *slog.Logger

	mu      sync.Mutex
	users   map[string]*localUser // keyed by email
	current *domain.Session
}

type localUser struct {
	id    string
	email string
	hash  []byte
}

var _ domain.IdentityService = (*Local)(nil)

// NewLocal creates an empty development provider.
func NewLocal(logger *slog.Logger) *Local {
	return &Local{
		logger: logger,
		users:  make(map[string]*localUser),
	}
}

// SignUp registers an account and signs it in immediately.
func (l *Local) SignUp(ctx context.Context, email, password, displayName string) (*domain.Session, error) {
	if !strings.Contains(email, "@") {
		return nil, &domain.AuthError{Class: domain.AuthInvalidEmail, Err: errors.New("invalid email")}
	}
	if len(password) < 6 {
		return nil, &domain.AuthError{Class: domain.AuthWeakPassword, Err: errors.New("password too short")}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.users[email]; exists {
		return nil, &domain.AuthError{Class: domain.AuthAlreadyRegistered, Err: errors.New("user already registered")}
	}

	u := &localUser{id: uuid.NewString(), email: email, hash: hash}
	l.users[email] = u
	l.current = l.sessionFor(u)
	l.logger.Info("dev account created", "email", email)
	return l.current, nil
}

// SignIn checks credentials against the in-memory accounts.
func (l *Local) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.users[email]
	if !ok {
		return nil, &domain.AuthError{Class: domain.AuthBadCredentials, Err: errors.New("invalid login credentials")}
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, &domain.AuthError{Class: domain.AuthBadCredentials, Err: errors.New("invalid login credentials")}
		}
		return nil, fmt.Errorf("compare password: %w", err)
	}

	l.current = l.sessionFor(u)
	return l.current, nil
}

// SignOut drops the current session.
func (l *Local) SignOut(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = nil
	return nil
}

// CurrentSession returns the session issued by the last sign-in, if any.
func (l *Local) CurrentSession(ctx context.Context) (*domain.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, nil
}

// RequestPasswordReset is a logged no-op in development.
func (l *Local) RequestPasswordReset(ctx context.Context, email string) error {
	l.logger.Info("password reset requested (dev provider, no email sent)", "email", email)
	return nil
}

// ResendVerification is a logged no-op in development; dev accounts are
// always verified.
func (l *Local) ResendVerification(ctx context.Context, email string) error {
	l.logger.Info("verification resend requested (dev provider, no email sent)", "email", email)
	return nil
}

func (l *Local) sessionFor(u *localUser) *domain.Session {
	return &domain.Session{
		UserID:        u.id,
		Email:         u.email,
		AccessToken:   uuid.NewString(),
		EmailVerified: true,
	}
}
