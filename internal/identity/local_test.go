package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hopecore/community/internal/domain"
)

func newTestLocal() *Local {
	return NewLocal(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLocalSignUpAndSignIn(t *testing.T) {
	t.Parallel()

	l := newTestLocal()
	ctx := context.Background()

	sess, err := l.SignUp(ctx, "dev@example.com", "secret123", "Dev")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if sess == nil || sess.UserID == "" {
		t.Fatal("no session issued on sign up")
	}
	if !sess.EmailVerified {
		t.Error("dev accounts should be verified")
	}

	if err := l.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if got, _ := l.CurrentSession(ctx); got != nil {
		t.Error("session survived sign out")
	}

	again, err := l.SignIn(ctx, "dev@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if again.UserID != sess.UserID {
		t.Errorf("got user %q, want the same account %q", again.UserID, sess.UserID)
	}
}

func TestLocalSignUpValidation(t *testing.T) {
	t.Parallel()

	l := newTestLocal()
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
		want     domain.AuthClass
	}{
		{"no at sign", "not-an-email", "secret123", domain.AuthInvalidEmail},
		{"short password", "a@example.com", "12345", domain.AuthWeakPassword},
	}
	for _, tc := range cases {
		_, err := l.SignUp(ctx, tc.email, tc.password, "")
		var ae *domain.AuthError
		if !errors.As(err, &ae) || ae.Class != tc.want {
			t.Errorf("%s: got %v, want class %v", tc.name, err, tc.want)
		}
	}
}

func TestLocalDuplicateSignUp(t *testing.T) {
	t.Parallel()

	l := newTestLocal()
	ctx := context.Background()

	if _, err := l.SignUp(ctx, "dup@example.com", "secret123", ""); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	_, err := l.SignUp(ctx, "dup@example.com", "other456", "")
	var ae *domain.AuthError
	if !errors.As(err, &ae) || ae.Class != domain.AuthAlreadyRegistered {
		t.Fatalf("got %v, want AuthAlreadyRegistered", err)
	}
}

func TestLocalBadCredentials(t *testing.T) {
	t.Parallel()

	l := newTestLocal()
	ctx := context.Background()

	l.SignUp(ctx, "dev@example.com", "secret123", "")

	var ae *domain.AuthError
	if _, err := l.SignIn(ctx, "dev@example.com", "wrong-pass"); !errors.As(err, &ae) || ae.Class != domain.AuthBadCredentials {
		t.Errorf("wrong password: got %v, want AuthBadCredentials", err)
	}
	if _, err := l.SignIn(ctx, "nobody@example.com", "secret123"); !errors.As(err, &ae) || ae.Class != domain.AuthBadCredentials {
		t.Errorf("unknown account: got %v, want AuthBadCredentials", err)
	}
}
