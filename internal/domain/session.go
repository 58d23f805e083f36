package domain

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// ActorObserver is notified after every actor transition. Observers run
// synchronously on the goroutine that performed the transition.
type ActorObserver func(ctx context.Context, a Actor)

// Sessions owns the current Actor and every transition between its states.
// No other component mutates the actor; cross-component effects of identity
// changes are expressed through the observer list.
type Sessions struct {
	identity IdentityService
	local    LocalState
	logger   *slog.Logger

	mu        sync.Mutex
	actor     Actor
	observers []ActorObserver
}

// NewSessions creates the session service in the unresolved state. Call
// ResolveInitial before serving traffic.
func NewSessions(identity IdentityService, local LocalState, logger *slog.Logger) *Sessions {
	return &Sessions{
		identity: identity,
		local:    local,
		logger:   logger,
		actor:    Actor{Kind: ActorUnknown},
	}
}

// Current returns the actor as last resolved.
func (s *Sessions) Current() Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actor
}

// Subscribe registers an observer for actor transitions.
func (s *Sessions) Subscribe(fn ActorObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Sessions) setActor(ctx context.Context, a Actor) {
	s.mu.Lock()
	s.actor = a
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(ctx, a)
	}
}

// ResolveInitial determines the starting actor. A persisted guest flag wins
// without consulting the identity provider. Otherwise an existing remote
// session resolves to authenticated, and "no session" stays distinct from
// guest: reads work, guest-gated features do not, until the user opts in.
// Provider failure degrades to the same read-only no-session state rather
// than blocking indefinitely.
func (s *Sessions) ResolveInitial(ctx context.Context) Actor {
	guest, err := s.local.GuestMode()
	if err != nil {
		s.logger.Warn("guest flag unreadable, treating as unset", "error", err)
	}
	if guest {
		s.logger.Info("resolved initial actor", "kind", ActorGuest)
		a := Actor{Kind: ActorGuest}
		s.setActor(ctx, a)
		return a
	}

	sess, err := s.identity.CurrentSession(ctx)
	if err != nil {
		s.logger.Error("session lookup failed, degrading to read-only", "error", err)
		a := Actor{Kind: ActorNoSession}
		s.setActor(ctx, a)
		return a
	}

	a := Actor{Kind: ActorNoSession}
	if sess != nil {
		a = Actor{Kind: ActorAuthenticated, UserID: sess.UserID, EmailVerified: sess.EmailVerified}
	}
	s.logger.Info("resolved initial actor", "kind", a.Kind)
	s.setActor(ctx, a)
	return a
}

// SignUp registers a new account with the identity provider. The returned
// flag reports whether a session was issued immediately: providers that
// require email confirmation create the account without one, and in that
// case no actor transition happens. Failures come back classified as
// *AuthError and are never retried here.
func (s *Sessions) SignUp(ctx context.Context, email, password, displayName string) (sessionIssued bool, err error) {
	email = normalizeEmail(email)

	sess, err := s.identity.SignUp(ctx, email, password, displayName)
	if err != nil {
		ae := classifyAuth(err)
		s.logger.Warn("sign up failed", "class", ae.Class, "error", err)
		return false, ae
	}

	if sess == nil {
		s.logger.Info("account created, confirmation pending", "email", email)
		return false, nil
	}

	s.clearGuestFlag()
	s.setActor(ctx, Actor{Kind: ActorAuthenticated, UserID: sess.UserID, EmailVerified: sess.EmailVerified})
	return true, nil
}

// SignIn exchanges credentials for a session. Success transitions to
// authenticated and clears the persisted guest flag.
func (s *Sessions) SignIn(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)

	sess, err := s.identity.SignIn(ctx, email, password)
	if err != nil {
		ae := classifyAuth(err)
		s.logger.Warn("sign in failed", "class", ae.Class, "error", err)
		return ae
	}

	s.clearGuestFlag()
	s.setActor(ctx, Actor{Kind: ActorAuthenticated, UserID: sess.UserID, EmailVerified: sess.EmailVerified})
	return nil
}

// SignOut revokes the remote session and de-resolves the actor. If the
// provider call fails the actor is left untouched and the failure surfaced;
// the actor is never left half-updated.
func (s *Sessions) SignOut(ctx context.Context) error {
	if err := s.identity.SignOut(ctx); err != nil {
		ae := classifyAuth(err)
		s.logger.Warn("sign out failed, actor unchanged", "error", err)
		return ae
	}
	s.setActor(ctx, Actor{Kind: ActorUnknown})
	return nil
}

// EnterGuestMode persists the guest flag and resolves to guest without
// contacting the identity provider. A flag that cannot be persisted is an
// error, not a silent in-memory-only guest.
func (s *Sessions) EnterGuestMode(ctx context.Context) error {
	if err := s.local.SetGuestMode(true); err != nil {
		return &StoreError{Op: "persist guest flag", Err: err}
	}
	s.setActor(ctx, Actor{Kind: ActorGuest})
	return nil
}

// SwitchToAccountMode clears the guest flag and de-resolves the actor so the
// next resolution path is "no session, not guest", routing the user toward
// sign-in.
func (s *Sessions) SwitchToAccountMode(ctx context.Context) error {
	if err := s.local.SetGuestMode(false); err != nil {
		return &StoreError{Op: "clear guest flag", Err: err}
	}
	s.setActor(ctx, Actor{Kind: ActorUnknown})
	return nil
}

// RequestPasswordReset asks the provider to email a reset link. No actor
// transition.
func (s *Sessions) RequestPasswordReset(ctx context.Context, email string) error {
	if err := s.identity.RequestPasswordReset(ctx, normalizeEmail(email)); err != nil {
		return classifyAuth(err)
	}
	return nil
}

// ResendVerification asks the provider to re-send the signup confirmation
// email. No actor transition.
func (s *Sessions) ResendVerification(ctx context.Context, email string) error {
	if err := s.identity.ResendVerification(ctx, normalizeEmail(email)); err != nil {
		return classifyAuth(err)
	}
	return nil
}

// clearGuestFlag removes the persisted guest flag after a successful sign-in.
// A failure here cannot undo the sign-in, so it is logged and swallowed.
func (s *Sessions) clearGuestFlag() {
	if err := s.local.SetGuestMode(false); err != nil {
		s.logger.Warn("could not clear guest flag", "error", err)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
