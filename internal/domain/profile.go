package domain

import (
	"context"
	"log/slog"
	"unicode"
	"unicode/utf8"
)

// Profile is the account-owned display and privacy settings. Posts stay
// anonymous regardless of what is stored here.
type Profile struct {
	UserID             string
	FullName           string
	Nickname           string
	Phone              string
	Location           string
	AnonymousByDefault bool
}

// Profiles reads and writes the current actor's profile row.
type Profiles struct {
	store  ContentStore
	actors ActorSource
	logger *slog.Logger
}

// NewProfiles creates the profile manager.
func NewProfiles(store ContentStore, actors ActorSource, logger *slog.Logger) *Profiles {
	return &Profiles{store: store, actors: actors, logger: logger}
}

// Get returns the current actor's profile. A missing row is not an error: a
// zero profile carrying the user id comes back so the settings form can be
// filled in from scratch.
func (p *Profiles) Get(ctx context.Context) (Profile, error) {
	actor := p.actors.Current()
	if !actor.Authenticated() {
		return Profile{}, ErrAuthenticationRequired
	}

	got, err := p.store.GetProfile(ctx, actor.UserID)
	if err != nil {
		return Profile{}, &StoreError{Op: "get profile", Err: err}
	}
	if got == nil {
		return Profile{UserID: actor.UserID, AnonymousByDefault: true}, nil
	}
	return *got, nil
}

// Update validates and persists profile fields for the current actor. The
// user id on the argument is ignored; ownership comes from the actor.
func (p *Profiles) Update(ctx context.Context, profile Profile) error {
	actor := p.actors.Current()
	if !actor.Authenticated() {
		return ErrAuthenticationRequired
	}

	if profile.Nickname == "" {
		return &ValidationError{Field: "nickname", Message: "nickname is required"}
	}
	if utf8.RuneCountInString(profile.Nickname) > 50 {
		return &ValidationError{Field: "nickname", Message: "nickname is too long"}
	}
	if utf8.RuneCountInString(profile.FullName) > 100 {
		return &ValidationError{Field: "fullName", Message: "name is too long"}
	}
	if utf8.RuneCountInString(profile.Location) > 100 {
		return &ValidationError{Field: "location", Message: "location is too long"}
	}
	if profile.Phone != "" && !validPhone(profile.Phone) {
		return &ValidationError{Field: "phone", Message: "invalid phone number"}
	}

	profile.UserID = actor.UserID
	if err := p.store.UpsertProfile(ctx, profile); err != nil {
		return &StoreError{Op: "upsert profile", Err: err}
	}
	return nil
}

// validPhone accepts digits with an optional leading + and common grouping
// characters.
func validPhone(s string) bool {
	for i, r := range s {
		switch {
		case unicode.IsDigit(r):
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return true
}
