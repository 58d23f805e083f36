package domain

import (
	"errors"
	"fmt"
)

// ErrAuthenticationRequired is returned by mutations attempted without an
// authenticated actor. It is detected locally; no adapter call is made.
var ErrAuthenticationRequired = errors.New("authentication required")

// ErrNotPostAuthor is returned when an actor tries to edit or delete a post
// that belongs to somebody else.
var ErrNotPostAuthor = errors.New("only the author can modify this post")

// ErrRequestInFlight is returned when a duplicate submission is attempted
// while the previous one is still outstanding.
var ErrRequestInFlight = errors.New("a request is already in flight")

// ValidationError reports a client-side input check failure, raised before
// any remote call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// AuthClass classifies identity provider failures so each class can carry its
// own user-facing message.
type AuthClass int

const (
	AuthUnknown AuthClass = iota
	AuthAlreadyRegistered
	AuthInvalidEmail
	AuthWeakPassword
	AuthBadCredentials
	AuthUnconfirmedEmail
	AuthRateLimited
)

// AuthError is a classified identity provider failure. The session service
// never lets an unclassified provider error escape its boundary.
type AuthError struct {
	Class AuthClass
	Err   error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity provider: %v", e.Err)
	}
	return "identity provider error"
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Message returns the user-facing text for the error class.
func (e *AuthError) Message() string {
	switch e.Class {
	case AuthAlreadyRegistered:
		return "An account with this email already exists. Please sign in instead."
	case AuthInvalidEmail:
		return "Please enter a valid email address."
	case AuthWeakPassword:
		return "Password must be at least 6 characters long."
	case AuthBadCredentials:
		return "Invalid email or password. Please check your credentials and try again."
	case AuthUnconfirmedEmail:
		return "Please check your email and click the confirmation link before signing in."
	case AuthRateLimited:
		return "Too many attempts. Please wait a moment before trying again."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// classifyAuth wraps err as an AuthError, preserving an existing
// classification when the adapter already supplied one.
func classifyAuth(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return &AuthError{Class: AuthUnknown, Err: err}
}

// StoreError wraps a content store failure. This layer does not classify
// store failures further, and it never retries; retry is a fresh user action.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("content store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
