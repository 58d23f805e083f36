package domain

import (
	"context"
)

// Session is what the identity provider knows about a signed-in account.
type Session struct {
	UserID        string
	Email         string
	AccessToken   string
	EmailVerified bool
}

// IdentityService is the boundary to the external auth provider. This core
// never implements authentication itself; it only reacts to what the
// provider reports.
type IdentityService interface {
	// SignUp registers a new account. The returned session is nil when the
	// provider requires email confirmation before issuing one.
	SignUp(ctx context.Context, email, password, displayName string) (*Session, error)

	// SignIn exchanges credentials for a session.
	SignIn(ctx context.Context, email, password string) (*Session, error)

	// SignOut revokes the current session.
	SignOut(ctx context.Context) error

	// CurrentSession returns the existing session, or nil when there is none.
	CurrentSession(ctx context.Context) (*Session, error)

	// RequestPasswordReset sends a reset link to the address.
	RequestPasswordReset(ctx context.Context, email string) error

	// ResendVerification re-sends the signup confirmation email.
	ResendVerification(ctx context.Context, email string) error
}

// PageResult is one page of posts plus the total row count needed for
// pagination math.
type PageResult struct {
	Items      []Post
	TotalCount int
}

// ContentStore is the boundary to the remote relational store.
type ContentStore interface {
	// ListPosts returns one page of posts ordered newest first, plus the
	// total count across all pages.
	ListPosts(ctx context.Context, offset, limit int) (PageResult, error)

	// ListLikedPostIDs returns the set of post ids the user has liked.
	ListLikedPostIDs(ctx context.Context, userID string) (map[string]bool, error)

	InsertPost(ctx context.Context, content, authorID string) error
	UpdatePost(ctx context.Context, id, content string) error
	DeletePost(ctx context.Context, id string) error

	InsertLike(ctx context.Context, postID, userID string) error
	DeleteLike(ctx context.Context, postID, userID string) error

	// SearchPosts runs a full-text query, newest first, capped at limit.
	SearchPosts(ctx context.Context, term string, limit int) ([]Post, error)

	// RecordSearch appends to the user's search history. Best effort; callers
	// log failures and move on.
	RecordSearch(ctx context.Context, userID, term string) error

	// ListReplies returns every reply for a post. Reply volume per post is
	// assumed small, so there is no pagination here.
	ListReplies(ctx context.Context, postID string) ([]Reply, error)
	InsertReply(ctx context.Context, postID, authorID, content string) error

	// GetProfile returns nil with no error when the user has no profile row.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error
}

// LocalState is device-local persisted state. The guest flag is read from
// here at startup before the identity provider is ever consulted.
type LocalState interface {
	GuestMode() (bool, error)
	SetGuestMode(on bool) error

	// ChatTranscript returns the persisted companion conversation, oldest
	// first, along with its session id. An empty session id means no
	// transcript has been started on this device.
	ChatTranscript() (sessionID string, msgs []ChatMessage, err error)
	AppendChatMessages(sessionID string, msgs ...ChatMessage) error
	ClearChatTranscript() error
}

// ChatService is the opaque AI companion backend.
type ChatService interface {
	// Send submits one user message and returns the companion's reply text.
	Send(ctx context.Context, sessionID, userID, message, language string) (string, error)
}

// ActorSource yields the currently resolved actor. Implemented by Sessions;
// consumed by every component that gates mutations on identity.
type ActorSource interface {
	Current() Actor
}
