package domain

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"
)

const replyMaxLen = 500

// Replies loads reply threads on demand, one post at a time, and caches each
// thread until it is explicitly reloaded. Submitting a reply feeds back into
// the post list so reply counts stay accurate.
type Replies struct {
	store  ContentStore
	actors ActorSource
	posts  *PostList
	logger *slog.Logger

	mu       sync.Mutex
	threads  map[string][]Reply
	expanded map[string]bool
}

// NewReplies creates the thread loader.
func NewReplies(store ContentStore, actors ActorSource, posts *PostList, logger *slog.Logger) *Replies {
	return &Replies{
		store:    store,
		actors:   actors,
		posts:    posts,
		logger:   logger,
		threads:  make(map[string][]Reply),
		expanded: make(map[string]bool),
	}
}

// LoadReplies returns the thread for a post, oldest first. A cached thread
// is reused; collapsing and re-expanding a thread does not refetch.
func (r *Replies) LoadReplies(ctx context.Context, postID string) ([]Reply, error) {
	r.mu.Lock()
	cached, ok := r.threads[postID]
	r.mu.Unlock()
	if ok {
		return slices.Clone(cached), nil
	}
	return r.reload(ctx, postID)
}

// SubmitReply posts a reply as the current actor, then re-loads the thread
// so the new reply appears without reopening it, and refreshes the post list
// so the reply count moves by one.
func (r *Replies) SubmitReply(ctx context.Context, postID, content string) error {
	actor := r.actors.Current()
	if !actor.Authenticated() {
		return ErrAuthenticationRequired
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return &ValidationError{Field: "content", Message: "reply cannot be empty"}
	}
	if utf8.RuneCountInString(content) > replyMaxLen {
		return &ValidationError{Field: "content", Message: "reply is too long"}
	}

	if err := r.store.InsertReply(ctx, postID, actor.UserID, content); err != nil {
		return &StoreError{Op: "insert reply", Err: err}
	}

	if _, err := r.reload(ctx, postID); err != nil {
		r.logger.Warn("thread reload after reply failed", "postId", postID, "error", err)
	}
	if _, err := r.posts.Refresh(ctx); err != nil {
		r.logger.Warn("post list refresh after reply failed", "error", err)
	}
	return nil
}

// SetExpanded toggles thread visibility. Expanding loads the thread if it
// has not been fetched yet; collapsing keeps the cache.
func (r *Replies) SetExpanded(ctx context.Context, postID string, expanded bool) error {
	r.mu.Lock()
	r.expanded[postID] = expanded
	_, loaded := r.threads[postID]
	r.mu.Unlock()

	if expanded && !loaded {
		_, err := r.LoadReplies(ctx, postID)
		return err
	}
	return nil
}

// Expanded reports whether a post's thread is currently open.
func (r *Replies) Expanded(postID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expanded[postID]
}

// Forget drops a cached thread, typically after its post left the visible
// list.
func (r *Replies) Forget(postID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, postID)
	delete(r.expanded, postID)
}

func (r *Replies) reload(ctx context.Context, postID string) ([]Reply, error) {
	items, err := r.store.ListReplies(ctx, postID)
	if err != nil {
		return nil, &StoreError{Op: "list replies", Err: err}
	}
	sortReplies(items)

	r.mu.Lock()
	r.threads[postID] = items
	r.mu.Unlock()
	return slices.Clone(items), nil
}
