package domain

import (
	"sort"
	"time"
)

// Post is a community message as it appears in the list view.
type Post struct {
	// ID is the server-assigned stable identifier.
	ID string

	// Content is the message body.
	Content string

	// AuthorID is the owning account, used for edit/delete checks. Display is
	// always anonymous regardless of ownership, so it may be empty on rows
	// that predate account linking.
	AuthorID string

	// CreatedAt is the server-assigned creation time.
	CreatedAt time.Time

	// LikeCount and ReplyCount are the server-maintained counters.
	LikeCount  int
	ReplyCount int

	// LikedByActor is derived per fetch by cross-referencing the current
	// actor's like membership. It is never stored on the post server-side.
	LikedByActor bool
}

// Reply belongs to exactly one post and is displayed oldest first within it.
type Reply struct {
	ID        string
	PostID    string
	AuthorID  string
	Content   string
	CreatedAt time.Time
}

// PageWindow is the paginated slice of the post list currently displayed.
type PageWindow struct {
	// PageNumber is 1-based.
	PageNumber int
	PageSize   int

	// TotalPages is derived from the store's total row count.
	TotalPages int

	// Items holds PageSize posts, or fewer on the last page.
	Items []Post
}

// sortPosts orders newest first, ties broken by id ascending so results are
// deterministic regardless of store ordering quirks.
func sortPosts(posts []Post) {
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID < posts[j].ID
	})
}

// sortReplies orders oldest first, the deliberate inverse of the post list:
// most recent topics on top, chronological conversation underneath.
func sortReplies(replies []Reply) {
	sort.Slice(replies, func(i, j int) bool {
		if !replies[i].CreatedAt.Equal(replies[j].CreatedAt) {
			return replies[i].CreatedAt.Before(replies[j].CreatedAt)
		}
		return replies[i].ID < replies[j].ID
	})
}
