package domain

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// PageSize is the fixed page length of the post list.
	PageSize = 10

	// SearchDebounce is the quiet window after the last keystroke before a
	// search query is issued.
	SearchDebounce = 300 * time.Millisecond

	// searchResultLimit caps the unpaginated search result set.
	searchResultLimit = 100

	postMaxLen = 1000
)

// likeFlip records what is needed to undo one optimistic like toggle.
type likeFlip struct {
	postID   string
	wasLiked bool
}

// PostList keeps the in-memory, paginated, searchable view of community
// posts consistent with the content store. Page loads replace the window
// wholesale; like toggles are applied optimistically with a rollback path;
// stale responses from superseded fetches are discarded by generation.
type PostList struct {
	store  ContentStore
	actors ActorSource
	logger *slog.Logger

	// debounce is SearchDebounce unless shortened in tests.
	debounce time.Duration

	mu            sync.Mutex
	window        PageWindow
	liked         map[string]bool
	generation    uint64
	searchTerm    string
	searchResults []Post
	searchTimer   *time.Timer
}

// NewPostList creates the synchronizer with an empty first-page window.
func NewPostList(store ContentStore, actors ActorSource, logger *slog.Logger) *PostList {
	return &PostList{
		store:    store,
		actors:   actors,
		logger:   logger,
		debounce: SearchDebounce,
		window:   PageWindow{PageNumber: 1, PageSize: PageSize},
	}
}

// Window returns a copy of the current page window.
func (l *PostList) Window() PageWindow {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.window
	w.Items = slices.Clone(l.window.Items)
	return w
}

// SearchView returns the active search term and its results. Active is false
// when no term is set and the page window is what should be displayed.
func (l *PostList) SearchView() (term string, results []Post, active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.searchTerm, slices.Clone(l.searchResults), l.searchTerm != ""
}

// Load fetches the requested page and replaces the in-memory window
// wholesale; partial merges of paginated data risk duplicate or stale rows.
// A page past the end yields an empty item set, not an error. On fetch
// failure the prior window is left intact. A load superseded by a newer load
// or search before it resolves is discarded.
func (l *PostList) Load(ctx context.Context, page int) (PageWindow, error) {
	if page < 1 {
		return l.Window(), &ValidationError{Field: "page", Message: "page numbers start at 1"}
	}

	gen := l.nextGeneration()

	res, err := l.store.ListPosts(ctx, (page-1)*PageSize, PageSize)
	if err != nil {
		l.logger.Error("page load failed", "page", page, "error", err)
		return l.Window(), &StoreError{Op: "list posts", Err: err}
	}

	liked, err := l.likedSet(ctx)
	if err != nil {
		// Degrade to an unliked display; membership is re-derived on the
		// next successful fetch or actor change.
		l.logger.Warn("like membership unavailable", "error", err)
		liked = nil
	}

	items := res.Items
	sortPosts(items)
	for i := range items {
		items[i].LikedByActor = liked[items[i].ID]
	}
	totalPages := (res.TotalCount + PageSize - 1) / PageSize

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation {
		l.logger.Debug("discarding stale page load", "page", page)
		w := l.window
		w.Items = slices.Clone(l.window.Items)
		return w, nil
	}
	l.window = PageWindow{PageNumber: page, PageSize: PageSize, TotalPages: totalPages, Items: items}
	l.liked = liked
	w := l.window
	w.Items = slices.Clone(items)
	return w, nil
}

// Refresh re-loads the current page, keeping reply counts and like counts in
// step with the server after mutations elsewhere.
func (l *PostList) Refresh(ctx context.Context) (PageWindow, error) {
	l.mu.Lock()
	page := l.window.PageNumber
	l.mu.Unlock()
	return l.Load(ctx, page)
}

// Create inserts a new post as the current actor. A successful create should
// be followed by Load(1) rather than a local prepend: the server assigns id,
// timestamp and counters, so a synthesized client-side copy would be wrong.
func (l *PostList) Create(ctx context.Context, content string) error {
	actor := l.actors.Current()
	if !actor.Authenticated() {
		return ErrAuthenticationRequired
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return &ValidationError{Field: "content", Message: "post cannot be empty"}
	}
	if utf8.RuneCountInString(content) > postMaxLen {
		return &ValidationError{Field: "content", Message: "post is too long"}
	}

	if err := l.store.InsertPost(ctx, content, actor.UserID); err != nil {
		return &StoreError{Op: "insert post", Err: err}
	}
	return nil
}

// ToggleLike flips the actor's like on a post before the store confirms,
// adjusting the count in lockstep. On store failure the flip is reverted and
// the error surfaced so displayed state cannot drift from the server's.
func (l *PostList) ToggleLike(ctx context.Context, postID string) error {
	actor := l.actors.Current()
	if !actor.Authenticated() {
		return ErrAuthenticationRequired
	}

	flip, ok := l.applyFlip(postID)
	if !ok {
		return &ValidationError{Field: "postId", Message: "post is not in the current view"}
	}

	var err error
	if flip.wasLiked {
		err = l.store.DeleteLike(ctx, postID, actor.UserID)
	} else {
		err = l.store.InsertLike(ctx, postID, actor.UserID)
	}
	if err != nil {
		l.revertFlip(flip)
		l.logger.Warn("like toggle failed, reverted", "postId", postID, "error", err)
		return &StoreError{Op: "toggle like", Err: err}
	}
	return nil
}

// Edit replaces a post's content. Only the author may edit, and ownership is
// checked against the cached copy before any store call.
func (l *PostList) Edit(ctx context.Context, postID, content string) error {
	actor := l.actors.Current()
	if !actor.Authenticated() {
		return ErrAuthenticationRequired
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return &ValidationError{Field: "content", Message: "post cannot be empty"}
	}
	if utf8.RuneCountInString(content) > postMaxLen {
		return &ValidationError{Field: "content", Message: "post is too long"}
	}

	if err := l.checkOwnership(postID, actor); err != nil {
		return err
	}
	if err := l.store.UpdatePost(ctx, postID, content); err != nil {
		return &StoreError{Op: "update post", Err: err}
	}
	return nil
}

// Delete removes a post. Only the author may delete. The caller refreshes
// afterwards; replies are removed with the post server-side.
func (l *PostList) Delete(ctx context.Context, postID string) error {
	actor := l.actors.Current()
	if !actor.Authenticated() {
		return ErrAuthenticationRequired
	}
	if err := l.checkOwnership(postID, actor); err != nil {
		return err
	}
	if err := l.store.DeletePost(ctx, postID); err != nil {
		return &StoreError{Op: "delete post", Err: err}
	}
	return nil
}

// Search schedules a debounced full-text query. A new call within the window
// invalidates the pending timer, so rapid keystrokes issue exactly one
// query, for the final term. An empty term clears results immediately and
// reverts display to the page window.
func (l *PostList) Search(term string) {
	term = strings.TrimSpace(term)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.searchTimer != nil {
		l.searchTimer.Stop()
		l.searchTimer = nil
	}

	l.searchTerm = term
	l.generation++
	if term == "" {
		l.searchResults = nil
		return
	}

	gen := l.generation
	l.searchTimer = time.AfterFunc(l.debounce, func() {
		l.runSearch(context.Background(), gen, term)
	})
}

// SearchNow runs a full-text query immediately, bypassing the debounce but
// sharing the generation rule with Load and Search so a stale result never
// overwrites a newer one. On failure the previous results stay intact.
func (l *PostList) SearchNow(ctx context.Context, term string) ([]Post, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		l.Search("")
		return nil, nil
	}

	l.mu.Lock()
	if l.searchTimer != nil {
		l.searchTimer.Stop()
		l.searchTimer = nil
	}
	l.searchTerm = term
	l.generation++
	gen := l.generation
	l.mu.Unlock()

	return l.fetchSearch(ctx, gen, term)
}

func (l *PostList) runSearch(ctx context.Context, gen uint64, term string) {
	if _, err := l.fetchSearch(ctx, gen, term); err != nil {
		l.logger.Error("search failed", "term", term, "error", err)
	}
}

func (l *PostList) fetchSearch(ctx context.Context, gen uint64, term string) ([]Post, error) {
	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return nil, nil
	}
	l.mu.Unlock()

	items, err := l.store.SearchPosts(ctx, term, searchResultLimit)
	if err != nil {
		return nil, &StoreError{Op: "search posts", Err: err}
	}

	liked, err := l.likedSet(ctx)
	if err != nil {
		l.logger.Warn("like membership unavailable", "error", err)
		liked = nil
	}

	sortPosts(items)
	for i := range items {
		items[i].LikedByActor = liked[items[i].ID]
	}

	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		l.logger.Debug("discarding stale search response", "term", term)
		return nil, nil
	}
	l.searchResults = items
	l.mu.Unlock()

	if actor := l.actors.Current(); actor.Authenticated() {
		if err := l.store.RecordSearch(ctx, actor.UserID, term); err != nil {
			l.logger.Warn("search history write failed", "error", err)
		}
	}
	return slices.Clone(items), nil
}

// OnActorChanged re-derives like membership for the new actor. Flags cached
// under the previous identity are never carried over or patched in place.
// Wire this to Sessions.Subscribe.
func (l *PostList) OnActorChanged(ctx context.Context, actor Actor) {
	var liked map[string]bool
	if actor.Authenticated() {
		var err error
		liked, err = l.store.ListLikedPostIDs(ctx, actor.UserID)
		if err != nil {
			l.logger.Warn("like membership refresh failed", "error", err)
			liked = nil
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.liked = liked
	for i := range l.window.Items {
		l.window.Items[i].LikedByActor = liked[l.window.Items[i].ID]
	}
	for i := range l.searchResults {
		l.searchResults[i].LikedByActor = liked[l.searchResults[i].ID]
	}
}

func (l *PostList) nextGeneration() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	return l.generation
}

func (l *PostList) likedSet(ctx context.Context) (map[string]bool, error) {
	actor := l.actors.Current()
	if !actor.Authenticated() {
		return nil, nil
	}
	return l.store.ListLikedPostIDs(ctx, actor.UserID)
}

// applyFlip flips the like state of a cached post in both the page window
// and the search results, adjusting the count with it.
func (l *PostList) applyFlip(postID string) (likeFlip, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.findLocked(postID)
	if p == nil {
		return likeFlip{}, false
	}
	flip := likeFlip{postID: postID, wasLiked: p.LikedByActor}
	l.setLikedLocked(postID, !flip.wasLiked)
	return flip, true
}

func (l *PostList) revertFlip(flip likeFlip) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLikedLocked(flip.postID, flip.wasLiked)
}

func (l *PostList) findLocked(postID string) *Post {
	for i := range l.window.Items {
		if l.window.Items[i].ID == postID {
			return &l.window.Items[i]
		}
	}
	for i := range l.searchResults {
		if l.searchResults[i].ID == postID {
			return &l.searchResults[i]
		}
	}
	return nil
}

func (l *PostList) setLikedLocked(postID string, liked bool) {
	apply := func(p *Post) {
		if p.LikedByActor == liked {
			return
		}
		p.LikedByActor = liked
		if liked {
			p.LikeCount++
		} else {
			p.LikeCount--
		}
	}
	for i := range l.window.Items {
		if l.window.Items[i].ID == postID {
			apply(&l.window.Items[i])
		}
	}
	for i := range l.searchResults {
		if l.searchResults[i].ID == postID {
			apply(&l.searchResults[i])
		}
	}
	if l.liked == nil {
		l.liked = make(map[string]bool)
	}
	l.liked[postID] = liked
}

func (l *PostList) checkOwnership(postID string, actor Actor) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.findLocked(postID)
	if p == nil {
		return &ValidationError{Field: "postId", Message: "post is not in the current view"}
	}
	if p.AuthorID == "" || p.AuthorID != actor.UserID {
		return ErrNotPostAuthor
	}
	return nil
}
