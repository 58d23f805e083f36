package domain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubActors is a fixed-actor ActorSource for components under test.
type stubActors struct {
	mu    sync.Mutex
	actor Actor
}

func (s *stubActors) Current() Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actor
}

func (s *stubActors) set(a Actor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actor = a
}

func authedActors(userID string) *stubActors {
	return &stubActors{actor: Actor{Kind: ActorAuthenticated, UserID: userID, EmailVerified: true}}
}

// fakeStore is an in-memory ContentStore. Per-op failures are injected via
// failures; hooks let tests observe or block specific calls.
type fakeStore struct {
	mu       sync.Mutex
	posts    []Post
	likes    map[string]map[string]bool // userID -> postID -> liked
	replies  map[string][]Reply
	profiles map[string]Profile
	searches []string
	calls    map[string]int
	failures map[string]error

	onListPosts   func(offset int)
	onInsertLike  func()
	onSearchPosts func(term string)
}

func newFakeStore(posts ...Post) *fakeStore {
	return &fakeStore{
		posts:    posts,
		likes:    make(map[string]map[string]bool),
		replies:  make(map[string][]Reply),
		profiles: make(map[string]Profile),
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

func (f *fakeStore) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

func (f *fakeStore) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeStore) enter(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.failures[op]
}

func (f *fakeStore) ListPosts(_ context.Context, offset, limit int) (PageResult, error) {
	if err := f.enter("ListPosts"); err != nil {
		return PageResult{}, err
	}
	if f.onListPosts != nil {
		f.onListPosts(offset)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	total := len(f.posts)
	if offset >= total {
		return PageResult{TotalCount: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	items := make([]Post, end-offset)
	copy(items, f.posts[offset:end])
	return PageResult{Items: items, TotalCount: total}, nil
}

func (f *fakeStore) ListLikedPostIDs(_ context.Context, userID string) (map[string]bool, error) {
	if err := f.enter("ListLikedPostIDs"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(f.likes[userID]))
	for id, liked := range f.likes[userID] {
		if liked {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeStore) InsertPost(_ context.Context, content, authorID string) error {
	if err := f.enter("InsertPost"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append([]Post{{
		ID:        fmt.Sprintf("post-%d", len(f.posts)+1),
		Content:   content,
		AuthorID:  authorID,
		CreatedAt: time.Now(),
	}}, f.posts...)
	return nil
}

func (f *fakeStore) UpdatePost(_ context.Context, id, content string) error {
	if err := f.enter("UpdatePost"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.posts {
		if f.posts[i].ID == id {
			f.posts[i].Content = content
			return nil
		}
	}
	return fmt.Errorf("post %s not found", id)
}

func (f *fakeStore) DeletePost(_ context.Context, id string) error {
	if err := f.enter("DeletePost"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.posts {
		if f.posts[i].ID == id {
			f.posts = append(f.posts[:i], f.posts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("post %s not found", id)
}

func (f *fakeStore) InsertLike(_ context.Context, postID, userID string) error {
	if err := f.enter("InsertLike"); err != nil {
		return err
	}
	if f.onInsertLike != nil {
		f.onInsertLike()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.likes[userID] == nil {
		f.likes[userID] = make(map[string]bool)
	}
	f.likes[userID][postID] = true
	return nil
}

func (f *fakeStore) DeleteLike(_ context.Context, postID, userID string) error {
	if err := f.enter("DeleteLike"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.likes[userID], postID)
	return nil
}

func (f *fakeStore) SearchPosts(_ context.Context, term string, limit int) ([]Post, error) {
	if err := f.enter("SearchPosts"); err != nil {
		return nil, err
	}
	if f.onSearchPosts != nil {
		f.onSearchPosts(term)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Post
	for _, p := range f.posts {
		if strings.Contains(strings.ToLower(p.Content), strings.ToLower(term)) {
			out = append(out, p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) RecordSearch(_ context.Context, userID, term string) error {
	if err := f.enter("RecordSearch"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, userID+":"+term)
	return nil
}

func (f *fakeStore) recordedSearches() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.searches))
	copy(out, f.searches)
	return out
}

func (f *fakeStore) ListReplies(_ context.Context, postID string) ([]Reply, error) {
	if err := f.enter("ListReplies"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Reply, len(f.replies[postID]))
	copy(out, f.replies[postID])
	return out, nil
}

func (f *fakeStore) InsertReply(_ context.Context, postID, authorID, content string) error {
	if err := f.enter("InsertReply"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[postID] = append(f.replies[postID], Reply{
		ID:        fmt.Sprintf("reply-%d", len(f.replies[postID])+1),
		PostID:    postID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now(),
	})
	for i := range f.posts {
		if f.posts[i].ID == postID {
			f.posts[i].ReplyCount++
		}
	}
	return nil
}

func (f *fakeStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	if err := f.enter("GetProfile"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeStore) UpsertProfile(_ context.Context, p Profile) error {
	if err := f.enter("UpsertProfile"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[p.UserID] = p
	return nil
}

// fakeIdentity scripts the identity provider's responses.
type fakeIdentity struct {
	mu sync.Mutex

	session    *Session // returned by CurrentSession and SignIn
	signUpSess *Session // returned by SignUp; nil means confirmation pending

	currentErr error
	signUpErr  error
	signInErr  error
	signOutErr error
	resetErr   error
	resendErr  error

	signUpEmail string
	resetEmail  string
	signedOut   bool
}

func (f *fakeIdentity) SignUp(_ context.Context, email, _, _ string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUpEmail = email
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return f.signUpSess, nil
}

func (f *fakeIdentity) SignIn(_ context.Context, _, _ string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.session, nil
}

func (f *fakeIdentity) SignOut(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signOutErr != nil {
		return f.signOutErr
	}
	f.signedOut = true
	return nil
}

func (f *fakeIdentity) CurrentSession(_ context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return f.session, nil
}

func (f *fakeIdentity) RequestPasswordReset(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetEmail = email
	return f.resetErr
}

func (f *fakeIdentity) ResendVerification(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resendErr
}

// fakeLocal is an in-memory LocalState.
type fakeLocal struct {
	mu sync.Mutex

	guest       bool
	guestErr    error
	setGuestErr error

	chatSession string
	chatMsgs    []ChatMessage
	chatErr     error
	appendErr   error
}

func (f *fakeLocal) GuestMode() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guest, f.guestErr
}

func (f *fakeLocal) SetGuestMode(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setGuestErr != nil {
		return f.setGuestErr
	}
	f.guest = on
	return nil
}

func (f *fakeLocal) ChatTranscript() (string, []ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return "", nil, f.chatErr
	}
	msgs := make([]ChatMessage, len(f.chatMsgs))
	copy(msgs, f.chatMsgs)
	return f.chatSession, msgs, nil
}

func (f *fakeLocal) AppendChatMessages(sessionID string, msgs ...ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.chatSession = sessionID
	f.chatMsgs = append(f.chatMsgs, msgs...)
	return nil
}

func (f *fakeLocal) ClearChatTranscript() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatSession = ""
	f.chatMsgs = nil
	return nil
}

// fakeChat scripts the companion backend.
type fakeChat struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   chan struct{} // when set, Send waits on it
	entered chan struct{} // when set, closed once Send is reached
	calls   []string
}

func (f *fakeChat) Send(_ context.Context, _, _, message, _ string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, message)
	entered, block := f.entered, f.block
	f.entered = nil
	reply, err := f.reply, f.err
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if block != nil {
		<-block
	}
	return reply, err
}
