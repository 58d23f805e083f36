package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func repliesFixture(t *testing.T, actors ActorSource) (*fakeStore, *PostList, *Replies) {
	t.Helper()
	store := newFakeStore(seedPosts(2)...)
	base := time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC)
	store.replies["p01"] = []Reply{
		{ID: "r2", PostID: "p01", Content: "second", CreatedAt: base.Add(time.Minute)},
		{ID: "r1", PostID: "p01", Content: "first", CreatedAt: base},
	}
	store.posts[0].ReplyCount = 2
	pl := NewPostList(store, actors, testLogger())
	if _, err := pl.Load(context.Background(), 1); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return store, pl, NewReplies(store, actors, pl, testLogger())
}

func TestLoadRepliesOldestFirst(t *testing.T) {
	t.Parallel()

	_, _, r := repliesFixture(t, &stubActors{actor: Actor{Kind: ActorGuest}})

	thread, err := r.LoadReplies(context.Background(), "p01")
	if err != nil {
		t.Fatalf("LoadReplies: %v", err)
	}
	if len(thread) != 2 || thread[0].ID != "r1" || thread[1].ID != "r2" {
		t.Errorf("got thread %v, want r1 then r2 oldest first", thread)
	}
}

func TestLoadRepliesUsesCache(t *testing.T) {
	t.Parallel()

	store, _, r := repliesFixture(t, &stubActors{actor: Actor{Kind: ActorGuest}})

	if _, err := r.LoadReplies(context.Background(), "p01"); err != nil {
		t.Fatalf("LoadReplies: %v", err)
	}
	if _, err := r.LoadReplies(context.Background(), "p01"); err != nil {
		t.Fatalf("LoadReplies again: %v", err)
	}
	if n := store.callCount("ListReplies"); n != 1 {
		t.Errorf("ListReplies called %d times, want 1 with a warm cache", n)
	}
}

func TestSubmitReplyRefreshesThreadAndCounts(t *testing.T) {
	t.Parallel()

	store, pl, r := repliesFixture(t, authedActors("u1"))

	if err := r.SubmitReply(context.Background(), "p01", "  me too  "); err != nil {
		t.Fatalf("SubmitReply: %v", err)
	}

	thread, err := r.LoadReplies(context.Background(), "p01")
	if err != nil {
		t.Fatalf("LoadReplies: %v", err)
	}
	last := thread[len(thread)-1]
	if last.Content != "me too" {
		t.Errorf("got content %q, want trimmed reply appended", last.Content)
	}
	if last.AuthorID != "u1" {
		t.Errorf("got author %q, want u1", last.AuthorID)
	}

	// The post list was refreshed so the reply count moved.
	for _, p := range pl.Window().Items {
		if p.ID == "p01" && p.ReplyCount != 3 {
			t.Errorf("got reply count %d, want 3", p.ReplyCount)
		}
	}
	if n := store.callCount("ListPosts"); n != 2 {
		t.Errorf("ListPosts called %d times, want initial load plus refresh", n)
	}
}

func TestSubmitReplyGatesAndValidates(t *testing.T) {
	t.Parallel()

	store, _, guest := repliesFixture(t, &stubActors{actor: Actor{Kind: ActorGuest}})
	if err := guest.SubmitReply(context.Background(), "p01", "hi"); !errors.Is(err, ErrAuthenticationRequired) {
		t.Errorf("guest reply: got %v, want ErrAuthenticationRequired", err)
	}
	if n := store.callCount("InsertReply"); n != 0 {
		t.Errorf("InsertReply called %d times before the gate", n)
	}

	_, _, authed := repliesFixture(t, authedActors("u1"))
	var ve *ValidationError
	if err := authed.SubmitReply(context.Background(), "p01", "  "); !errors.As(err, &ve) {
		t.Errorf("blank reply: got %v, want *ValidationError", err)
	}

	long := make([]rune, replyMaxLen+1)
	for i := range long {
		long[i] = 'y'
	}
	if err := authed.SubmitReply(context.Background(), "p01", string(long)); !errors.As(err, &ve) {
		t.Errorf("oversized reply: got %v, want *ValidationError", err)
	}
}

func TestSetExpanded(t *testing.T) {
	t.Parallel()

	store, _, r := repliesFixture(t, &stubActors{actor: Actor{Kind: ActorGuest}})

	if err := r.SetExpanded(context.Background(), "p01", true); err != nil {
		t.Fatalf("SetExpanded: %v", err)
	}
	if !r.Expanded("p01") {
		t.Error("thread not reported expanded")
	}
	if n := store.callCount("ListReplies"); n != 1 {
		t.Fatalf("ListReplies called %d times on first expand, want 1", n)
	}

	// Collapse then re-expand: the cache is kept, no refetch.
	if err := r.SetExpanded(context.Background(), "p01", false); err != nil {
		t.Fatalf("collapse: %v", err)
	}
	if err := r.SetExpanded(context.Background(), "p01", true); err != nil {
		t.Fatalf("re-expand: %v", err)
	}
	if n := store.callCount("ListReplies"); n != 1 {
		t.Errorf("ListReplies called %d times after re-expand, want still 1", n)
	}
}

func TestForgetDropsCache(t *testing.T) {
	t.Parallel()

	store, _, r := repliesFixture(t, &stubActors{actor: Actor{Kind: ActorGuest}})

	r.LoadReplies(context.Background(), "p01")
	r.Forget("p01")
	r.LoadReplies(context.Background(), "p01")

	if n := store.callCount("ListReplies"); n != 2 {
		t.Errorf("ListReplies called %d times, want refetch after Forget", n)
	}
}
