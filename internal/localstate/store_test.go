package localstate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hopecore/community/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "device.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGuestModeRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	on, err := s.GuestMode()
	if err != nil {
		t.Fatalf("GuestMode: %v", err)
	}
	if on {
		t.Error("guest flag set on a fresh store")
	}

	if err := s.SetGuestMode(true); err != nil {
		t.Fatalf("SetGuestMode: %v", err)
	}
	if on, _ = s.GuestMode(); !on {
		t.Error("guest flag not persisted")
	}

	if err := s.SetGuestMode(false); err != nil {
		t.Fatalf("SetGuestMode off: %v", err)
	}
	if on, _ = s.GuestMode(); on {
		t.Error("guest flag not cleared")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	if err := s.SetAccessToken("tok-123"); err != nil {
		t.Fatalf("SetAccessToken: %v", err)
	}
	got, err := s.AccessToken()
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != "tok-123" {
		t.Errorf("got token %q, want tok-123", got)
	}

	if err := s.SetAccessToken(""); err != nil {
		t.Fatalf("forget token: %v", err)
	}
	if got, _ = s.AccessToken(); got != "" {
		t.Errorf("got token %q after forgetting, want empty", got)
	}
}

func TestChatTranscriptRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	sessionID, msgs, err := s.ChatTranscript()
	if err != nil {
		t.Fatalf("ChatTranscript: %v", err)
	}
	if sessionID != "" || len(msgs) != 0 {
		t.Fatalf("fresh store has transcript %q %v", sessionID, msgs)
	}

	now := time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC)
	err = s.AppendChatMessages("sess-1",
		domain.ChatMessage{ID: "m1", Text: "hello", CreatedAt: now},
		domain.ChatMessage{ID: "m2", Text: "hi!", FromBot: true, CreatedAt: now.Add(time.Second)},
	)
	if err != nil {
		t.Fatalf("AppendChatMessages: %v", err)
	}

	sessionID, msgs, err = s.ChatTranscript()
	if err != nil {
		t.Fatalf("ChatTranscript: %v", err)
	}
	if sessionID != "sess-1" {
		t.Errorf("got session %q, want sess-1", sessionID)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("got order %s, %s, want insertion order", msgs[0].ID, msgs[1].ID)
	}
	if !msgs[1].FromBot {
		t.Error("from_bot flag lost on round trip")
	}
	if !msgs[0].CreatedAt.Equal(now) {
		t.Errorf("got timestamp %v, want %v", msgs[0].CreatedAt, now)
	}
}

func TestClearChatTranscript(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	if err := s.AppendChatMessages("sess-1", domain.ChatMessage{ID: "m1", Text: "x", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("AppendChatMessages: %v", err)
	}
	if err := s.ClearChatTranscript(); err != nil {
		t.Fatalf("ClearChatTranscript: %v", err)
	}

	sessionID, msgs, err := s.ChatTranscript()
	if err != nil {
		t.Fatalf("ChatTranscript: %v", err)
	}
	if sessionID != "" || len(msgs) != 0 {
		t.Errorf("transcript survived clearing: %q %v", sessionID, msgs)
	}
}

func TestAppendFailureDoesNotAdoptSession(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	if err := s.AppendChatMessages("sess-1", domain.ChatMessage{ID: "m1", Text: "hello", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("AppendChatMessages: %v", err)
	}

	// Force the message insert to fail mid-append.
	if _, err := s.db.Exec(`CREATE UNIQUE INDEX idx_chat_messages_id ON chat_messages (id)`); err != nil {
		t.Fatalf("create index: %v", err)
	}

	err := s.AppendChatMessages("sess-2",
		domain.ChatMessage{ID: "m2", Text: "ok", CreatedAt: time.Now()},
		domain.ChatMessage{ID: "m1", Text: "duplicate", CreatedAt: time.Now()},
	)
	if err == nil {
		t.Fatal("got nil error, want the duplicate insert to fail")
	}

	// The whole append rolled back: the device still points at the old
	// session and its transcript is intact.
	sessionID, msgs, terr := s.ChatTranscript()
	if terr != nil {
		t.Fatalf("ChatTranscript: %v", terr)
	}
	if sessionID != "sess-1" {
		t.Errorf("got session %q, want sess-1 after a failed append", sessionID)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("got transcript %v, want just the original message", msgs)
	}
}

func TestAppendRequiresSessionID(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.AppendChatMessages("", domain.ChatMessage{ID: "m1"}); err == nil {
		t.Error("got nil error, want rejection of empty session id")
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "device.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetGuestMode(true); err != nil {
		t.Fatalf("SetGuestMode: %v", err)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	on, err := reopened.GuestMode()
	if err != nil {
		t.Fatalf("GuestMode: %v", err)
	}
	if !on {
		t.Error("guest flag lost across reopen")
	}
}
