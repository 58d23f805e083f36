package localstate

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hopecore/community/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    body TEXT NOT NULL,
    from_bot INTEGER NOT NULL,
    created_at TEXT NOT NULL
);
`

const (
	keyGuestMode     = "guest_mode"
	keyAccessToken   = "access_token"
	keyChatSessionID = "chat_session_id"
)

// Store is device-local persisted state on SQLite: the guest-mode flag, the
// identity access token, and the companion chat transcript. It implements
// domain.LocalState and identity.TokenStore.
type Store struct {
	db *sql.DB
}

var _ domain.LocalState = (*Store)(nil)

// Open creates the parent directory if needed, opens the database, and
// bootstraps the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap state schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GuestMode reports whether the persisted guest flag is set.
func (s *Store) GuestMode() (bool, error) {
	v, err := s.getKey(keyGuestMode)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// SetGuestMode persists or clears the guest flag.
func (s *Store) SetGuestMode(on bool) error {
	if !on {
		return s.deleteKey(keyGuestMode)
	}
	return s.setKey(keyGuestMode, "true")
}

// AccessToken returns the stored identity token, empty when none is stored.
func (s *Store) AccessToken() (string, error) {
	return s.getKey(keyAccessToken)
}

// SetAccessToken stores the identity token; an empty token forgets it.
func (s *Store) SetAccessToken(token string) error {
	if token == "" {
		return s.deleteKey(keyAccessToken)
	}
	return s.setKey(keyAccessToken, token)
}

// ChatTranscript returns the persisted companion conversation in insertion
// order. An empty session id means no transcript exists yet.
func (s *Store) ChatTranscript() (string, []domain.ChatMessage, error) {
	sessionID, err := s.getKey(keyChatSessionID)
	if err != nil {
		return "", nil, err
	}
	if sessionID == "" {
		return "", nil, nil
	}

	rows, err := s.db.Query(`
		SELECT id, body, from_bot, created_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return "", nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var (
			m         domain.ChatMessage
			fromBot   int
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.Text, &fromBot, &createdAt); err != nil {
			return "", nil, fmt.Errorf("scan message: %w", err)
		}
		m.FromBot = fromBot != 0
		if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			m.CreatedAt = t
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return sessionID, msgs, nil
}

// AppendChatMessages stores messages under the session id, adopting it as
// the device's transcript session. Adoption and inserts commit together: a
// failed insert must not leave the device pointing at a session with no rows.
func (s *Store) AppendChatMessages(sessionID string, msgs ...domain.ChatMessage) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO device_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		keyChatSessionID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", keyChatSessionID, err)
	}

	for _, m := range msgs {
		fromBot := 0
		if m.FromBot {
			fromBot = 1
		}
		_, err := tx.Exec(`
			INSERT INTO chat_messages (id, session_id, body, from_bot, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			m.ID, sessionID, m.Text, fromBot, m.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

// ClearChatTranscript removes every stored message and the session id.
func (s *Store) ClearChatTranscript() error {
	if _, err := s.db.Exec(`DELETE FROM chat_messages`); err != nil {
		return fmt.Errorf("delete transcript: %w", err)
	}
	return s.deleteKey(keyChatSessionID)
}

func (s *Store) getKey(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM device_state WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) setKey(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO device_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteKey(key string) error {
	if _, err := s.db.Exec(`DELETE FROM device_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	return nil
}
