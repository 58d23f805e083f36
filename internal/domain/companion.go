package domain

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// companionGreeting opens every new transcript.
const companionGreeting = "Muraho! I'm Mahoro, your supportive AI companion. How can I help you today? You can speak to me in Kinyarwanda, English, Swahili, or French."

// companionFallback is appended when the backend cannot be reached. The
// user's own message is kept so nothing they typed is lost.
const companionFallback = "I apologize, but I'm having trouble responding right now. Please try again in a moment. If you're in crisis, please contact Isange One Stop Center at 3029 or Rwanda National Police at 3512."

// ChatMessage is one entry in the companion transcript.
type ChatMessage struct {
	ID        string
	Text      string
	FromBot   bool
	CreatedAt time.Time
}

// Companion owns the per-device conversation with the AI chat backend. The
// transcript persists through local state so it survives restarts; the
// backend itself is opaque request/response.
type Companion struct {
	chat   ChatService
	local  LocalState
	actors ActorSource
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	messages  []ChatMessage
	busy      bool
}

// NewCompanion restores the persisted transcript, or starts a fresh one with
// the greeting when this device has never chatted.
func NewCompanion(chat ChatService, local LocalState, actors ActorSource, logger *slog.Logger) (*Companion, error) {
	c := &Companion{
		chat:   chat,
		local:  local,
		actors: actors,
		logger: logger,
	}

	sessionID, msgs, err := local.ChatTranscript()
	if err != nil {
		return nil, fmt.Errorf("restore chat transcript: %w", err)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
		greeting := ChatMessage{
			ID:        uuid.NewString(),
			Text:      companionGreeting,
			FromBot:   true,
			CreatedAt: time.Now().UTC(),
		}
		if err := local.AppendChatMessages(sessionID, greeting); err != nil {
			return nil, fmt.Errorf("persist greeting: %w", err)
		}
		msgs = []ChatMessage{greeting}
	}

	c.sessionID = sessionID
	c.messages = msgs
	return c, nil
}

// Messages returns a copy of the transcript, oldest first.
func (c *Companion) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// SessionID identifies this device's conversation to the backend.
func (c *Companion) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SendMessage appends the user's message, asks the backend for a reply, and
// appends it. While a request is outstanding further sends are rejected with
// ErrRequestInFlight. Backend failure appends the fallback message and
// surfaces the error; the transcript keeps what the user typed either way.
func (c *Companion) SendMessage(ctx context.Context, text, language string) ([]ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return c.Messages(), &ValidationError{Field: "message", Message: "message cannot be empty"}
	}
	if language == "" {
		language = "en"
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return c.Messages(), ErrRequestInFlight
	}
	c.busy = true
	sessionID := c.sessionID
	userMsg := ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	c.messages = append(c.messages, userMsg)
	c.mu.Unlock()

	c.persist(userMsg)

	userID := "anonymous"
	if actor := c.actors.Current(); actor.Authenticated() {
		userID = actor.UserID
	}

	reply, sendErr := c.chat.Send(ctx, sessionID, userID, text, language)
	botText := reply
	if sendErr != nil {
		c.logger.Error("companion backend unavailable", "error", sendErr)
		botText = companionFallback
	}
	botMsg := ChatMessage{
		ID:        uuid.NewString(),
		Text:      botText,
		FromBot:   true,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	c.messages = append(c.messages, botMsg)
	c.busy = false
	c.mu.Unlock()

	c.persist(botMsg)

	if sendErr != nil {
		return c.Messages(), fmt.Errorf("companion chat: %w", sendErr)
	}
	return c.Messages(), nil
}

// Reset discards the transcript and starts over with the greeting under a
// fresh session id.
func (c *Companion) Reset() error {
	if err := c.local.ClearChatTranscript(); err != nil {
		return fmt.Errorf("clear chat transcript: %w", err)
	}

	sessionID := uuid.NewString()
	greeting := ChatMessage{
		ID:        uuid.NewString(),
		Text:      companionGreeting,
		FromBot:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.local.AppendChatMessages(sessionID, greeting); err != nil {
		return fmt.Errorf("persist greeting: %w", err)
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.messages = []ChatMessage{greeting}
	c.busy = false
	c.mu.Unlock()
	return nil
}

func (c *Companion) persist(msg ChatMessage) {
	if err := c.local.AppendChatMessages(c.SessionID(), msg); err != nil {
		c.logger.Warn("chat transcript write failed", "error", err)
	}
}
