package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hopecore/community/internal/config"
	"github.com/hopecore/community/internal/domain"
)

// Server exposes the session and content operations over HTTP for the UI
// layer. Content endpoints are poll/refetch; only session transitions are
// pushed, over the /api/events stream.
type Server struct {
	cfg        *config.Config
	sessions   *domain.Sessions
	posts      *domain.PostList
	replies    *domain.Replies
	companion  *domain.Companion
	profiles   *domain.Profiles
	events     *eventHub
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates the HTTP server and subscribes its event stream to actor
// transitions.
func NewServer(
	cfg *config.Config,
	sessions *domain.Sessions,
	posts *domain.PostList,
	replies *domain.Replies,
	companion *domain.Companion,
	profiles *domain.Profiles,
	logger *slog.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		sessions:  sessions,
		posts:     posts,
		replies:   replies,
		companion: companion,
		profiles:  profiles,
		events:    newEventHub(logger),
		logger:    logger,
	}

	sessions.Subscribe(s.events.onActorChanged)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/auth/signup", s.handleSignUp)
	mux.HandleFunc("POST /api/auth/signin", s.handleSignIn)
	mux.HandleFunc("POST /api/auth/signout", s.handleSignOut)
	mux.HandleFunc("POST /api/auth/guest", s.handleEnterGuestMode)
	mux.HandleFunc("POST /api/auth/switch-account", s.handleSwitchToAccountMode)
	mux.HandleFunc("POST /api/auth/password-reset", s.handlePasswordReset)
	mux.HandleFunc("POST /api/auth/resend-verification", s.handleResendVerification)

	mux.HandleFunc("GET /api/posts", s.handleListPosts)
	mux.HandleFunc("POST /api/posts", s.handleCreatePost)
	mux.HandleFunc("GET /api/posts/search", s.handleSearch)
	mux.HandleFunc("PATCH /api/posts/{id}", s.handleEditPost)
	mux.HandleFunc("DELETE /api/posts/{id}", s.handleDeletePost)
	mux.HandleFunc("POST /api/posts/{id}/like", s.handleToggleLike)
	mux.HandleFunc("GET /api/posts/{id}/replies", s.handleListReplies)
	mux.HandleFunc("POST /api/posts/{id}/replies", s.handleSubmitReply)

	mux.HandleFunc("GET /api/profile", s.handleGetProfile)
	mux.HandleFunc("PUT /api/profile", s.handleUpdateProfile)

	mux.HandleFunc("GET /api/chat", s.handleChatTranscript)
	mux.HandleFunc("POST /api/chat", s.handleChatSend)
	mux.HandleFunc("DELETE /api/chat", s.handleChatReset)

	mux.HandleFunc("GET /api/events", s.events.handleEvents)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withLogging(logger, mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.closeAll()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, actorView(s.sessions.Current()))
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	issued, err := s.sessions.SignUp(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionIssued": issued,
		"actor":         actorView(s.sessions.Current()),
	})
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.sessions.SignIn(r.Context(), req.Email, req.Password); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actorView(s.sessions.Current()))
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.SignOut(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actorView(s.sessions.Current()))
}

func (s *Server) handleEnterGuestMode(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.EnterGuestMode(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actorView(s.sessions.Current()))
}

func (s *Server) handleSwitchToAccountMode(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.SwitchToAccountMode(r.Context()); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actorView(s.sessions.Current()))
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.sessions.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.sessions.ResendVerification(r.Context(), req.Email); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "page must be a positive integer")
			return
		}
		page = parsed
	}

	window, err := s.posts.Load(r.Context(), page)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.windowView(window))
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.posts.Create(r.Context(), req.Content); err != nil {
		s.writeDomainError(w, err)
		return
	}

	// Server-assigned fields are authoritative, so the fresh post comes from
	// a first-page reload rather than a local prepend.
	window, err := s.posts.Load(r.Context(), 1)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.windowView(window))
}

func (s *Server) handleEditPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.posts.Edit(r.Context(), r.PathValue("id"), req.Content); err != nil {
		s.writeDomainError(w, err)
		return
	}
	window, err := s.posts.Refresh(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.windowView(window))
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("id")
	if err := s.posts.Delete(r.Context(), postID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.replies.Forget(postID)

	window, err := s.posts.Refresh(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.windowView(window))
}

func (s *Server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	if err := s.posts.ToggleLike(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.windowView(s.posts.Window()))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	results, err := s.posts.SearchNow(r.Context(), term)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"term":  term,
		"items": s.postViews(results),
	})
}

func (s *Server) handleListReplies(w http.ResponseWriter, r *http.Request) {
	postID := r.PathValue("id")
	thread, err := s.replies.LoadReplies(r.Context(), postID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replyViews(thread))
}

func (s *Server) handleSubmitReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	postID := r.PathValue("id")
	if err := s.replies.SubmitReply(r.Context(), postID, req.Content); err != nil {
		s.writeDomainError(w, err)
		return
	}
	thread, err := s.replies.LoadReplies(r.Context(), postID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, replyViews(thread))
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.profiles.Get(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileView(profile))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName           string `json:"fullName"`
		Nickname           string `json:"nickname"`
		Phone              string `json:"phone"`
		Location           string `json:"location"`
		AnonymousByDefault bool   `json:"anonymousByDefault"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	err := s.profiles.Update(r.Context(), domain.Profile{
		FullName:           req.FullName,
		Nickname:           req.Nickname,
		Phone:              req.Phone,
		Location:           req.Location,
		AnonymousByDefault: req.AnonymousByDefault,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	profile, err := s.profiles.Get(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileView(profile))
}

func (s *Server) handleChatTranscript(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, chatView(s.companion.SessionID(), s.companion.Messages()))
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message  string `json:"message"`
		Language string `json:"language"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	msgs, err := s.companion.SendMessage(r.Context(), req.Message, req.Language)
	if err != nil && !isCompanionFallback(err) {
		s.writeDomainError(w, err)
		return
	}
	// A backend failure still returns the transcript: the fallback message
	// is part of the conversation, and the client shows a transient toast.
	view := chatView(s.companion.SessionID(), msgs)
	view["degraded"] = err != nil
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleChatReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.companion.Reset(); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatView(s.companion.SessionID(), s.companion.Messages()))
}

// isCompanionFallback reports whether the error came from the chat backend,
// in which case the transcript already carries the fallback message.
func isCompanionFallback(err error) bool {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return false
	}
	return !errors.Is(err, domain.ErrRequestInFlight)
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		ve *domain.ValidationError
		ae *domain.AuthError
		se *domain.StoreError
	)
	switch {
	case errors.Is(err, domain.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, "authentication_required", "Please sign in to continue.")
	case errors.Is(err, domain.ErrNotPostAuthor):
		writeError(w, http.StatusForbidden, "not_author", "Only the author can modify this post.")
	case errors.Is(err, domain.ErrRequestInFlight):
		writeError(w, http.StatusConflict, "request_in_flight", "Please wait for the previous request to finish.")
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation_failed", ve.Message)
	case errors.As(err, &ae):
		status := http.StatusBadRequest
		switch ae.Class {
		case domain.AuthBadCredentials, domain.AuthUnconfirmedEmail:
			status = http.StatusUnauthorized
		case domain.AuthRateLimited:
			status = http.StatusTooManyRequests
		}
		writeError(w, status, "auth_failed", ae.Message())
	case errors.As(err, &se):
		s.logger.Error("store failure", "op", se.Op, "error", se.Err)
		writeError(w, http.StatusBadGateway, "store_error", "Something went wrong talking to the server. Please try again.")
	default:
		s.logger.Error("unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred. Please try again.")
	}
}

func (s *Server) windowView(window domain.PageWindow) map[string]any {
	return map[string]any{
		"pageNumber": window.PageNumber,
		"pageSize":   window.PageSize,
		"totalPages": window.TotalPages,
		"items":      s.postViews(window.Items),
	}
}

func (s *Server) postViews(posts []domain.Post) []map[string]any {
	actor := s.sessions.Current()
	views := make([]map[string]any, len(posts))
	for i, p := range posts {
		views[i] = map[string]any{
			"id":            p.ID,
			"content":       p.Content,
			"createdAt":     p.CreatedAt.UTC().Format(time.RFC3339),
			"likeCount":     p.LikeCount,
			"replyCount":    p.ReplyCount,
			"likedByViewer": p.LikedByActor,
			// Display stays anonymous; ownership only unlocks edit/delete.
			"ownedByViewer": actor.Authenticated() && p.AuthorID != "" && p.AuthorID == actor.UserID,
		}
	}
	return views
}

func replyViews(replies []domain.Reply) []map[string]any {
	views := make([]map[string]any, len(replies))
	for i, r := range replies {
		views[i] = map[string]any{
			"id":        r.ID,
			"postId":    r.PostID,
			"content":   r.Content,
			"createdAt": r.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return views
}

func profileView(p domain.Profile) map[string]any {
	return map[string]any{
		"userId":             p.UserID,
		"fullName":           p.FullName,
		"nickname":           p.Nickname,
		"phone":              p.Phone,
		"location":           p.Location,
		"anonymousByDefault": p.AnonymousByDefault,
	}
}

func chatView(sessionID string, msgs []domain.ChatMessage) map[string]any {
	views := make([]map[string]any, len(msgs))
	for i, m := range msgs {
		views[i] = map[string]any{
			"id":        m.ID,
			"text":      m.Text,
			"fromBot":   m.FromBot,
			"createdAt": m.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return map[string]any{
		"sessionId": sessionID,
		"messages":  views,
	}
}

func actorView(a domain.Actor) map[string]any {
	view := map[string]any{"kind": a.Kind.String()}
	if a.Authenticated() {
		view["userId"] = a.UserID
		view["emailVerified"] = a.EmailVerified
	}
	return view
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be valid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack is needed for the websocket upgrade on /api/events.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
