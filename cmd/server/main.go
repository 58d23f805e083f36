package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hopecore/community/internal/companion"
	"github.com/hopecore/community/internal/config"
	"github.com/hopecore/community/internal/domain"
	"github.com/hopecore/community/internal/httpserver"
	"github.com/hopecore/community/internal/identity"
	"github.com/hopecore/community/internal/localstate"
	"github.com/hopecore/community/internal/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, err := localstate.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer state.Close()

	repo, err := postgres.NewRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.CreateTables(ctx); err != nil {
		return err
	}

	var idp domain.IdentityService
	if cfg.AuthURL != "" {
		idp = identity.NewClient(cfg.AuthURL, cfg.AuthAPIKey, state)
	} else {
		logger.Warn("AUTH_URL not set, using in-memory identity provider")
		idp = identity.NewLocal(logger)
	}

	sessions := domain.NewSessions(idp, state, logger)
	posts := domain.NewPostList(repo, sessions, logger)
	replies := domain.NewReplies(repo, sessions, posts, logger)
	profiles := domain.NewProfiles(repo, sessions, logger)

	chat, err := domain.NewCompanion(companion.NewClient(cfg.ChatURL, cfg.ChatAPIKey), state, sessions, logger)
	if err != nil {
		return err
	}

	sessions.Subscribe(posts.OnActorChanged)

	server := httpserver.NewServer(cfg, sessions, posts, replies, chat, profiles, logger)

	actor := sessions.ResolveInitial(ctx)
	logger.Info("resolved initial session", "actor", actor.Kind.String())

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
