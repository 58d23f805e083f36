package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/hopecore/community/internal/config"
	"github.com/hopecore/community/internal/postgres"
)

// Dev tool: fills an empty database with enough content to exercise
// pagination and search locally.

var samplePosts = []string{
	"Finally told someone how I've been feeling. It helped more than I expected.",
	"Does anyone else find mornings the hardest part of the day?",
	"Small win today: went for a walk even though I didn't want to.",
	"Grateful for this space. Reading your posts makes me feel less alone.",
	"Struggling with sleep again this week. Any tips that worked for you?",
	"Three months since I started journaling. It really does get easier.",
	"Sometimes just naming the feeling takes away half its power.",
	"Had a rough day but I'm proud of myself for reaching out.",
	"Reminder: resting is not the same as giving up.",
	"Celebrated a friend's birthday without anxiety for the first time in ages.",
	"The breathing exercise from last week's thread actually works.",
	"Feeling stuck lately. How do you get yourselves moving again?",
}

var sampleReplies = []string{
	"Thank you for sharing this. You're not alone.",
	"This resonates with me so much.",
	"Proud of you for taking that step.",
	"Sending you strength today.",
}

func main() {
	if err := run(); err != nil {
		slog.Error("seed failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	godotenv.Load()

	count := flag.Int("posts", len(samplePosts), "number of posts to insert")
	withReplies := flag.Bool("replies", true, "attach sample replies to the first few posts")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	repo, err := postgres.NewRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.CreateTables(ctx); err != nil {
		return err
	}

	for i := 0; i < *count; i++ {
		content := samplePosts[i%len(samplePosts)]
		if i >= len(samplePosts) {
			content = fmt.Sprintf("%s (%d)", content, i/len(samplePosts)+1)
		}
		if err := repo.InsertPost(ctx, content, ""); err != nil {
			return fmt.Errorf("inserting post %d: %w", i, err)
		}
	}
	slog.Info("inserted posts", "count", *count)

	if !*withReplies {
		return nil
	}

	page, err := repo.ListPosts(ctx, 0, 3)
	if err != nil {
		return err
	}
	replies := 0
	for i, post := range page.Items {
		for j := 0; j <= i; j++ {
			if err := repo.InsertReply(ctx, post.ID, "", sampleReplies[(i+j)%len(sampleReplies)]); err != nil {
				return fmt.Errorf("inserting reply: %w", err)
			}
			replies++
		}
	}
	slog.Info("inserted replies", "count", replies)
	return nil
}
