package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hopecore/community/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS forum_posts (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    content TEXT NOT NULL,
    author_id UUID,
    likes_count INTEGER NOT NULL DEFAULT 0,
    replies_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    search_vector tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);
CREATE INDEX IF NOT EXISTS idx_forum_posts_recency ON forum_posts (created_at DESC, id ASC);
CREATE INDEX IF NOT EXISTS idx_forum_posts_search ON forum_posts USING GIN (search_vector);

CREATE TABLE IF NOT EXISTS forum_post_likes (
    post_id UUID NOT NULL REFERENCES forum_posts(id) ON DELETE CASCADE,
    user_id UUID NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (post_id, user_id)
);

CREATE TABLE IF NOT EXISTS forum_replies (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    post_id UUID NOT NULL REFERENCES forum_posts(id) ON DELETE CASCADE,
    author_id UUID,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_forum_replies_post ON forum_replies (post_id, created_at ASC);

CREATE TABLE IF NOT EXISTS profiles (
    id UUID PRIMARY KEY,
    full_name TEXT NOT NULL DEFAULT '',
    nickname TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    anonymous_by_default BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS search_history (
    id BIGSERIAL PRIMARY KEY,
    user_id UUID NOT NULL,
    search_term TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Repository implements domain.ContentStore on PostgreSQL. Like and reply
// counters are denormalized onto forum_posts and maintained transactionally
// with the membership rows.
type Repository struct {
	pool *pgxpool.Pool
}

var _ domain.ContentStore = (*Repository)(nil)

// NewRepository connects to PostgreSQL, verifies the connection, and returns
// a new Repository. The caller should Close it when done.
func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// CreateTables bootstraps the schema. Safe to run on every start.
func (r *Repository) CreateTables(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// Close releases the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// ListPosts returns one page ordered newest first, ties broken by id, plus
// the total row count.
func (r *Repository) ListPosts(ctx context.Context, offset, limit int) (domain.PageResult, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM forum_posts`).Scan(&total); err != nil {
		return domain.PageResult{}, fmt.Errorf("count posts: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, content, author_id, likes_count, replies_count, created_at
		FROM forum_posts
		ORDER BY created_at DESC, id ASC
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return domain.PageResult{}, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	items, err := scanPosts(rows)
	if err != nil {
		return domain.PageResult{}, err
	}
	return domain.PageResult{Items: items, TotalCount: total}, nil
}

// ListLikedPostIDs returns the set of post ids the user has liked.
func (r *Repository) ListLikedPostIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT post_id FROM forum_post_likes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query likes: %w", err)
	}
	defer rows.Close()

	liked := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan like: %w", err)
		}
		liked[id] = true
	}
	return liked, rows.Err()
}

// InsertPost creates a post. The server assigns id, timestamp and counters.
func (r *Repository) InsertPost(ctx context.Context, content, authorID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO forum_posts (content, author_id) VALUES ($1, $2)`,
		content, nullableID(authorID))
	return err
}

// UpdatePost replaces a post's content. Authorship is enforced a layer up.
func (r *Repository) UpdatePost(ctx context.Context, id, content string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE forum_posts SET content = $2 WHERE id = $1`, id, content)
	return err
}

// DeletePost removes a post; likes and replies cascade.
func (r *Repository) DeletePost(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM forum_posts WHERE id = $1`, id)
	return err
}

// InsertLike records a like and bumps the denormalized counter in the same
// transaction. Liking twice is a no-op.
func (r *Repository) InsertLike(ctx context.Context, postID, userID string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO forum_post_likes (post_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (post_id, user_id) DO NOTHING`,
			postID, userID)
		if err != nil {
			return fmt.Errorf("insert like: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE forum_posts SET likes_count = likes_count + 1 WHERE id = $1`, postID)
		if err != nil {
			return fmt.Errorf("bump like count: %w", err)
		}
		return nil
	})
}

// DeleteLike removes a like and decrements the counter. Unliking a post that
// was never liked is a no-op.
func (r *Repository) DeleteLike(ctx context.Context, postID, userID string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM forum_post_likes WHERE post_id = $1 AND user_id = $2`,
			postID, userID)
		if err != nil {
			return fmt.Errorf("delete like: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE forum_posts
			SET likes_count = GREATEST(likes_count - 1, 0)
			WHERE id = $1`, postID)
		if err != nil {
			return fmt.Errorf("drop like count: %w", err)
		}
		return nil
	})
}

// SearchPosts runs a full-text query against the stored search vector,
// newest first, capped at limit.
func (r *Repository) SearchPosts(ctx context.Context, term string, limit int) ([]domain.Post, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, content, author_id, likes_count, replies_count, created_at
		FROM forum_posts
		WHERE search_vector @@ websearch_to_tsquery('english', $1)
		ORDER BY created_at DESC, id ASC
		LIMIT $2`,
		term, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search posts: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// RecordSearch appends to the user's search history.
func (r *Repository) RecordSearch(ctx context.Context, userID, term string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO search_history (user_id, search_term) VALUES ($1, $2)`,
		userID, term)
	return err
}

// ListReplies returns every reply for a post, oldest first.
func (r *Repository) ListReplies(ctx context.Context, postID string) ([]domain.Reply, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, post_id, author_id, content, created_at
		FROM forum_replies
		WHERE post_id = $1
		ORDER BY created_at ASC, id ASC`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("query replies: %w", err)
	}
	defer rows.Close()

	var replies []domain.Reply
	for rows.Next() {
		var (
			rep      domain.Reply
			authorID *string
		)
		if err := rows.Scan(&rep.ID, &rep.PostID, &authorID, &rep.Content, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		if authorID != nil {
			rep.AuthorID = *authorID
		}
		replies = append(replies, rep)
	}
	return replies, rows.Err()
}

// InsertReply creates a reply and bumps the post's reply counter in the same
// transaction.
func (r *Repository) InsertReply(ctx context.Context, postID, authorID, content string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO forum_replies (post_id, author_id, content)
			VALUES ($1, $2, $3)`,
			postID, nullableID(authorID), content)
		if err != nil {
			return fmt.Errorf("insert reply: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE forum_posts SET replies_count = replies_count + 1 WHERE id = $1`, postID)
		if err != nil {
			return fmt.Errorf("bump reply count: %w", err)
		}
		return nil
	})
}

// GetProfile returns nil with no error when the user has no profile row.
func (r *Repository) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	err := r.pool.QueryRow(ctx, `
		SELECT id, full_name, nickname, phone, location, anonymous_by_default
		FROM profiles
		WHERE id = $1`,
		userID,
	).Scan(&p.UserID, &p.FullName, &p.Nickname, &p.Phone, &p.Location, &p.AnonymousByDefault)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return &p, nil
}

// UpsertProfile creates or updates the user's profile row.
func (r *Repository) UpsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO profiles (id, full_name, nickname, phone, location, anonymous_by_default, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			nickname = EXCLUDED.nickname,
			phone = EXCLUDED.phone,
			location = EXCLUDED.location,
			anonymous_by_default = EXCLUDED.anonymous_by_default,
			updated_at = NOW()`,
		p.UserID, p.FullName, p.Nickname, p.Phone, p.Location, p.AnonymousByDefault,
	)
	return err
}

func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanPosts(rows pgx.Rows) ([]domain.Post, error) {
	var posts []domain.Post
	for rows.Next() {
		var (
			p        domain.Post
			authorID *string
		)
		if err := rows.Scan(&p.ID, &p.Content, &authorID, &p.LikeCount, &p.ReplyCount, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		if authorID != nil {
			p.AuthorID = *authorID
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
