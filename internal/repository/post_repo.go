package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koval-yurko/emails-flow/contracts/db"
	"github.com/koval-yurko/emails-flow/pkg/otel"
)

type PostRepository struct {
	db *pgxpool.Pool
}

func NewPostRepository(db *pgxpool.Pool) *PostRepository {
	return &PostRepository{db: db}
}

// UpsertByURL inserts the post or updates email_id, title and text of the
// post with the same url. Returns the row id.
func (r *PostRepository) UpsertByURL(ctx context.Context, p *db.Post) (string, error) {
	query := `
        INSERT INTO posts (email_id, url, title, text)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (url) DO UPDATE SET
            email_id   = EXCLUDED.email_id,
            title      = EXCLUDED.title,
            text       = EXCLUDED.text,
            updated_at = NOW()
        RETURNING id::text
    `
	var id string
	err := otel.WithDBSpan(ctx, "upsert", "posts", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, p.EmailID, p.URL, p.Title, p.Text).Scan(&id)
	})
	if err != nil {
		return "", fmt.Errorf("upsert post %s: %w", p.URL, err)
	}
	return id, nil
}

// LinkTag attaches a tag to a post. Existing links are left as they are.
func (r *PostRepository) LinkTag(ctx context.Context, postID, tagID string) error {
	query := `
        INSERT INTO post_tags (post_id, tag_id)
        VALUES ($1, $2)
        ON CONFLICT (post_id, tag_id) DO NOTHING
    `
	err := otel.WithDBSpan(ctx, "insert", "post_tags", func(ctx context.Context) error {
		_, err := r.db.Exec(ctx, query, postID, tagID)
		return err
	})
	if err != nil {
		return fmt.Errorf("link post %s to tag %s: %w", postID, tagID, err)
	}
	return nil
}
