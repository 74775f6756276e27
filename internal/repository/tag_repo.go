package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koval-yurko/emails-flow/contracts/db"
	"github.com/koval-yurko/emails-flow/pkg/otel"
)

type TagRepository struct {
	db *pgxpool.Pool
}

func NewTagRepository(db *pgxpool.Pool) *TagRepository {
	return &TagRepository{db: db}
}

// ResolveOrCreate returns the id of the tag with (type, slug(name)), creating
// it when missing. The first stored name wins.
func (r *TagRepository) ResolveOrCreate(ctx context.Context, tagType db.TagType, name string) (string, error) {
	slug := db.Slugify(name)
	if slug == "" {
		return "", fmt.Errorf("tag name is blank")
	}

	// DO UPDATE 是空操作，只为让 RETURNING 在冲突时也返回 id
	query := `
        INSERT INTO tags (type, slug, name)
        VALUES ($1, $2, $3)
        ON CONFLICT (type, slug) DO UPDATE SET slug = EXCLUDED.slug
        RETURNING id::text
    `
	var id string
	err := otel.WithDBSpan(ctx, "upsert", "tags", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query, string(tagType), slug, name).Scan(&id)
	})
	if err != nil {
		return "", fmt.Errorf("resolve tag %s/%s: %w", tagType, slug, err)
	}
	return id, nil
}
