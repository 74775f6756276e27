package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koval-yurko/emails-flow/pkg/util"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound 记录不存在
var ErrNotFound = util.NewTypedError("email_not_found", "email record not found", false)

// Migrate creates the tables if they do not exist.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// isInvalidUUID reports a malformed uuid literal (22P02).
func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
