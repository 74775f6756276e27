package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koval-yurko/emails-flow/contracts/db"
	"github.com/koval-yurko/emails-flow/pkg/otel"
)

const emailColumns = `id::text, from_email, to_email, subject, date, message_id, raw_content, clean_content,
            COALESCE(status, 'created'), created_at, updated_at`

type EmailRepository struct {
	db *pgxpool.Pool
}

func NewEmailRepository(db *pgxpool.Pool) *EmailRepository {
	return &EmailRepository{db: db}
}

// UpsertByMessageID inserts the email or overwrites the row with the same
// message_id, resetting status to created. Returns the row id.
func (r *EmailRepository) UpsertByMessageID(ctx context.Context, e *db.Email) (string, error) {
	query := `
        INSERT INTO emails (from_email, to_email, subject, date, message_id, raw_content, clean_content, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 'created')
        ON CONFLICT (message_id) DO UPDATE SET
            from_email    = EXCLUDED.from_email,
            to_email      = EXCLUDED.to_email,
            subject       = EXCLUDED.subject,
            date          = EXCLUDED.date,
            raw_content   = EXCLUDED.raw_content,
            clean_content = EXCLUDED.clean_content,
            status        = 'created',
            updated_at    = NOW()
        RETURNING id::text
    `
	var id string
	err := otel.WithDBSpan(ctx, "upsert", "emails", func(ctx context.Context) error {
		return r.db.QueryRow(ctx, query,
			e.From, e.To, e.Subject, e.Date, e.MessageID, e.RawContent, e.CleanContent,
		).Scan(&id)
	})
	if err != nil {
		return "", fmt.Errorf("upsert email %s: %w", e.MessageID, err)
	}
	return id, nil
}

// ListUnprocessed returns up to limit emails whose status is created or
// unset, oldest first.
func (r *EmailRepository) ListUnprocessed(ctx context.Context, limit int) ([]db.Email, error) {
	query := `
        SELECT ` + emailColumns + `
        FROM emails
        WHERE status IS NULL OR status = 'created'
        ORDER BY created_at
        LIMIT $1
    `
	emails := []db.Email{}
	err := otel.WithDBSpan(ctx, "select", "emails", func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, query, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEmail(rows)
			if err != nil {
				return err
			}
			emails = append(emails, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list unprocessed emails: %w", err)
	}
	return emails, nil
}

// GetByID returns ErrNotFound when no row has the id.
func (r *EmailRepository) GetByID(ctx context.Context, id string) (*db.Email, error) {
	query := `
        SELECT ` + emailColumns + `
        FROM emails
        WHERE id = $1
    `
	var e *db.Email
	err := otel.WithDBSpan(ctx, "select", "emails", func(ctx context.Context) error {
		var err error
		e, err = scanEmail(r.db.QueryRow(ctx, query, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get email %s: %w", id, err)
	}
	return e, nil
}

// MarkProcessed sets status to processed. Marking twice is a no-op.
func (r *EmailRepository) MarkProcessed(ctx context.Context, id string) error {
	query := `
        UPDATE emails
        SET status = 'processed', updated_at = NOW()
        WHERE id = $1
    `
	var affected int64
	err := otel.WithDBSpan(ctx, "update", "emails", func(ctx context.Context) error {
		tag, err := r.db.Exec(ctx, query, id)
		affected = tag.RowsAffected()
		return err
	})
	if isInvalidUUID(err) || (err == nil && affected == 0) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("mark email %s processed: %w", id, err)
	}
	return nil
}

func scanEmail(row pgx.Row) (*db.Email, error) {
	var e db.Email
	err := row.Scan(
		&e.ID,
		&e.From,
		&e.To,
		&e.Subject,
		&e.Date,
		&e.MessageID,
		&e.RawContent,
		&e.CleanContent,
		&e.Status,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
