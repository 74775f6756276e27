package mqhandler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/contracts/db"
	mqcontracts "github.com/koval-yurko/emails-flow/contracts/mq"
	"github.com/koval-yurko/emails-flow/internal/llm"
	"github.com/koval-yurko/emails-flow/internal/pipeline"
	"github.com/koval-yurko/emails-flow/pkg/logger"
	"github.com/koval-yurko/emails-flow/pkg/mq"
)

type EmailLoader interface {
	GetByID(ctx context.Context, id string) (*db.Email, error)
	MarkProcessed(ctx context.Context, id string) error
}

type PostExtractor interface {
	Extract(ctx context.Context, emailContent string) ([]llm.PostItem, error)
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Deduper guards against two deliveries of the same row running at once.
// Implemented by util.Deduper.
type Deduper interface {
	AcquireOnce(ctx context.Context, handler, id string) bool
	Release(ctx context.Context, handler, id string)
}

// EmailAnalyzeHandler turns a stored email into post messages.
type EmailAnalyzeHandler struct {
	emails    EmailLoader
	extractor PostExtractor
	publisher Publisher
	deduper   Deduper
	logger    *zap.Logger
}

// NewEmailAnalyzeHandler builds the handler. deduper may be nil.
func NewEmailAnalyzeHandler(emails EmailLoader, extractor PostExtractor, publisher Publisher, deduper Deduper, logger *zap.Logger) *EmailAnalyzeHandler {
	return &EmailAnalyzeHandler{
		emails:    emails,
		extractor: extractor,
		publisher: publisher,
		deduper:   deduper,
		logger:    logger,
	}
}

func (h *EmailAnalyzeHandler) HandleBatch(ctx context.Context, batch []mq.Message) mq.BatchResponse {
	return mq.ProcessBatch(ctx, pipeline.StageEmailAnalyze, batch, h.logger, h.handle)
}

// handle emits one post message per extracted post, then marks the email
// processed. A failure after some posts were sent re-sends them on the next
// scan; post-store upserts by url so they collapse.
func (h *EmailAnalyzeHandler) handle(ctx context.Context, msg mq.Message) error {
	done := false
	var p mqcontracts.EmailAnalyzePayload
	if err := mqcontracts.Decode(msg.Body, &p); err != nil {
		return err
	}
	log := logger.WithTrace(ctx, h.logger).With(zap.String("row_id", p.RowID))

	email, err := h.emails.GetByID(ctx, p.RowID)
	if err != nil {
		return err
	}
	if email.IsProcessed() {
		log.Info("Email already processed, skipping")
		return nil
	}

	if h.deduper != nil {
		if !h.deduper.AcquireOnce(ctx, pipeline.StageEmailAnalyze, p.RowID) {
			log.Info("Email is being analyzed by another delivery, skipping")
			return nil
		}
		// Released on every non-success exit, panics included, so a redelivery or redrive can run again.
		defer func() {
			if !done {
				h.deduper.Release(context.WithoutCancel(ctx), pipeline.StageEmailAnalyze, p.RowID)
			}
		}()
	}

	posts, err := h.extractor.Extract(ctx, email.CleanContent)
	if err != nil {
		return err
	}

	for i, post := range posts {
		payload := mqcontracts.PostStorePayload{
			EmailID:    p.RowID,
			Title:      post.Title,
			URL:        post.URL,
			Text:       post.Text,
			Domains:    post.Domains,
			Categories: post.Categories,
			Tags:       post.Tags,
			NewTags:    post.NewTags,
		}
		if err := h.publisher.Publish(ctx, mqcontracts.PostStoreQueue, payload); err != nil {
			return fmt.Errorf("publish post %d/%d (%s): %w", i+1, len(posts), post.URL, err)
		}
	}

	if err := h.emails.MarkProcessed(ctx, p.RowID); err != nil {
		return err
	}

	done = true
	log.Info("Email analyzed", zap.Int("posts", len(posts)))
	return nil
}
