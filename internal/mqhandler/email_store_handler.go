package mqhandler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/contracts/db"
	mqcontracts "github.com/koval-yurko/emails-flow/contracts/mq"
	"github.com/koval-yurko/emails-flow/internal/cleaner"
	"github.com/koval-yurko/emails-flow/internal/mailbox"
	"github.com/koval-yurko/emails-flow/internal/pipeline"
	"github.com/koval-yurko/emails-flow/pkg/logger"
	"github.com/koval-yurko/emails-flow/pkg/mq"
)

type MailFetcher interface {
	Fetch(ctx context.Context, folder string, uid uint32) (*mailbox.Message, error)
	MarkSeen(ctx context.Context, folder string, uid uint32) error
}

type EmailUpserter interface {
	UpsertByMessageID(ctx context.Context, e *db.Email) (string, error)
}

// EmailStoreHandler copies unseen mailbox messages into the emails table.
type EmailStoreHandler struct {
	mailbox MailFetcher
	emails  EmailUpserter
	logger  *zap.Logger
}

func NewEmailStoreHandler(mb MailFetcher, emails EmailUpserter, logger *zap.Logger) *EmailStoreHandler {
	return &EmailStoreHandler{
		mailbox: mb,
		emails:  emails,
		logger:  logger,
	}
}

func (h *EmailStoreHandler) HandleBatch(ctx context.Context, batch []mq.Message) mq.BatchResponse {
	return mq.ProcessBatch(ctx, pipeline.StageEmailStore, batch, h.logger, h.handle)
}

// handle: fetch → clean → upsert → mark \Seen. The message is only marked
// read after the row is stored.
func (h *EmailStoreHandler) handle(ctx context.Context, msg mq.Message) error {
	var p mqcontracts.EmailReadPayload
	if err := mqcontracts.Decode(msg.Body, &p); err != nil {
		return err
	}
	uid, err := p.MessageID.Uint32()
	if err != nil {
		return err
	}

	m, err := h.mailbox.Fetch(ctx, p.Folder, uid)
	if err != nil {
		return fmt.Errorf("fetch %s/%d: %w", p.Folder, uid, err)
	}

	email := &db.Email{
		From:         m.From,
		To:           m.To,
		Subject:      m.Subject,
		Date:         m.Date,
		MessageID:    m.MessageID,
		RawContent:   m.HTMLBody,
		CleanContent: cleaner.Clean(m.HTMLBody, cleaner.DefaultOptions()),
	}
	rowID, err := h.emails.UpsertByMessageID(ctx, email)
	if err != nil {
		return err
	}

	if err := h.mailbox.MarkSeen(ctx, p.Folder, uid); err != nil {
		return fmt.Errorf("mark %s/%d seen: %w", p.Folder, uid, err)
	}

	logger.WithTrace(ctx, h.logger).Info("Email stored",
		zap.String("folder", p.Folder),
		zap.Uint32("uid", uid),
		zap.String("row_id", rowID),
		zap.String("subject", m.Subject),
	)
	return nil
}
