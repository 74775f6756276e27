package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	mqcontracts "github.com/koval-yurko/emails-flow/contracts/mq"
	"github.com/koval-yurko/emails-flow/internal/config"
	"github.com/koval-yurko/emails-flow/internal/pipeline"
	"github.com/koval-yurko/emails-flow/pkg/logger"
	"github.com/koval-yurko/emails-flow/pkg/metrics"
	"github.com/koval-yurko/emails-flow/pkg/otel"
	"github.com/koval-yurko/emails-flow/pkg/util"
)

type MailSearcher interface {
	Search(ctx context.Context, folder, fromFilter string) ([]uint32, error)
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Summary reports what a producer run found and sent.
type Summary struct {
	Found  int `json:"found"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// ListRequest selects the mailbox folder and sender. A nil FromFilter uses the
// configured default; an empty one disables the sender filter.
type ListRequest struct {
	Folder     string  `json:"folder"`
	FromFilter *string `json:"from_filter"`
}

// ListerService queues every unseen newsletter for storage.
type ListerService struct {
	mailbox   MailSearcher
	publisher Publisher
	defaults  config.ListerConfig
	logger    *zap.Logger
}

func NewListerService(mb MailSearcher, publisher Publisher, defaults config.ListerConfig, logger *zap.Logger) *ListerService {
	return &ListerService{
		mailbox:   mb,
		publisher: publisher,
		defaults:  defaults,
		logger:    logger,
	}
}

// List searches the folder and sends one email-read message per UID, in
// mailbox order. Send failures are counted and do not stop the run.
func (s *ListerService) List(ctx context.Context, req ListRequest) (summary Summary, err error) {
	ctx, cancel := context.WithTimeout(ctx, pipeline.ListTimeout)
	defer cancel()

	ctx, span := otel.StartSpan(ctx, "producer."+pipeline.StageEmailList)
	defer func() { otel.EndSpan(span, err) }()

	folder := req.Folder
	if folder == "" {
		folder = s.defaults.Folder
	}
	fromFilter := s.defaults.FromFilter
	if req.FromFilter != nil {
		fromFilter = *req.FromFilter
	}
	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("folder", folder),
		zap.String("from_filter", fromFilter),
	)

	uids, err := s.mailbox.Search(ctx, folder, fromFilter)
	if err != nil {
		_, errType := util.ClassifyError(err)
		metrics.IncrementStageError(pipeline.StageEmailList, errType)
		return summary, fmt.Errorf("search %s: %w", folder, err)
	}
	summary.Found = len(uids)

	for _, uid := range uids {
		payload := mqcontracts.EmailReadPayload{
			MessageID: mqcontracts.MailboxUID(strconv.FormatUint(uint64(uid), 10)),
			Folder:    folder,
		}
		if err := s.publisher.Publish(ctx, mqcontracts.EmailReadQueue, payload); err != nil {
			summary.Failed++
			metrics.IncrementProducerSend(pipeline.StageEmailList, "error")
			log.Error("Failed to send email-read message", zap.Uint32("uid", uid), zap.Error(err))
			continue
		}
		summary.Sent++
		metrics.IncrementProducerSend(pipeline.StageEmailList, "success")
	}

	metrics.IncrementStageSuccess(pipeline.StageEmailList)
	log.Info("Unseen emails listed",
		zap.Int("found", summary.Found),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}
