package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/contracts/db"
	mqcontracts "github.com/koval-yurko/emails-flow/contracts/mq"
	"github.com/koval-yurko/emails-flow/internal/pipeline"
	"github.com/koval-yurko/emails-flow/pkg/logger"
	"github.com/koval-yurko/emails-flow/pkg/metrics"
	"github.com/koval-yurko/emails-flow/pkg/otel"
	"github.com/koval-yurko/emails-flow/pkg/util"
)

type UnprocessedLister interface {
	ListUnprocessed(ctx context.Context, limit int) ([]db.Email, error)
}

type ScanRequest struct {
	Count int `json:"count"`
}

// ScannerService queues stored emails that still need analysis.
type ScannerService struct {
	emails       UnprocessedLister
	publisher    Publisher
	defaultCount int
	logger       *zap.Logger
}

func NewScannerService(emails UnprocessedLister, publisher Publisher, defaultCount int, logger *zap.Logger) *ScannerService {
	if defaultCount <= 0 {
		defaultCount = 1
	}
	return &ScannerService{
		emails:       emails,
		publisher:    publisher,
		defaultCount: defaultCount,
		logger:       logger,
	}
}

// Scan sends one email-analyze message per unprocessed email, up to Count.
func (s *ScannerService) Scan(ctx context.Context, req ScanRequest) (summary Summary, err error) {
	ctx, cancel := context.WithTimeout(ctx, pipeline.ScanTimeout)
	defer cancel()

	ctx, span := otel.StartSpan(ctx, "producer."+pipeline.StageEmailScan)
	defer func() { otel.EndSpan(span, err) }()

	count := req.Count
	if count <= 0 {
		count = s.defaultCount
	}
	log := logger.WithTrace(ctx, s.logger).With(zap.Int("count", count))

	emails, err := s.emails.ListUnprocessed(ctx, count)
	if err != nil {
		_, errType := util.ClassifyError(err)
		metrics.IncrementStageError(pipeline.StageEmailScan, errType)
		return summary, fmt.Errorf("list unprocessed emails: %w", err)
	}
	summary.Found = len(emails)

	for _, e := range emails {
		if err := s.publisher.Publish(ctx, mqcontracts.EmailAnalyzeQueue, mqcontracts.EmailAnalyzePayload{RowID: e.ID}); err != nil {
			summary.Failed++
			metrics.IncrementProducerSend(pipeline.StageEmailScan, "error")
			log.Error("Failed to send email-analyze message", zap.String("row_id", e.ID), zap.Error(err))
			continue
		}
		summary.Sent++
		metrics.IncrementProducerSend(pipeline.StageEmailScan, "success")
	}

	metrics.IncrementStageSuccess(pipeline.StageEmailScan)
	log.Info("Unprocessed emails scanned",
		zap.Int("found", summary.Found),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}
