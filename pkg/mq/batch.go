package mq

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/pkg/logger"
	"github.com/koval-yurko/emails-flow/pkg/metrics"
	"github.com/koval-yurko/emails-flow/pkg/otel"
	"github.com/koval-yurko/emails-flow/pkg/util"
)

// ItemFunc processes one message of a batch.
type ItemFunc func(ctx context.Context, msg Message) error

// ProcessBatch runs fn over every message sequentially. A failing or panicking
// item is recorded in the response and never stops the remaining items.
func ProcessBatch(ctx context.Context, stage string, batch []Message, log *zap.Logger, fn ItemFunc) BatchResponse {
	resp := BatchResponse{BatchItemFailures: []BatchItemFailure{}}

	for _, msg := range batch {
		if err := processItem(ctx, stage, msg, log, fn); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, BatchItemFailure{ItemIdentifier: msg.ID})
		}
	}

	log.Info("Batch processed",
		zap.String("stage", stage),
		zap.Int("batch_size", len(batch)),
		zap.Int("failures", len(resp.BatchItemFailures)),
	)
	return resp
}

func processItem(ctx context.Context, stage string, msg Message, log *zap.Logger, fn ItemFunc) (err error) {
	producer := otel.ExtractFromHeaders(ctx, msg.Headers)
	ctx, span := otel.MQItemSpan(ctx, stage, msg.ID, producer)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing message %s: %v", msg.ID, r)
		}
		otel.EndSpan(span, err)

		if err == nil {
			metrics.IncrementStageSuccess(stage)
			return
		}

		retryable, errType := util.ClassifyError(err)
		metrics.IncrementStageError(stage, errType)
		logger.WithTrace(ctx, log).Error("Error processing message",
			zap.String("stage", stage),
			zap.String("message_id", msg.ID),
			zap.String("error_type", errType),
			zap.Bool("retryable", retryable),
			zap.Error(err),
		)
	}()

	return fn(ctx, msg)
}
