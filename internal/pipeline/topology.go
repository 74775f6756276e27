// Package pipeline wires the three work queues, their dead-letter queues and
// the consumer limits of each stage.
package pipeline

import (
	"fmt"
	"time"

	mqcontracts "github.com/koval-yurko/emails-flow/contracts/mq"
	"github.com/koval-yurko/emails-flow/pkg/mq"
)

const (
	queueRetention      = 5 * 24 * time.Hour
	deadLetterRetention = 10 * 24 * time.Hour
)

// Stage names, used as metric labels and CLI subcommands.
const (
	StageEmailList    = "email-list"
	StageEmailStore   = "email-store"
	StageEmailScan    = "email-scan"
	StageEmailAnalyze = "email-analyze"
	StagePostStore    = "post-store"
)

// Producer timeouts. Consumer timeouts live in the stage specs.
const (
	ListTimeout = 20 * time.Second
	ScanTimeout = 60 * time.Second
)

var (
	EmailReadQueue = mq.QueueSpec{
		Name:                mqcontracts.EmailReadQueue,
		DeadLetterQueue:     "email-read-dead-queue",
		MaxReceiveCount:     3,
		Retention:           queueRetention,
		DeadLetterRetention: deadLetterRetention,
	}
	EmailAnalyzeQueue = mq.QueueSpec{
		Name:                mqcontracts.EmailAnalyzeQueue,
		DeadLetterQueue:     "email-analyze-dead-queue",
		MaxReceiveCount:     1,
		Retention:           queueRetention,
		DeadLetterRetention: deadLetterRetention,
	}
	PostStoreQueue = mq.QueueSpec{
		Name:                mqcontracts.PostStoreQueue,
		DeadLetterQueue:     "post-store-dead-queue",
		MaxReceiveCount:     2,
		Retention:           queueRetention,
		DeadLetterRetention: deadLetterRetention,
	}
)

// Consumer stages: batch size, accumulation window, concurrency cap and timeout.
var (
	EmailStoreStage = mq.ConsumerConfig{
		Queue:       EmailReadQueue,
		BatchSize:   10,
		BatchWindow: 5 * time.Second,
		Concurrency: 10,
		Timeout:     20 * time.Second,
	}
	EmailAnalyzeStage = mq.ConsumerConfig{
		Queue:       EmailAnalyzeQueue,
		BatchSize:   1,
		Concurrency: 3,
		Timeout:     180 * time.Second,
	}
	PostStoreStage = mq.ConsumerConfig{
		Queue:       PostStoreQueue,
		BatchSize:   10,
		BatchWindow: 5 * time.Second,
		Concurrency: 10,
		Timeout:     60 * time.Second,
	}
)

// Topology returns every queue of the pipeline on the given exchanges.
func Topology(exchange, dlxExchange string) mq.Topology {
	return mq.Topology{
		Exchange:    exchange,
		DLXExchange: dlxExchange,
		Queues:      []mq.QueueSpec{EmailReadQueue, EmailAnalyzeQueue, PostStoreQueue},
	}
}

// StageConfig looks up a consumer stage by name.
func StageConfig(stage string) (mq.ConsumerConfig, error) {
	switch stage {
	case StageEmailStore:
		return EmailStoreStage, nil
	case StageEmailAnalyze:
		return EmailAnalyzeStage, nil
	case StagePostStore:
		return PostStoreStage, nil
	}
	return mq.ConsumerConfig{}, fmt.Errorf("unknown consumer stage %q", stage)
}

// DeadLetterSource maps a queue or DLQ name to its (dlq, source) pair.
func DeadLetterSource(name string) (dlq, source string, err error) {
	for _, q := range []mq.QueueSpec{EmailReadQueue, EmailAnalyzeQueue, PostStoreQueue} {
		if name == q.Name || name == q.DeadLetterQueue {
			return q.DeadLetterQueue, q.Name, nil
		}
	}
	return "", "", fmt.Errorf("unknown queue %q", name)
}
