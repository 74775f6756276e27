package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeadLetter is a message sitting in a dead-letter queue.
type DeadLetter struct {
	MessageID   string
	Body        []byte
	Reason      string
	SourceQueue string
	DeathCount  int64
	PublishedAt time.Time
}

type getter interface {
	Get(queue string, autoAck bool) (amqp091.Delivery, bool, error)
}

type rawPublisher interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte, headers amqp091.Table) error
}

// DLQService 死信队列的查看与重投，供运维命令使用
type DLQService struct {
	ch        getter
	publisher rawPublisher
	logger    *zap.Logger
}

func NewDLQService(ch *amqp091.Channel, publisher *Publisher, logger *zap.Logger) *DLQService {
	return &DLQService{ch: ch, publisher: publisher, logger: logger}
}

// Peek returns up to limit dead letters without removing them from the queue.
func (s *DLQService) Peek(ctx context.Context, dlq string, limit int) ([]DeadLetter, error) {
	var (
		held []amqp091.Delivery
		out  []DeadLetter
	)
	// 读完后统一 requeue，避免同一条消息被重复读到
	defer func() {
		for _, d := range held {
			if err := d.Nack(false, true); err != nil {
				s.logger.Warn("Failed to return peeked message", zap.String("queue", dlq), zap.Error(err))
			}
		}
	}()

	for len(out) < limit {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d, ok, err := s.ch.Get(dlq, false)
		if err != nil {
			return out, fmt.Errorf("failed to get from %s: %w", dlq, err)
		}
		if !ok {
			break
		}
		held = append(held, d)
		out = append(out, toDeadLetter(d))
	}
	return out, nil
}

// Redrive moves up to limit messages from a DLQ back to its source queue.
// It returns how many messages were moved.
func (s *DLQService) Redrive(ctx context.Context, dlq, target string, limit int) (int, error) {
	moved := 0
	for moved < limit {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		d, ok, err := s.ch.Get(dlq, false)
		if err != nil {
			return moved, fmt.Errorf("failed to get from %s: %w", dlq, err)
		}
		if !ok {
			break
		}

		headers := amqp091.Table{"x-redriven-from": dlq}
		if err := s.publisher.PublishRaw(ctx, target, d.Body, headers); err != nil {
			_ = d.Nack(false, true)
			return moved, fmt.Errorf("failed to redrive message %s: %w", MessageID(d), err)
		}
		if err := d.Ack(false); err != nil {
			return moved, fmt.Errorf("failed to ack redriven message %s: %w", MessageID(d), err)
		}

		s.logger.Info("Redrove dead letter",
			zap.String("dlq", dlq),
			zap.String("target", target),
			zap.String("message_id", MessageID(d)),
		)
		moved++
	}
	return moved, nil
}

func toDeadLetter(d amqp091.Delivery) DeadLetter {
	dl := DeadLetter{
		MessageID:   MessageID(d),
		Body:        d.Body,
		PublishedAt: d.Timestamp,
	}
	// x-death 由 broker 在死信时写入，第一条是最近一次
	deaths, _ := d.Headers["x-death"].([]interface{})
	if len(deaths) == 0 {
		return dl
	}
	if death, ok := deaths[0].(amqp091.Table); ok {
		dl.Reason, _ = death["reason"].(string)
		dl.SourceQueue, _ = death["queue"].(string)
		dl.DeathCount, _ = death["count"].(int64)
	}
	return dl
}
