package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/koval-yurko/emails-flow/pkg/metrics"
	"github.com/koval-yurko/emails-flow/pkg/otel"
	"github.com/koval-yurko/emails-flow/pkg/util"
)

// Message is one delivery handed to a batch handler.
type Message struct {
	// ID is the delivery identifier reported back in BatchItemFailure.
	ID          string
	Body        []byte
	Headers     amqp091.Table
	Redelivered bool
}

type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// BatchResponse lists the items of a batch that must be retried. Empty means full success.
type BatchResponse struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

// Failed reports whether id is listed as a failure.
func (r BatchResponse) Failed(id string) bool {
	for _, f := range r.BatchItemFailures {
		if f.ItemIdentifier == id {
			return true
		}
	}
	return false
}

type BatchHandler func(ctx context.Context, batch []Message) BatchResponse

// ReceiveCounter tracks how many times a message failed. Implemented by util.ReceiveCounter.
type ReceiveCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type ConsumerConfig struct {
	Queue       QueueSpec
	BatchSize   int
	BatchWindow time.Duration
	Concurrency int
	Timeout     time.Duration
}

// BatchConsumer 批量消费：攒批 → 调用 handler → 按 failure 列表逐条 ack / requeue / 死信
type BatchConsumer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	topology Topology
	cfg      ConsumerConfig
	handler  BatchHandler
	counter  ReceiveCounter
	logger   *zap.Logger
	tag      string
}

// NewBatchConsumer connects, declares the queue with its DLQ and sets the prefetch window.
func NewBatchConsumer(url string, topology Topology, cfg ConsumerConfig, counter ReceiveCounter, logger *zap.Logger) (*BatchConsumer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	own := Topology{Exchange: topology.Exchange, DLXExchange: topology.DLXExchange, Queues: []QueueSpec{cfg.Queue}}
	if err := DeclareTopology(ch, own); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// 预取数量 = 批大小 × 并发数，保证每个 worker 都能攒满一批
	if err := ch.Qos(cfg.BatchSize*cfg.Concurrency, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("queue", cfg.Queue.Name),
		zap.String("dlq", cfg.Queue.DeadLetterQueue),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("batch_window", cfg.BatchWindow),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Duration("timeout", cfg.Timeout),
	)

	return &BatchConsumer{
		conn:     conn,
		channel:  ch,
		topology: own,
		cfg:      cfg,
		counter:  counter,
		logger:   logger,
		tag:      "emailsflow-" + cfg.Queue.Name + "-" + uuid.NewString()[:8],
	}, nil
}

func (c *BatchConsumer) SetHandler(h BatchHandler) {
	c.handler = h
}

func (c *BatchConsumer) Close() {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Run consumes until ctx is canceled or the channel closes. In-flight batches
// finish and settle before Run returns.
func (c *BatchConsumer) Run(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.cfg.Queue.Name,
		c.tag,
		false, // 手动 ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		if err := c.channel.Cancel(c.tag, false); err != nil {
			c.logger.Warn("Failed to cancel consumer", zap.String("queue", c.cfg.Queue.Name), zap.Error(err))
		}
	})
	defer stop()

	c.logger.Info("Consumer started", zap.String("queue", c.cfg.Queue.Name))

	// 关闭期间仍要完成正在处理的批次
	workCtx := context.WithoutCancel(ctx)
	batches := make(chan []amqp091.Delivery)

	var g errgroup.Group
	g.Go(func() error {
		defer close(batches)
		collectBatches(deliveries, c.cfg.BatchSize, c.cfg.BatchWindow, batches)
		return nil
	})
	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error {
			for batch := range batches {
				c.handleBatch(workCtx, batch)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		c.logger.Info("Consumer stopped", zap.String("queue", c.cfg.Queue.Name))
		return nil
	}
	return fmt.Errorf("delivery channel closed for %s", c.cfg.Queue.Name)
}

// collectBatches groups deliveries into batches of at most size, flushing a
// partial batch once window has elapsed since its first delivery.
func collectBatches(deliveries <-chan amqp091.Delivery, size int, window time.Duration, out chan<- []amqp091.Delivery) {
	var (
		batch  []amqp091.Delivery
		timer  *time.Timer
		timerC <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
		if len(batch) > 0 {
			out <- batch
			batch = nil
		}
	}

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, d)
			if len(batch) >= size || window <= 0 {
				flush()
				continue
			}
			if timerC == nil {
				timer = time.NewTimer(window)
				timerC = timer.C
			}
		case <-timerC:
			flush()
		}
	}
}

// MessageID returns the publisher-assigned id, or a stable id derived from the
// body when the publisher did not set one.
func MessageID(d amqp091.Delivery) string {
	if d.MessageId != "" {
		return d.MessageId
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, d.Body).String()
}

func (c *BatchConsumer) handleBatch(ctx context.Context, deliveries []amqp091.Delivery) {
	start := time.Now()
	queue := c.cfg.Queue.Name

	msgs := make([]Message, len(deliveries))
	byID := make(map[string][]int, len(deliveries))
	for i, d := range deliveries {
		msgs[i] = Message{
			ID:          MessageID(d),
			Body:        d.Body,
			Headers:     d.Headers,
			Redelivered: d.Redelivered,
		}
		byID[msgs[i].ID] = append(byID[msgs[i].ID], i)
	}

	failed := make([]bool, len(deliveries))
	resp, err := c.invoke(ctx, msgs)
	if err != nil {
		// 超时或 panic：整批视为失败
		c.logger.Error("Batch invocation failed, failing every item",
			zap.String("queue", queue),
			zap.Int("batch_size", len(msgs)),
			zap.Error(err),
		)
		for i := range failed {
			failed[i] = true
		}
	} else {
		for _, f := range resp.BatchItemFailures {
			idxs, ok := byID[f.ItemIdentifier]
			if !ok {
				c.logger.Warn("Handler reported unknown item identifier",
					zap.String("queue", queue),
					zap.String("item_identifier", f.ItemIdentifier),
				)
				continue
			}
			for _, idx := range idxs {
				failed[idx] = true
			}
		}
	}

	for i, d := range deliveries {
		c.settle(ctx, d, msgs[i].ID, failed[i])
	}

	metrics.RecordMQBatchSize(queue, len(msgs))
	metrics.RecordMQConsumeLatency(queue, time.Since(start))
}

type invokeResult struct {
	resp BatchResponse
	err  error
}

func (c *BatchConsumer) invoke(ctx context.Context, msgs []Message) (resp BatchResponse, err error) {
	var cancel context.CancelFunc
	if c.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	ctx, span := otel.MQBatchSpan(ctx, c.cfg.Queue.Name, len(msgs))
	defer func() { otel.EndSpan(span, err) }()

	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: fmt.Errorf("batch handler panic: %v", r)}
			}
		}()
		done <- invokeResult{resp: c.handler(ctx, msgs)}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return BatchResponse{}, fmt.Errorf("batch handler exceeded %s: %w", c.cfg.Timeout, ctx.Err())
	}
}

func (c *BatchConsumer) settle(ctx context.Context, d amqp091.Delivery, id string, failed bool) {
	queue := c.cfg.Queue.Name
	key := util.FormatReceiveKey(queue, id)

	if !failed {
		if err := d.Ack(false); err != nil {
			c.logger.Error("Failed to ack message", zap.String("queue", queue), zap.String("message_id", id), zap.Error(err))
			return
		}
		metrics.IncrementMQSettle(queue, "ack")
		c.resetCount(ctx, key)
		return
	}

	maxReceive := int64(c.cfg.Queue.MaxReceiveCount)
	if maxReceive <= 0 {
		maxReceive = 1
	}

	count := c.receiveCount(ctx, d, key, maxReceive)
	if count >= maxReceive {
		// requeue=false → broker 通过 DLX 投递到死信队列
		if err := d.Nack(false, false); err != nil {
			c.logger.Error("Failed to dead-letter message", zap.String("queue", queue), zap.String("message_id", id), zap.Error(err))
			return
		}
		c.logger.Warn("Message exhausted receive count, dead-lettered",
			zap.String("queue", queue),
			zap.String("dlq", c.cfg.Queue.DeadLetterQueue),
			zap.String("message_id", id),
			zap.Int64("receive_count", count),
		)
		metrics.IncrementMQSettle(queue, "dead_letter")
		c.resetCount(ctx, key)
		return
	}

	if err := d.Nack(false, true); err != nil {
		c.logger.Error("Failed to requeue message", zap.String("queue", queue), zap.String("message_id", id), zap.Error(err))
		return
	}
	c.logger.Info("Message requeued",
		zap.String("queue", queue),
		zap.String("message_id", id),
		zap.Int64("receive_count", count),
		zap.Int64("max_receive_count", maxReceive),
	)
	metrics.IncrementMQSettle(queue, "requeue")
}

func (c *BatchConsumer) receiveCount(ctx context.Context, d amqp091.Delivery, key string, maxReceive int64) int64 {
	if c.counter != nil {
		count, err := c.counter.IncrementAndGet(ctx, key)
		if err == nil {
			return count
		}
		c.logger.Warn("Receive counter unavailable, falling back to broker delivery count", zap.String("key", key), zap.Error(err))
	}
	// quorum 队列在重投时写入 x-delivery-count（之前失败的次数）
	if n, ok := deliveryCount(d.Headers); ok {
		return n + 1
	}
	// 没有任何计数来源时，重投的消息按已耗尽处理，避免无限 requeue
	if d.Redelivered {
		return maxReceive
	}
	return 1
}

func deliveryCount(headers amqp091.Table) (int64, bool) {
	switch v := headers["x-delivery-count"].(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

func (c *BatchConsumer) resetCount(ctx context.Context, key string) {
	if c.counter == nil {
		return
	}
	if err := c.counter.Reset(ctx, key); err != nil {
		c.logger.Warn("Failed to reset receive counter", zap.String("key", key), zap.Error(err))
	}
}
