package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange    = "emails-flow"
	DefaultDLXExchange = "emails-flow.dlx"
)

// QueueSpec describes one work queue and its dead-letter queue.
// The routing key of a queue equals its name.
type QueueSpec struct {
	Name                string
	DeadLetterQueue     string
	MaxReceiveCount     int
	Retention           time.Duration
	DeadLetterRetention time.Duration
}

// Topology 一组交换机和队列的声明
type Topology struct {
	Exchange    string
	DLXExchange string
	Queues      []QueueSpec
}

// NewConnection creates a new RabbitMQ connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func declareExchange(ch *amqp091.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// QueueArgs 主队列参数：quorum 队列，失败消息通过 DLX 路由到对应的死信队列。
// x-delivery-limit 让 broker 在 Redis 计数不可用时也能按 max receive count 死信。
func QueueArgs(t Topology, q QueueSpec) amqp091.Table {
	args := amqp091.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    t.DLXExchange,
		"x-dead-letter-routing-key": q.DeadLetterQueue,
	}
	if q.MaxReceiveCount > 0 {
		args["x-delivery-limit"] = int64(q.MaxReceiveCount - 1)
	}
	if q.Retention > 0 {
		args["x-message-ttl"] = q.Retention.Milliseconds()
	}
	return args
}

// DeadLetterArgs 死信队列参数，只设置保留时间
func DeadLetterArgs(q QueueSpec) amqp091.Table {
	args := amqp091.Table{}
	if q.DeadLetterRetention > 0 {
		args["x-message-ttl"] = q.DeadLetterRetention.Milliseconds()
	}
	return args
}

// DeclareTopology declares both exchanges, every work queue and every DLQ.
// Declarations are idempotent as long as arguments do not change.
func DeclareTopology(ch *amqp091.Channel, t Topology) error {
	if err := declareExchange(ch, t.Exchange); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}
	if err := declareExchange(ch, t.DLXExchange); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange %s: %w", t.DLXExchange, err)
	}

	for _, q := range t.Queues {
		if _, err := ch.QueueDeclare(q.DeadLetterQueue, true, false, false, false, DeadLetterArgs(q)); err != nil {
			return fmt.Errorf("failed to declare DLQ %s: %w", q.DeadLetterQueue, err)
		}
		if err := ch.QueueBind(q.DeadLetterQueue, q.DeadLetterQueue, t.DLXExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind DLQ %s: %w", q.DeadLetterQueue, err)
		}

		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, QueueArgs(t, q)); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.Name, err)
		}
		if err := ch.QueueBind(q.Name, q.Name, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q.Name, err)
		}
	}
	return nil
}

// DeclareTopologyURL opens a short-lived connection and declares the topology.
func DeclareTopologyURL(url string, t Topology) error {
	conn, err := NewConnection(url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	return DeclareTopology(ch, t)
}
