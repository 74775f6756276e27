package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type fakeGetter struct {
	queue []amqp091.Delivery
}

func (f *fakeGetter) Get(_ string, _ bool) (amqp091.Delivery, bool, error) {
	if len(f.queue) == 0 {
		return amqp091.Delivery{}, false, nil
	}
	d := f.queue[0]
	f.queue = f.queue[1:]
	return d, true, nil
}

type published struct {
	routingKey string
	body       string
}

type fakeRawPublisher struct {
	sent []published
	err  error
}

func (f *fakeRawPublisher) PublishRaw(_ context.Context, routingKey string, body []byte, _ amqp091.Table) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{routingKey: routingKey, body: string(body)})
	return nil
}

func deadDelivery(ack amqp091.Acknowledger, tag uint64, id, body string) amqp091.Delivery {
	return amqp091.Delivery{
		Acknowledger: ack,
		DeliveryTag:  tag,
		MessageId:    id,
		Body:         []byte(body),
		Headers: amqp091.Table{
			"x-death": []interface{}{
				amqp091.Table{"reason": "rejected", "queue": "email-analyze-queue", "count": int64(1)},
			},
		},
	}
}

func TestDLQPeekReturnsMessagesToQueue(t *testing.T) {
	ack := &fakeAck{}
	svc := &DLQService{
		ch:     &fakeGetter{queue: []amqp091.Delivery{deadDelivery(ack, 1, "a", `{"row_id":"1"}`), deadDelivery(ack, 2, "b", `{"row_id":"2"}`)}},
		logger: zap.NewNop(),
	}

	got, err := svc.Peek(context.Background(), "email-analyze-dead-queue", 5)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("peeked %d, want 2", len(got))
	}
	if got[0].Reason != "rejected" || got[0].SourceQueue != "email-analyze-queue" || got[0].DeathCount != 1 {
		t.Errorf("dead letter = %+v", got[0])
	}
	if diff := cmp.Diff([]uint64{1, 2}, ack.requeued); diff != "" {
		t.Errorf("requeued mismatch (-want +got):\n%s", diff)
	}
}

func TestDLQRedriveMovesMessages(t *testing.T) {
	ack := &fakeAck{}
	pub := &fakeRawPublisher{}
	svc := &DLQService{
		ch:        &fakeGetter{queue: []amqp091.Delivery{deadDelivery(ack, 1, "a", "A"), deadDelivery(ack, 2, "b", "B"), deadDelivery(ack, 3, "c", "C")}},
		publisher: pub,
		logger:    zap.NewNop(),
	}

	moved, err := svc.Redrive(context.Background(), "post-store-dead-queue", "post-store-queue", 2)
	if err != nil {
		t.Fatalf("Redrive: %v", err)
	}
	if moved != 2 {
		t.Errorf("moved = %d, want 2", moved)
	}
	want := []published{{"post-store-queue", "A"}, {"post-store-queue", "B"}}
	if diff := cmp.Diff(want, pub.sent, cmp.AllowUnexported(published{})); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint64{1, 2}, ack.acked); diff != "" {
		t.Errorf("acked mismatch (-want +got):\n%s", diff)
	}
}

func TestDLQRedriveKeepsMessageOnPublishError(t *testing.T) {
	ack := &fakeAck{}
	svc := &DLQService{
		ch:        &fakeGetter{queue: []amqp091.Delivery{deadDelivery(ack, 1, "a", "A")}},
		publisher: &fakeRawPublisher{err: errors.New("channel closed")},
		logger:    zap.NewNop(),
	}

	moved, err := svc.Redrive(context.Background(), "post-store-dead-queue", "post-store-queue", 10)
	if err == nil || moved != 0 {
		t.Fatalf("Redrive = (%d, %v), want error and 0 moved", moved, err)
	}
	if len(ack.requeued) != 1 || len(ack.acked) != 0 {
		t.Errorf("acked=%v requeued=%v", ack.acked, ack.requeued)
	}
}

func TestQueueArgs(t *testing.T) {
	topo := Topology{Exchange: DefaultExchange, DLXExchange: DefaultDLXExchange}
	q := QueueSpec{Name: "email-read-queue", DeadLetterQueue: "email-read-dead-queue", MaxReceiveCount: 3, Retention: 5 * 24 * time.Hour, DeadLetterRetention: 10 * 24 * time.Hour}

	args := QueueArgs(topo, q)
	if args["x-dead-letter-exchange"] != DefaultDLXExchange || args["x-dead-letter-routing-key"] != "email-read-dead-queue" {
		t.Errorf("QueueArgs() = %v", args)
	}
	if args["x-message-ttl"] != int64(432000000) {
		t.Errorf("x-message-ttl = %v, want 5 days in ms", args["x-message-ttl"])
	}
	if args["x-queue-type"] != "quorum" || args["x-delivery-limit"] != int64(2) {
		t.Errorf("delivery limit args = %v, want quorum with limit 2", args)
	}
}

func TestDLQPeekShowsExpiredReason(t *testing.T) {
	d := amqp091.Delivery{
		MessageId: "m-1",
		Headers: amqp091.Table{
			"x-death": []interface{}{
				amqp091.Table{"reason": "expired", "queue": "email-read-queue", "count": int64(1)},
			},
		},
	}
	got := toDeadLetter(d)
	if got.Reason != "expired" || got.SourceQueue != "email-read-queue" {
		t.Errorf("toDeadLetter = %+v", got)
	}
}
