package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MQPublishSpan 在 MQ 发布时创建 span
func MQPublishSpan(ctx context.Context, exchange, routingKey string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mq.publish "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
		),
	)
}

// MQBatchSpan 覆盖一次批处理调用
func MQBatchSpan(ctx context.Context, queue string, size int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "mq.process "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", queue),
			attribute.Int("messaging.batch.message_count", size),
		),
	)
}

// MQItemSpan 批次中单条消息的 span，通过 link 关联发布方的 trace
func MQItemSpan(ctx context.Context, stage, messageID string, producer trace.SpanContext) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("emailsflow.stage", stage),
			attribute.String("messaging.message.id", messageID),
		),
	}
	if producer.IsValid() {
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: producer}))
	}
	return Tracer().Start(ctx, stage+".item", opts...)
}

// ExtractFromHeaders 从消息头中恢复发布方的 span context
func ExtractFromHeaders(ctx context.Context, headers map[string]interface{}) trace.SpanContext {
	ctx = GetTextMapPropagator().Extract(ctx, NewMQHeaderCarrier(headers))
	return trace.SpanContextFromContext(ctx)
}

// InjectToHeaders 把当前 trace context 写入消息头
func InjectToHeaders(ctx context.Context, headers map[string]interface{}) {
	GetTextMapPropagator().Inject(ctx, NewMQHeaderCarrier(headers))
}

// MQHeaderCarrier 实现 TextMapCarrier 接口，用于 RabbitMQ 消息头
type MQHeaderCarrier struct {
	headers map[string]interface{}
}

func NewMQHeaderCarrier(headers map[string]interface{}) *MQHeaderCarrier {
	if headers == nil {
		headers = make(map[string]interface{})
	}
	return &MQHeaderCarrier{headers: headers}
}

func (c *MQHeaderCarrier) Get(key string) string {
	if val, ok := c.headers[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func (c *MQHeaderCarrier) Set(key, value string) {
	c.headers[key] = value
}

func (c *MQHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for k := range c.headers {
		keys = append(keys, k)
	}
	return keys
}
