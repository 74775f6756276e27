package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReceiveCounter 在 Redis 中记录每条消息的投递次数，用于实现 max receive count
type ReceiveCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewReceiveCounter(rdb *redis.Client, ttl time.Duration) *ReceiveCounter {
	return &ReceiveCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet increments the receive count for a key and returns the new count.
func (r *ReceiveCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// 每次失败都刷新过期时间，与队列保留期一致
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Reset deletes the counter once the message is settled.
func (r *ReceiveCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// FormatReceiveKey formats the counter key for a queue and message id.
func FormatReceiveKey(queue, messageID string) string {
	return fmt.Sprintf("receive:%s:%s", queue, messageID)
}
