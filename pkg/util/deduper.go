package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce tries to acquire a dedup lock for handler + id.
// Returns true if this caller owns the work, false if another delivery holds it.
func (d *Deduper) AcquireOnce(ctx context.Context, handler, id string) bool {
	key := formatDedupKey(handler, id)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("handler", handler),
				zap.String("id", id),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated event",
			zap.String("handler", handler),
			zap.String("id", id),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops the lock so a later redelivery can retry the work.
func (d *Deduper) Release(ctx context.Context, handler, id string) {
	if err := d.rdb.Del(ctx, formatDedupKey(handler, id)).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup lock",
			zap.String("handler", handler),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

func formatDedupKey(handler, id string) string {
	return fmt.Sprintf("dedup:%s:%s", handler, id)
}
