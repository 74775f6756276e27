// Package app builds the shared clients of the emails-flow binaries from
// config. Each client is created on first use and closed by App.Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/internal/config"
	"github.com/koval-yurko/emails-flow/internal/llm"
	"github.com/koval-yurko/emails-flow/internal/mailbox"
	"github.com/koval-yurko/emails-flow/internal/pipeline"
	pkgconfig "github.com/koval-yurko/emails-flow/pkg/config"
	"github.com/koval-yurko/emails-flow/pkg/db"
	"github.com/koval-yurko/emails-flow/pkg/logger"
	"github.com/koval-yurko/emails-flow/pkg/mq"
	"github.com/koval-yurko/emails-flow/pkg/otel"
	redisclient "github.com/koval-yurko/emails-flow/pkg/redis"
	"github.com/koval-yurko/emails-flow/pkg/util"
)

// Version is set at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

const (
	// 计数器要活得比队列里的消息久
	receiveCounterTTL = 6 * 24 * time.Hour
	dedupTTL          = 10 * time.Minute
)

type App struct {
	Config *config.Config
	Logger *zap.Logger

	pool      *pgxpool.Pool
	rdb       *redis.Client
	publisher *mq.Publisher
	mailbox   *mailbox.Client

	closers []func()
}

// New loads config, builds the logger and starts tracing for the named service.
func New(service string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.NewLogger(cfg.Log.Level).With(zap.String("service", service))
	a := &App{Config: cfg, Logger: log}

	shutdown, err := otel.Init(otel.Config{
		ServiceName:    "emails-flow-" + service,
		ServiceVersion: Version,
		Environment:    pkgconfig.GetConfigEnv(),
		Endpoint:       cfg.OTel.Endpoint,
		Enabled:        cfg.OTel.Enabled,
		SampleRatio:    cfg.OTel.SampleRatio,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.onClose(shutdown)
	a.onClose(func() { _ = log.Sync() })
	return a, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases every client in reverse creation order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) DB(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := db.NewConnection(ctx, a.Config.DB, a.Logger)
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.onClose(pool.Close)
	return pool, nil
}

func (a *App) Redis(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}
	rdb, err := redisclient.NewRedisClient(ctx, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	a.rdb = rdb
	a.onClose(func() { _ = rdb.Close() })
	return rdb, nil
}

// ReceiveCounter backs the max receive count of every consumer stage.
func (a *App) ReceiveCounter(ctx context.Context) (*util.ReceiveCounter, error) {
	rdb, err := a.Redis(ctx)
	if err != nil {
		return nil, err
	}
	return util.NewReceiveCounter(rdb, receiveCounterTTL), nil
}

// Deduper returns nil when Redis is unreachable; the analyzer then runs without the lock.
func (a *App) Deduper(ctx context.Context) *util.Deduper {
	rdb, err := a.Redis(ctx)
	if err != nil {
		a.Logger.Warn("Redis unavailable, analyzer dedup disabled", zap.Error(err))
		return nil
	}
	return util.NewDeduper(rdb, dedupTTL, a.Logger)
}

func (a *App) Topology() mq.Topology {
	return pipeline.Topology(a.Config.MQ.Exchange, a.Config.MQ.DLXExchange)
}

func (a *App) Publisher() (*mq.Publisher, error) {
	if a.publisher != nil {
		return a.publisher, nil
	}
	p, err := mq.NewPublisher(a.Config.MQ.URL, a.Config.MQ.Exchange)
	if err != nil {
		return nil, err
	}
	a.publisher = p
	a.onClose(p.Close)
	return p, nil
}

func (a *App) Mailbox() *mailbox.Client {
	if a.mailbox == nil {
		mb := mailbox.NewClient(a.Config.IMAP, a.Logger)
		a.mailbox = mb
		a.onClose(func() {
			if err := mb.Close(); err != nil {
				a.Logger.Warn("Failed to close mailbox", zap.Error(err))
			}
		})
	}
	return a.mailbox
}

func (a *App) LLM() (*llm.Client, error) {
	provider, err := llm.NewProvider(a.Config.LLM)
	if err != nil {
		return nil, err
	}
	return llm.NewClient(provider, a.Config.LLM.RatePerMinute, a.Logger), nil
}

// ServeMetrics exposes /metrics on metrics.addr until ctx is done. No-op when the address is empty.
func (a *App) ServeMetrics(ctx context.Context) {
	addr := a.Config.Metrics.Addr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info("Metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
