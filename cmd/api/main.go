package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/internal/app"
	"github.com/koval-yurko/emails-flow/internal/httpserver"
	"github.com/koval-yurko/emails-flow/internal/repository"
	"github.com/koval-yurko/emails-flow/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	a, err := app.New("api")
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.Logger
	cfg := a.Config

	ctx, stop := app.SignalContext()
	defer stop()

	// Init DB
	pool, err := a.DB(ctx)
	if err != nil {
		return err
	}

	// Init RabbitMQ Publisher
	publisher, err := a.Publisher()
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}

	// Init Services
	lister := service.NewListerService(a.Mailbox(), publisher, cfg.Lister, logger)
	scanner := service.NewScannerService(repository.NewEmailRepository(pool), publisher, cfg.Scanner.Count, logger)

	checks := map[string]httpserver.ReadinessCheck{
		"postgres": pool.Ping,
		"rabbitmq": func(context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("publisher not connected")
			}
			return nil
		},
	}
	if rdb, err := a.Redis(ctx); err == nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		logger.Warn("Redis unavailable, skipping readiness check", zap.Error(err))
	}

	router := httpserver.NewRouter(httpserver.NewTriggerHandler(lister, scanner, logger), checks)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server start failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
