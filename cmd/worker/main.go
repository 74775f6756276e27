package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/internal/app"
	"github.com/koval-yurko/emails-flow/internal/mqhandler"
	"github.com/koval-yurko/emails-flow/internal/pipeline"
	"github.com/koval-yurko/emails-flow/internal/repository"
	"github.com/koval-yurko/emails-flow/pkg/mq"
)

// handlerFactory builds the batch handler of one stage from the shared clients.
type handlerFactory func(ctx context.Context, a *app.App) (mq.BatchHandler, error)

func main() {
	rootCmd := &cobra.Command{
		Use:          "worker",
		Short:        "Run one emails-flow consumer stage",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		stageCommand(pipeline.StageEmailStore, "Store emails listed from the mailbox", emailStoreHandler),
		stageCommand(pipeline.StageEmailAnalyze, "Extract posts from stored emails with the LLM", emailAnalyzeHandler),
		stageCommand(pipeline.StagePostStore, "Persist extracted posts and their tags", postStoreHandler),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func stageCommand(stage, short string, build handlerFactory) *cobra.Command {
	return &cobra.Command{
		Use:   stage,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStage(stage, build)
		},
	}
}

func runStage(stage string, build handlerFactory) error {
	stageCfg, err := pipeline.StageConfig(stage)
	if err != nil {
		return err
	}

	a, err := app.New("worker-" + stage)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.Logger

	ctx, stop := app.SignalContext()
	defer stop()

	counter, err := a.ReceiveCounter(ctx)
	if err != nil {
		return fmt.Errorf("receive counter: %w", err)
	}

	handler, err := build(ctx, a)
	if err != nil {
		return err
	}

	logger.Info("Initializing consumer",
		zap.String("stage", stage),
		zap.String("queue", stageCfg.Queue.Name),
		zap.Int("batch_size", stageCfg.BatchSize),
		zap.Int("concurrency", stageCfg.Concurrency),
	)
	consumer, err := mq.NewBatchConsumer(a.Config.MQ.URL, a.Topology(), stageCfg, counter, logger)
	if err != nil {
		return fmt.Errorf("init %s consumer: %w", stage, err)
	}
	defer consumer.Close()
	consumer.SetHandler(handler)

	a.ServeMetrics(ctx)

	logger.Info("Worker is ready to process messages", zap.String("stage", stage))
	return consumer.Run(ctx)
}

func emailStoreHandler(ctx context.Context, a *app.App) (mq.BatchHandler, error) {
	pool, err := a.DB(ctx)
	if err != nil {
		return nil, err
	}
	h := mqhandler.NewEmailStoreHandler(a.Mailbox(), repository.NewEmailRepository(pool), a.Logger)
	return h.HandleBatch, nil
}

func emailAnalyzeHandler(ctx context.Context, a *app.App) (mq.BatchHandler, error) {
	pool, err := a.DB(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.Publisher()
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	extractor, err := a.LLM()
	if err != nil {
		return nil, fmt.Errorf("init llm: %w", err)
	}

	var deduper mqhandler.Deduper
	if d := a.Deduper(ctx); d != nil {
		deduper = d
	}

	h := mqhandler.NewEmailAnalyzeHandler(repository.NewEmailRepository(pool), extractor, publisher, deduper, a.Logger)
	return h.HandleBatch, nil
}

func postStoreHandler(ctx context.Context, a *app.App) (mq.BatchHandler, error) {
	pool, err := a.DB(ctx)
	if err != nil {
		return nil, err
	}
	h := mqhandler.NewPostStoreHandler(repository.NewTagRepository(pool), repository.NewPostRepository(pool), a.Logger)
	return h.HandleBatch, nil
}
