package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/koval-yurko/emails-flow/internal/app"
	"github.com/koval-yurko/emails-flow/internal/pipeline"
	"github.com/koval-yurko/emails-flow/internal/repository"
	"github.com/koval-yurko/emails-flow/pkg/mq"
)

func topologyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Manage exchanges and queues",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "declare",
		Short: "Declare exchanges, work queues and dead-letter queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New("cli")
			if err != nil {
				return err
			}
			defer a.Close()

			t := a.Topology()
			if err := mq.DeclareTopologyURL(a.Config.MQ.URL, t); err != nil {
				return err
			}
			for _, q := range t.Queues {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (max receive %d)\n", q.Name, q.DeadLetterQueue, q.MaxReceiveCount)
			}
			return nil
		},
	})
	return cmd
}

// deadLetterView is the printable form of mq.DeadLetter.
type deadLetterView struct {
	MessageID   string    `json:"message_id"`
	Reason      string    `json:"reason,omitempty"`
	SourceQueue string    `json:"source_queue,omitempty"`
	DeathCount  int64     `json:"death_count"`
	PublishedAt time.Time `json:"published_at"`
	Body        string    `json:"body"`
}

func dlqCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and redrive dead-letter queues",
	}

	var peekLimit int
	peek := &cobra.Command{
		Use:   "peek <queue>",
		Short: "Print dead letters without removing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dlq, _, err := pipeline.DeadLetterSource(args[0])
			if err != nil {
				return err
			}
			return withDLQService(func(svc *mq.DLQService) error {
				ctx, stop := app.SignalContext()
				defer stop()

				letters, err := svc.Peek(ctx, dlq, peekLimit)
				if err != nil {
					return err
				}
				views := make([]deadLetterView, 0, len(letters))
				for _, l := range letters {
					views = append(views, deadLetterView{
						MessageID:   l.MessageID,
						Reason:      l.Reason,
						SourceQueue: l.SourceQueue,
						DeathCount:  l.DeathCount,
						PublishedAt: l.PublishedAt,
						Body:        string(l.Body),
					})
				}
				return printJSON(cmd, views)
			})
		},
	}
	peek.Flags().IntVar(&peekLimit, "limit", 10, "maximum messages to print")

	var redriveLimit int
	redrive := &cobra.Command{
		Use:   "redrive <queue>",
		Short: "Move dead letters back to their source queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dlq, source, err := pipeline.DeadLetterSource(args[0])
			if err != nil {
				return err
			}
			return withDLQService(func(svc *mq.DLQService) error {
				ctx, stop := app.SignalContext()
				defer stop()

				moved, err := svc.Redrive(ctx, dlq, source, redriveLimit)
				fmt.Fprintf(cmd.OutOrStdout(), "moved %d messages from %s to %s\n", moved, dlq, source)
				return err
			})
		},
	}
	redrive.Flags().IntVar(&redriveLimit, "limit", 100, "maximum messages to move")

	cmd.AddCommand(peek, redrive)
	return cmd
}

func withDLQService(fn func(svc *mq.DLQService) error) error {
	a, err := app.New("cli")
	if err != nil {
		return err
	}
	defer a.Close()

	publisher, err := a.Publisher()
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}

	conn, err := mq.NewConnection(a.Config.MQ.URL)
	if err != nil {
		return err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	return fn(mq.NewDLQService(ch, publisher, a.Logger))
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the emails, tags, posts and post_tags tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New("cli")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := app.SignalContext()
			defer stop()

			pool, err := a.DB(ctx)
			if err != nil {
				return err
			}
			if err := repository.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
