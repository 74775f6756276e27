package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/koval-yurko/emails-flow/internal/app"
	"github.com/koval-yurko/emails-flow/internal/repository"
	"github.com/koval-yurko/emails-flow/internal/service"
)

func listCommand() *cobra.Command {
	var req service.ListRequest
	var fromFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Queue every unseen email of a folder for storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New("lister")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := app.SignalContext()
			defer stop()

			publisher, err := a.Publisher()
			if err != nil {
				return fmt.Errorf("init publisher: %w", err)
			}
			if cmd.Flags().Changed("from-filter") {
				req.FromFilter = &fromFilter
			}

			lister := service.NewListerService(a.Mailbox(), publisher, a.Config.Lister, a.Logger)
			summary, err := lister.List(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}

	cmd.Flags().StringVar(&req.Folder, "folder", "", "mailbox folder (default from config)")
	cmd.Flags().StringVar(&fromFilter, "from-filter", "", "sender filter; pass an empty value to disable (default from config)")
	return cmd
}

func scanCommand() *cobra.Command {
	var req service.ScanRequest

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Queue stored emails that have not been analyzed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Count < 0 {
				return fmt.Errorf("--count must not be negative")
			}

			a, err := app.New("scanner")
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
			publisher, err := a.Publisher()
			if err != nil {
				return fmt.Errorf("init publisher: %w", err)
			}

			scanner := service.NewScannerService(repository.NewEmailRepository(pool), publisher, a.Config.Scanner.Count, a.Logger)
			summary, err := scanner.Scan(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}

	cmd.Flags().IntVar(&req.Count, "count", 0, "maximum emails to queue (default from config)")
	return cmd
}

func unseenCommand() *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "unseen <uid>",
		Short: "Clear the seen flag of a message so the next list run picks it up again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid uid %q: %w", args[0], err)
			}

			a, err := app.New("cli")
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := app.SignalContext()
			defer stop()

			if folder == "" {
				folder = a.Config.Lister.Folder
			}
			if err := a.Mailbox().MarkUnseen(ctx, folder, uint32(uid)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d in %s as unseen\n", uid, folder)
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "mailbox folder (default from config)")
	return cmd
}
