package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "emailsflow",
		Short:        "Trigger producers and operate the emails-flow queues",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		listCommand(),
		scanCommand(),
		unseenCommand(),
		topologyCommand(),
		dlqCommand(),
		migrateCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
