package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Veraticus/the-pots-must-flow/internal/cli"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <rule-id>",
		Short: "Show recent executions of a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			results, err := store.ListExecutionResults(ctx, args[0], limit)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			if len(results) == 0 {
				fmt.Println(cli.InfoStyle.Render("No executions recorded yet."))
				return nil
			}

			for i := range results {
				fmt.Println(cli.SubtleStyle.Render(results[i].StartedAt.Local().Format("2006-01-02 15:04:05")))
				writeResult(os.Stdout, &results[i])
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of executions to show")
	return cmd
}
