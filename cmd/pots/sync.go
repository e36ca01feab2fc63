package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-pots-must-flow/internal/balance"
	"github.com/Veraticus/the-pots-must-flow/internal/cli"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
)

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh cached balances of the main account and every pot",
		Long: `Read every balance from Monzo and store it locally. Cached balances are
used when the bank cannot be reached during a rule run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			pots, err := a.bank.ListPots(ctx)
			if err != nil {
				return fmt.Errorf("failed to list pots: %w", err)
			}

			refs := []model.SourceRef{model.MainAccount("")}
			for _, p := range pots {
				if !p.Deleted {
					refs = append(refs, model.Pot(p.ID))
				}
			}

			provider := balance.NewProvider(a.bank, a.store,
				balance.WithConcurrency(viper.GetInt("engine.refresh_concurrency")))
			bar := progressbar.NewOptions(len(refs),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("[cyan][bold]Refreshing balances...[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(os.Stderr)
				}),
			)

			report := provider.RefreshEach(ctx, refs, func(ref model.SourceRef, _ model.BalanceSnapshot, err error) {
				if err != nil {
					slog.Warn("Failed to refresh balance", "ref", ref.Key(), "error", err)
				}
				if barErr := bar.Add(1); barErr != nil {
					slog.Warn("Failed to update progress bar", "error", barErr)
				}
			})
			failed := len(report.Failed)

			if failed > 0 {
				fmt.Println(cli.FormatWarning(fmt.Sprintf("Refreshed %d of %d balances", len(refs)-failed, len(refs))))
				return nil
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Refreshed %d balances", len(refs))))
			return nil
		},
	}
}
