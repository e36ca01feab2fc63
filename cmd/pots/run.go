package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-pots-must-flow/internal/cli"
	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/money"
	"github.com/Veraticus/the-pots-must-flow/internal/scheduler"
)

func runCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "run <rule-id>",
		Short: "Evaluate a rule and execute it if its trigger fires",
		Long: `Evaluate the rule's trigger and, when it fires, move the money.

With --force the trigger is ignored and the rule runs now. A forced run is
still deduplicated per minute, so repeating it by accident moves money once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.engine.EvaluateAndExecute
			if force {
				run = a.engine.ExecuteNow
			}
			result, err := run(ctx, args[0])
			return report(result, err)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Run now, ignoring the trigger")
	return cmd
}

func dryRunCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "dry-run <rule-id>",
		Short: "Show what a rule would transfer without moving money",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.engine.DryRun
			if force {
				run = a.engine.PreviewNow
			}
			result, err := run(ctx, args[0])
			return report(result, err)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Preview as if the trigger fired")
	return cmd
}

func shouldFireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "should-fire <rule-id>",
		Short: "Evaluate only a rule's trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			fire, reason, err := a.engine.ShouldFireNow(ctx, args[0])
			if err != nil {
				return err
			}
			if fire {
				fmt.Println(cli.FormatSuccess("fires: " + reason))
			} else {
				fmt.Println(cli.FormatInfo("holds: " + reason))
			}
			return nil
		},
	}
}

func runDueCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "run-due",
		Short: "Execute every enabled rule whose trigger fires",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.engine.RunDue(ctx, userID)
			if err != nil {
				return err
			}

			fired, failed := 0, 0
			moved := money.Zero
			for _, r := range results {
				if r.Status == model.StatusNotFired {
					continue
				}
				fired++
				if !r.AllSucceeded() {
					failed++
				}
				if !r.DryRun {
					moved = moved.Add(r.TotalMoved)
				}
				writeResult(os.Stdout, r)
			}
			if fired == 0 {
				fmt.Println(cli.InfoStyle.Render(fmt.Sprintf("No rules due (%d checked).", len(results))))
				return nil
			}

			summary := fmt.Sprintf("Rules checked: %d\nRules run: %d\nWith problems: %d\nMoved: %s",
				len(results), fired, failed, moved)
			fmt.Println(cli.RenderBox("Run complete", summary))
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Only run rules of this user (default: all users)")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		users    []string
		schedule string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run due rules on a schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := initApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("schedule") {
				if v := viper.GetString("watch.schedule"); v != "" {
					schedule = v
				}
			}

			w, err := scheduler.New(a.engine, users,
				scheduler.WithSchedule(schedule),
				scheduler.WithResultHandler(func(r *model.ExecutionResult) {
					writeResult(os.Stdout, r)
				}))
			if err != nil {
				return common.NewUserError(err.Error(), err)
			}

			fmt.Println(cli.FormatInfo(fmt.Sprintf("Watching rules on schedule %q. Press Ctrl+C to stop.", schedule)))
			return w.Run(ctx)
		},
	}

	cmd.Flags().StringSliceVar(&users, "user", nil, "Users to watch (default: all users)")
	cmd.Flags().StringVar(&schedule, "schedule", scheduler.DefaultSchedule, "Cron schedule")
	return cmd
}

// report prints a result and turns a rejected config into a user error.
func report(result *model.ExecutionResult, err error) error {
	if result != nil {
		writeResult(os.Stdout, result)
	}
	if err != nil {
		if errors.Is(err, common.ErrConfiguration) {
			return common.NewUserError("rule config is invalid; fix it with 'pots rules show'", err)
		}
		return err
	}
	if result == nil {
		return nil
	}
	switch {
	case result.Status == model.StatusFailed:
		return fmt.Errorf("rule %s failed", result.RuleID)
	case result.Status == model.StatusNotFired && result.TriggerReason == common.ErrRuleDisabled.Error():
		return common.NewUserError(
			fmt.Sprintf("rule %s is disabled; enable it with 'pots rules enable %s'", result.RuleID, result.RuleID),
			common.ErrRuleDisabled)
	}
	return nil
}
