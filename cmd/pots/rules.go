package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/the-pots-must-flow/internal/cli"
	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/Veraticus/the-pots-must-flow/internal/rules"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage automation rules",
		Long:  `List, add, enable, disable, and delete pot automation rules.`,
	}

	cmd.AddCommand(listRulesCmd())
	cmd.AddCommand(showRuleCmd())
	cmd.AddCommand(addRuleCmd())
	cmd.AddCommand(setRuleEnabledCmd("enable", "Enable a rule", true))
	cmd.AddCommand(setRuleEnabledCmd("disable", "Disable a rule so it never fires", false))
	cmd.AddCommand(deleteRuleCmd())

	return cmd
}

func defaultUser() string {
	if u := viper.GetString("user.id"); u != "" {
		return u
	}
	return "default"
}

func listRulesCmd() *cobra.Command {
	var (
		userID  string
		enabled bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := store.ListRules(ctx, userID, enabled)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}
			if len(list) == 0 {
				fmt.Println(cli.InfoStyle.Render("No rules found. Use 'pots rules add' to create one."))
				return nil
			}

			writeRules(os.Stdout, list)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Only list rules of this user")
	cmd.Flags().BoolVar(&enabled, "enabled", false, "Only list enabled rules")
	return cmd
}

func showRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a rule and its config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rule, err := store.GetRule(ctx, args[0])
			if err != nil {
				return err
			}

			writeRules(os.Stdout, []model.Rule{*rule})
			fmt.Println()

			var pretty any
			if err := json.Unmarshal(rule.Config, &pretty); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if _, err := rules.Parse(rule); err != nil {
				fmt.Println(cli.FormatWarning(err.Error()))
			}
			return nil
		},
	}
}

func addRuleCmd() *cobra.Command {
	var (
		name       string
		ruleType   string
		userID     string
		configPath string
		disabled   bool
	)

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a rule",
		Long: `Add a rule from a JSON config file. Use --config - to read from stdin.

Rule types: pot_sweep, autosorter, auto_topup, bills_pot_logic.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readConfig(cmd.InOrStdin(), configPath)
			if err != nil {
				return err
			}
			if name == "" {
				name = args[0]
			}
			if userID == "" {
				userID = defaultUser()
			}

			rule := &model.Rule{
				ID:      args[0],
				UserID:  userID,
				Name:    name,
				Type:    model.RuleType(ruleType),
				Config:  raw,
				Enabled: !disabled,
			}

			// Reject bad configs before they are stored.
			if _, err := rules.Parse(rule); err != nil {
				return common.NewUserError(fmt.Sprintf("invalid rule: %v", err), err)
			}

			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.CreateRule(ctx, rule); err != nil {
				if errors.Is(err, common.ErrDuplicateEntry) {
					return common.NewUserError(fmt.Sprintf("rule %q already exists", rule.ID), err)
				}
				return fmt.Errorf("failed to create rule: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Created %s rule %q", rule.Type, rule.ID)))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human readable name (defaults to the ID)")
	cmd.Flags().StringVar(&ruleType, "type", "", "Rule type")
	cmd.Flags().StringVar(&userID, "user", "", "Owner of the rule (defaults to user.id from config)")
	cmd.Flags().StringVar(&configPath, "config-file", "", "Path to the rule's JSON config, or - for stdin")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the rule disabled")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("config-file")

	return cmd
}

func readConfig(stdin io.Reader, path string) (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rule config: %w", err)
	}
	if !json.Valid(raw) {
		return nil, common.NewUserError("rule config is not valid JSON", common.ErrConfiguration)
	}
	return json.RawMessage(raw), nil
}

func setRuleEnabledCmd(verb, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SetRuleEnabled(ctx, args[0], enabled); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Rule %q %sd", args[0], verb)))
			return nil
		},
	}
}

func deleteRuleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.DeleteRule(ctx, args[0]); err != nil {
				return err
			}
			fmt.Println(cli.FormatSuccess(fmt.Sprintf("Deleted rule %q", args[0])))
			return nil
		},
	}
}
