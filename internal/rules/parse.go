// Package rules turns stored rule records into typed, validated configs.
// Every problem found here is a configuration error, reported before any
// balance is read or any money moves.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/Veraticus/the-pots-must-flow/internal/common"
	"github.com/Veraticus/the-pots-must-flow/internal/model"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Parsed is a rule with its config decoded. Exactly one of the typed
// config pointers is set, matching Rule.Type.
type Parsed struct {
	Rule       *model.Rule
	Sweep      *model.SweepConfig
	Autosorter *model.AutosorterConfig
	Topup      *model.TopupConfig
	Bills      *model.BillsConfig
	Trigger    model.TriggerConfig
}

// Parse decodes and validates a rule's config.
func Parse(rule *model.Rule) (*Parsed, error) {
	if rule == nil {
		return nil, common.NewConfigError("", "rule is nil")
	}
	if err := rule.Validate(); err != nil {
		return nil, &common.ConfigError{Reason: err.Error()}
	}

	p := &Parsed{Rule: rule}
	var err error

	switch rule.Type {
	case model.RuleTypePotSweep:
		p.Sweep, err = decodeAndValidate[model.SweepConfig](rule.Config)
		if err == nil {
			err = checkSweep(p.Sweep)
			p.Trigger = p.Sweep.Trigger
		}
	case model.RuleTypeAutosorter:
		p.Autosorter, err = decodeAndValidate[model.AutosorterConfig](rule.Config)
		if err == nil {
			err = checkAutosorter(p.Autosorter)
			p.Trigger = p.Autosorter.Trigger
		}
	case model.RuleTypeAutoTopup:
		p.Topup, err = decodeAndValidate[model.TopupConfig](rule.Config)
		if err == nil {
			err = checkTopup(p.Topup)
			p.Trigger = p.Topup.Trigger
		}
	case model.RuleTypeBillsPot:
		p.Bills, err = decodeAndValidate[model.BillsConfig](rule.Config)
		if err == nil {
			err = checkBills(p.Bills)
			p.Trigger = p.Bills.Trigger
		}
	}
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}

	if err := CheckTrigger(p.Trigger); err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return p, nil
}

// decodeAndValidate decodes strictly and runs struct tag validation.
func decodeAndValidate[T any](raw json.RawMessage) (*T, error) {
	var cfg T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, &common.ConfigError{Reason: err.Error()}
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, translate(err)
	}
	return &cfg, nil
}

// translate maps validator failures onto a ConfigError naming the first bad field.
func translate(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &common.ConfigError{Reason: err.Error()}
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	reason := fe.Tag()
	if fe.Param() != "" {
		reason += "=" + fe.Param()
	}
	return &common.ConfigError{Field: field, Reason: "failed " + reason}
}

func checkSweep(cfg *model.SweepConfig) error {
	if !cfg.Target.IsPot() {
		return common.NewConfigError("target", "sweep target must be a pot")
	}
	seen := make(map[string]int, len(cfg.Sources))
	for i, src := range cfg.Sources {
		field := fmt.Sprintf("sources[%d]", i)
		if src.Source.IsZero() {
			return common.NewConfigError(field+".source", "is required")
		}
		if prev, ok := seen[src.Source.Key()]; ok {
			return common.NewConfigError(field+".source", "%s is already swept by sources[%d]", src.Source, prev)
		}
		seen[src.Source.Key()] = i
		if src.Source == cfg.Target {
			return common.NewConfigError(field+".source", "must differ from the target")
		}
		switch src.Strategy {
		case model.StrategyFixedAmount:
			if src.Amount == nil || !src.Amount.IsPositive() {
				return common.NewConfigError(field+".amount", "fixed_amount needs a positive amount")
			}
		case model.StrategyPercentage:
			if src.Percentage == nil {
				return common.NewConfigError(field+".percentage", "percentage strategy needs a percentage")
			}
		case model.StrategyRemainingBalance:
			if src.MinBalance != nil && src.MinBalance.Minor() < 0 {
				return common.NewConfigError(field+".min_balance", "must not be negative")
			}
		}
	}
	if cfg.MinTransfer != nil && cfg.MinTransfer.Minor() < 0 {
		return common.NewConfigError("min_transfer", "must not be negative")
	}
	return nil
}

func checkAutosorter(cfg *model.AutosorterConfig) error {
	seen := map[string]string{cfg.HoldingPot: "holding_pot"}
	claim := func(potID, field string) error {
		if prev, ok := seen[potID]; ok {
			return common.NewConfigError(field, "pot %s already used by %s", potID, prev)
		}
		seen[potID] = field
		return nil
	}

	if cfg.BillsPot != "" {
		if err := claim(cfg.BillsPot, "bills_pot"); err != nil {
			return err
		}
	}
	for i, p := range cfg.PriorityPots {
		field := fmt.Sprintf("priority_pots[%d]", i)
		if err := claim(p.PotID, field); err != nil {
			return err
		}
		if p.Amount == nil || !p.Amount.IsPositive() {
			return common.NewConfigError(field+".amount", "priority pots need a positive amount")
		}
	}
	for i, p := range cfg.GoalPots {
		if err := claim(p.PotID, fmt.Sprintf("goal_pots[%d]", i)); err != nil {
			return err
		}
	}
	for i, p := range cfg.InvestmentPots {
		field := fmt.Sprintf("investment_pots[%d]", i)
		if err := claim(p.PotID, field); err != nil {
			return err
		}
		if p.Amount != nil && p.Amount.Minor() < 0 {
			return common.NewConfigError(field+".amount", "must not be negative")
		}
	}
	return nil
}

func checkTopup(cfg *model.TopupConfig) error {
	if cfg.Source.IsZero() {
		return common.NewConfigError("source", "is required")
	}
	if !cfg.Target.IsPot() {
		return common.NewConfigError("target", "top-up target must be a pot")
	}
	if cfg.Source == cfg.Target {
		return common.NewConfigError("target", "must differ from the source")
	}
	if !cfg.Amount.IsPositive() {
		return common.NewConfigError("amount", "must be positive")
	}
	if cfg.TargetBalance != nil && !cfg.TargetBalance.IsPositive() {
		return common.NewConfigError("target_balance", "must be positive")
	}
	return nil
}

func checkBills(cfg *model.BillsConfig) error {
	if cfg.Source.IsZero() {
		return common.NewConfigError("source", "is required")
	}
	if cfg.Source == model.Pot(cfg.BillsPot) {
		return common.NewConfigError("source", "must differ from the bills pot")
	}
	return nil
}
