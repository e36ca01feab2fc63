package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RuleType names the kind of automation a rule performs.
type RuleType string

// Supported rule types.
const (
	RuleTypePotSweep   RuleType = "pot_sweep"
	RuleTypeAutosorter RuleType = "autosorter"
	RuleTypeAutoTopup  RuleType = "auto_topup"
	RuleTypeBillsPot   RuleType = "bills_pot_logic"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypePotSweep, RuleTypeAutosorter, RuleTypeAutoTopup, RuleTypeBillsPot:
		return true
	}
	return false
}

// Rule is a user-defined automation with a type-specific JSON config.
type Rule struct {
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastExecuted *time.Time
	ID           string
	UserID       string
	Name         string
	Type         RuleType
	Config       json.RawMessage
	Enabled      bool
}

// Validate checks the fields every rule must carry. The type-specific
// config is checked separately when the rule is parsed.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule ID is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("user ID is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("unknown rule type %q", r.Type)
	}
	if len(r.Config) == 0 || !json.Valid(r.Config) {
		return fmt.Errorf("rule config must be valid JSON")
	}
	return nil
}
