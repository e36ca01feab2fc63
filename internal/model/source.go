package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSourceRef is returned when a source reference cannot be resolved.
var ErrInvalidSourceRef = errors.New("invalid source reference")

// SourceKind distinguishes pots from the main account.
type SourceKind string

// Source kinds.
const (
	SourcePot         SourceKind = "pot"
	SourceMainAccount SourceKind = "main_account"
)

// Names that legacy configs use to mean "the main account" instead of a pot ID.
var mainAccountAliases = map[string]bool{
	"main_account": true,
	"main account": true,
	"account":      true,
	"main":         true,
}

// SourceRef identifies either a pot or the main account.
// It is resolved once when a rule is parsed.
type SourceRef struct {
	Kind SourceKind
	ID   string // pot ID, or account ID for the main account (may be empty)
}

// Pot references a pot by ID.
func Pot(id string) SourceRef {
	return SourceRef{Kind: SourcePot, ID: id}
}

// MainAccount references the user's main account.
func MainAccount(accountID string) SourceRef {
	return SourceRef{Kind: SourceMainAccount, ID: accountID}
}

// IsPot reports whether the reference is a pot.
func (r SourceRef) IsPot() bool { return r.Kind == SourcePot }

// IsMainAccount reports whether the reference is the main account.
func (r SourceRef) IsMainAccount() bool { return r.Kind == SourceMainAccount }

// IsZero reports whether the reference is unset.
func (r SourceRef) IsZero() bool { return r.Kind == "" }

// Key returns a stable identifier used in dedup keys and caches.
func (r SourceRef) Key() string {
	if r.Kind == SourceMainAccount {
		if r.ID == "" {
			return "main"
		}
		return "main:" + r.ID
	}
	return "pot:" + r.ID
}

func (r SourceRef) String() string {
	if r.Kind == SourceMainAccount {
		return "main account"
	}
	return "pot " + r.ID
}

// ParseSourceRef resolves a legacy string reference.
func ParseSourceRef(s string) (SourceRef, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return SourceRef{}, fmt.Errorf("%w: empty", ErrInvalidSourceRef)
	}
	if mainAccountAliases[strings.ToLower(trimmed)] {
		return MainAccount(""), nil
	}
	return Pot(trimmed), nil
}

// UnmarshalJSON accepts a legacy string or {"kind": ..., "id": ...}.
func (r *SourceRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		ref, perr := ParseSourceRef(s)
		if perr != nil {
			return perr
		}
		*r = ref
		return nil
	}

	var obj struct {
		Kind      string `json:"kind"`
		ID        string `json:"id"`
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSourceRef, err)
	}
	switch SourceKind(obj.Kind) {
	case SourcePot:
		if obj.ID == "" {
			return fmt.Errorf("%w: pot without id", ErrInvalidSourceRef)
		}
		*r = Pot(obj.ID)
	case SourceMainAccount:
		id := obj.AccountID
		if id == "" {
			id = obj.ID
		}
		*r = MainAccount(id)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSourceRef, obj.Kind)
	}
	return nil
}

// MarshalJSON always writes the explicit object form.
func (r SourceRef) MarshalJSON() ([]byte, error) {
	if r.Kind == SourceMainAccount {
		return json.Marshal(struct {
			Kind      SourceKind `json:"kind"`
			AccountID string     `json:"account_id,omitempty"`
		}{r.Kind, r.ID})
	}
	return json.Marshal(struct {
		Kind SourceKind `json:"kind"`
		ID   string     `json:"id"`
	}{r.Kind, r.ID})
}
