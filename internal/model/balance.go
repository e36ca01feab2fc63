package model

import (
	"time"

	"github.com/Veraticus/the-pots-must-flow/internal/money"
)

// Provenance records where a balance came from.
type Provenance string

// Balance provenance values.
const (
	ProvenanceLive  Provenance = "live"
	ProvenanceStale Provenance = "stale"
)

// BalanceSnapshot is a balance observed at a point in time.
type BalanceSnapshot struct {
	FetchedAt  time.Time
	Ref        SourceRef
	Provenance Provenance
	Amount     money.Money
}

// IsStale reports whether the snapshot came from the local cache.
func (b BalanceSnapshot) IsStale() bool {
	return b.Provenance == ProvenanceStale
}
