package reconcile

import (
	"time"

	"gorm.io/gorm"

	"github.com/ksred/position-guard/internal/types"
)

// Run statuses
const (
	StatusOK          = "OK"
	StatusFetchFailed = "FETCH_FAILED"
)

// Divergence kinds
const (
	KindMissingOnBroker   = "MISSING_ON_BROKER"
	KindMissingInternally = "MISSING_INTERNALLY"
	KindVolumeMismatch    = "VOLUME_MISMATCH"
	KindPriceMismatch     = "PRICE_MISMATCH"
)

// ReconciliationLog is the append-only record of one scheduler run for one
// account. Immutable once written.
type ReconciliationLog struct {
	gorm.Model      `json:"-"`
	RunID           string       `gorm:"uniqueIndex" json:"run_id"`
	AccountID       string       `gorm:"index" json:"account_id"`
	Status          string       `json:"status"` // OK, FETCH_FAILED
	MatchedCount    int          `json:"matched_count"`
	DivergenceCount int          `json:"divergence_count"`
	Timestamp       time.Time    `json:"timestamp"`
	Divergences     []Divergence `gorm:"foreignKey:RunID;references:RunID" json:"divergences,omitempty"`
}

// Divergence is one internal-vs-broker mismatch found during a run.
type Divergence struct {
	gorm.Model   `json:"-"`
	RunID        string `gorm:"index" json:"run_id"`
	AccountID    string `gorm:"index" json:"account_id"`
	Kind         string `json:"kind"` // MISSING_ON_BROKER, MISSING_INTERNALLY, VOLUME_MISMATCH, PRICE_MISMATCH
	Symbol       string `json:"symbol"`
	TradeID      string `json:"trade_id,omitempty"`
	BrokerTicket int64  `json:"broker_ticket,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// MatchedPair couples an internal trade with the broker position it
// reconciled against.
type MatchedPair struct {
	Trade    types.Trade
	Position types.BrokerPosition
}

// Result is the outcome of matching one account's internal trades against
// the broker snapshot. Transient; the caller persists it as a
// ReconciliationLog.
type Result struct {
	Matched     []MatchedPair
	Divergences []Divergence
}

// MatchedCount returns the number of in-tolerance pairs.
func (r *Result) MatchedCount() int { return len(r.Matched) }
