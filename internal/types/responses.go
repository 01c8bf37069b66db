package types

import "time"

// ReconciliationStatusResponse summarises the latest reconciliation run for
// an account. Zero counts with an empty RunID mean no run has happened yet.
type ReconciliationStatusResponse struct {
	RunID           string    `json:"run_id,omitempty"`
	AccountID       string    `json:"account_id"`
	Status          string    `json:"status,omitempty"`
	MatchedCount    int       `json:"matched_count"`
	DivergenceCount int       `json:"divergence_count"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
	Stale           bool      `json:"stale"`
}

// GuardStatusResponse reports current drawdown and active breaches for an
// account.
type GuardStatusResponse struct {
	AccountID      string        `json:"account_id"`
	DrawdownPct    float64       `json:"drawdown_pct"`
	PeakEquity     float64       `json:"peak_equity"`
	Breached       bool          `json:"breached"`
	ActiveBreaches []GuardBreach `json:"active_breaches"`
	UpdatedAt      time.Time     `json:"updated_at,omitempty"`
	Stale          bool          `json:"stale"`
}
