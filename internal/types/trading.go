package types

import (
	"time"

	"gorm.io/gorm"
)

// Trade statuses
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
)

// Position directions
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// Trade is the internally recorded position. Created when an order fills,
// mutated on close, never deleted.
type Trade struct {
	gorm.Model     `json:"-"`
	TradeID        string     `gorm:"uniqueIndex" json:"trade_id"`
	AccountID      string     `gorm:"index" json:"account_id"`
	Symbol         string     `json:"symbol"`
	Direction      string     `json:"direction"` // BUY or SELL
	Volume         float64    `json:"volume"`    // lots
	EntryPrice     float64    `json:"entry_price"`
	BrokerTicket   int64      `gorm:"index" json:"broker_ticket"`
	Status         string     `gorm:"index" json:"status"` // OPEN, CLOSED
	EntryTime      time.Time  `json:"entry_time"`
	ExitTime       *time.Time `json:"exit_time,omitempty"`
	RealizedProfit *float64   `json:"realized_profit,omitempty"`
}

// BrokerPosition is the broker's view of an open position. Fetched fresh
// every scheduler tick, never persisted verbatim.
type BrokerPosition struct {
	Ticket           int64   `json:"ticket"`
	Symbol           string  `json:"symbol"`
	Direction        string  `json:"direction"`
	Volume           float64 `json:"volume"`
	OpenPrice        float64 `json:"open_price"`
	CurrentPrice     float64 `json:"current_price"`
	Swap             float64 `json:"swap"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
}

// AccountSnapshot is the broker's account state at fetch time.
type AccountSnapshot struct {
	AccountID  string    `json:"account_id"`
	Equity     float64   `json:"equity"`
	Balance    float64   `json:"balance"`
	MarginUsed float64   `json:"margin_used"`
	Timestamp  time.Time `json:"timestamp"`
}

// Tick is a single bid/ask observation for an instrument.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Guard types
const (
	GuardTypeDrawdown  = "DRAWDOWN"
	GuardTypeMarketGap = "MARKET_GAP"
	GuardTypeSpread    = "SPREAD"
)

// Breach severities
const (
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// Breach actions
const (
	ActionCloseAll  = "CLOSE_ALL"
	ActionAlertOnly = "ALERT_ONLY"
)

// GuardBreach records a single guard rule violation. Transient: logged and
// mirrored into the guard state record, not stored long-term.
type GuardBreach struct {
	GuardType     string    `json:"guard_type"` // DRAWDOWN, MARKET_GAP, SPREAD
	AccountID     string    `json:"account_id"`
	Instrument    string    `json:"instrument,omitempty"`
	Severity      string    `json:"severity"` // WARNING, CRITICAL
	Action        string    `json:"action"`   // CLOSE_ALL, ALERT_ONLY
	MeasuredValue float64   `json:"measured_value"`
	Threshold     float64   `json:"threshold"`
	TriggeredAt   time.Time `json:"triggered_at"`
}

// CloseResult is the per-position outcome of a close attempt.
type CloseResult struct {
	PositionTicket int64   `json:"position_ticket"`
	TradeID        string  `json:"trade_id"`
	Succeeded      bool    `json:"succeeded"`
	Error          string  `json:"error,omitempty"`
	ClosePrice     float64 `json:"close_price,omitempty"`
	RealizedProfit float64 `json:"realized_profit,omitempty"`
}

// BulkCloseResult aggregates per-position close outcomes.
// Invariant: Total == Succeeded + Failed.
type BulkCloseResult struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []CloseResult `json:"results"`
}
