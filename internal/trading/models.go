package trading

import (
	"time"

	"gorm.io/gorm"
)

// Close triggers
const (
	TriggerGuard = "GUARD"
	TriggerAPI   = "API"
)

// CloseAudit is the append-only record written atomically with every trade
// close. One row per successful close.
type CloseAudit struct {
	gorm.Model   `json:"-"`
	AuditID      string    `gorm:"uniqueIndex" json:"audit_id"`
	TradeID      string    `gorm:"index" json:"trade_id"`
	AccountID    string    `gorm:"index" json:"account_id"`
	BrokerTicket int64     `json:"broker_ticket"`
	Trigger      string    `json:"trigger"` // GUARD or API
	GuardType    string    `json:"guard_type,omitempty"`
	ClosePrice   float64   `json:"close_price"`
	Profit       float64   `json:"profit"`
	ClosedAt     time.Time `json:"closed_at"`
}
