package guards

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/position-guard/internal/types"
)

// GuardState is the per-account guard record: the monotonic peak-equity
// high-water mark, the breached flag carried across cycles for hysteresis,
// and the breaches from the most recent evaluation.
type GuardState struct {
	gorm.Model     `json:"-"`
	AccountID      string    `gorm:"uniqueIndex" json:"account_id"`
	PeakEquity     float64   `json:"peak_equity"`
	LastEquity     float64   `json:"last_equity"`
	Breached       bool      `json:"breached"`
	ActiveBreaches string    `json:"-"` // JSON-encoded []types.GuardBreach
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// Breaches decodes the stored active breach list.
func (s *GuardState) Breaches() []types.GuardBreach {
	if s.ActiveBreaches == "" {
		return nil
	}
	var breaches []types.GuardBreach
	if err := json.Unmarshal([]byte(s.ActiveBreaches), &breaches); err != nil {
		return nil
	}
	return breaches
}

// SetBreaches encodes the active breach list for storage.
func (s *GuardState) SetBreaches(breaches []types.GuardBreach) {
	if len(breaches) == 0 {
		s.ActiveBreaches = ""
		return
	}
	data, err := json.Marshal(breaches)
	if err != nil {
		return
	}
	s.ActiveBreaches = string(data)
}

// DrawdownPct returns the current drawdown fraction against the high-water
// mark, zero when no peak has been recorded.
func (s *GuardState) DrawdownPct() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	return (s.PeakEquity - s.LastEquity) / s.PeakEquity
}
