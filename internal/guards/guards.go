package guards

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/position-guard/internal/types"
)

// Input carries one cycle's market view into guard evaluation. Ticks are
// keyed by symbol; a missing entry means no tick data for that instrument.
type Input struct {
	Snapshot  types.AccountSnapshot
	Positions []types.BrokerPosition
	Ticks     map[string][]types.Tick
}

// Guard is one risk rule evaluated against the cycle input.
type Guard interface {
	Name() string
	Evaluate(in Input) []types.GuardBreach
}

// DrawdownGuard evaluates account drawdown against the persisted peak-equity
// high-water mark.
type DrawdownGuard struct {
	WarningPct  float64
	CriticalPct float64
	state       *Database
}

func NewDrawdownGuard(warningPct, criticalPct float64, state *Database) *DrawdownGuard {
	return &DrawdownGuard{WarningPct: warningPct, CriticalPct: criticalPct, state: state}
}

func (g *DrawdownGuard) Name() string { return types.GuardTypeDrawdown }

// Evaluate updates the high-water mark (upward only) and compares drawdown
// against the thresholds. Boundaries are inclusive: drawdown equal to the
// critical threshold is CRITICAL.
func (g *DrawdownGuard) Evaluate(in Input) []types.GuardBreach {
	accountID := in.Snapshot.AccountID
	state, err := g.state.GetState(accountID)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to load guard state, skipping drawdown evaluation")
		return nil
	}

	equity := in.Snapshot.Equity
	if equity > state.PeakEquity {
		state.PeakEquity = equity
	}
	state.LastEquity = equity
	if err := g.state.SaveState(state); err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to persist peak equity")
	}

	if state.PeakEquity <= 0 {
		return nil
	}
	drawdown := (state.PeakEquity - equity) / state.PeakEquity

	switch {
	case drawdown >= g.CriticalPct:
		return []types.GuardBreach{{
			GuardType:     types.GuardTypeDrawdown,
			AccountID:     accountID,
			Severity:      types.SeverityCritical,
			Action:        types.ActionCloseAll,
			MeasuredValue: drawdown,
			Threshold:     g.CriticalPct,
			TriggeredAt:   time.Now(),
		}}
	case drawdown >= g.WarningPct:
		return []types.GuardBreach{{
			GuardType:     types.GuardTypeDrawdown,
			AccountID:     accountID,
			Severity:      types.SeverityWarning,
			Action:        types.ActionAlertOnly,
			MeasuredValue: drawdown,
			Threshold:     g.WarningPct,
			TriggeredAt:   time.Now(),
		}}
	}
	return nil
}

// MarketGuard flags abnormal tick behaviour per instrument: single-step price
// gaps and excessive spreads. Instruments with no tick data are skipped.
type MarketGuard struct {
	GapThresholdPct float64
	MaxSpreadPct    float64
}

func NewMarketGuard(gapThresholdPct, maxSpreadPct float64) *MarketGuard {
	return &MarketGuard{GapThresholdPct: gapThresholdPct, MaxSpreadPct: maxSpreadPct}
}

func (g *MarketGuard) Name() string { return types.GuardTypeMarketGap }

func (g *MarketGuard) Evaluate(in Input) []types.GuardBreach {
	accountID := in.Snapshot.AccountID
	var breaches []types.GuardBreach

	seen := make(map[string]bool)
	for _, pos := range in.Positions {
		if seen[pos.Symbol] {
			continue
		}
		seen[pos.Symbol] = true

		ticks, ok := in.Ticks[pos.Symbol]
		if !ok || len(ticks) == 0 {
			// no data for this instrument, skip rather than assume a breach
			continue
		}

		for i := 1; i < len(ticks); i++ {
			prev := mid(ticks[i-1])
			curr := mid(ticks[i])
			if prev <= 0 {
				continue
			}
			gap := abs(curr-prev) / prev
			if gap > g.GapThresholdPct {
				breaches = append(breaches, types.GuardBreach{
					GuardType:     types.GuardTypeMarketGap,
					AccountID:     accountID,
					Instrument:    pos.Symbol,
					Severity:      types.SeverityCritical,
					Action:        types.ActionCloseAll,
					MeasuredValue: gap,
					Threshold:     g.GapThresholdPct,
					TriggeredAt:   time.Now(),
				})
				break
			}
		}

		last := ticks[len(ticks)-1]
		if last.Bid > 0 {
			spread := (last.Ask - last.Bid) / last.Bid
			if spread > g.MaxSpreadPct {
				breaches = append(breaches, types.GuardBreach{
					GuardType:     types.GuardTypeSpread,
					AccountID:     accountID,
					Instrument:    pos.Symbol,
					Severity:      types.SeverityWarning,
					Action:        types.ActionAlertOnly,
					MeasuredValue: spread,
					Threshold:     g.MaxSpreadPct,
					TriggeredAt:   time.Now(),
				})
			}
		}
	}
	return breaches
}

func mid(t types.Tick) float64 { return (t.Bid + t.Ask) / 2 }

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
