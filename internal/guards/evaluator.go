package guards

import (
	"github.com/rs/zerolog/log"

	"github.com/ksred/position-guard/internal/types"
)

// Evaluator dispatches the fixed, ordered set of guards for one account
// cycle and maintains the persisted guard state. Drawdown runs first
// (account-wide, highest severity); the first CRITICAL breach short-circuits
// the remaining guards for the cycle.
type Evaluator struct {
	guards []Guard
	state  *Database
}

func NewEvaluator(state *Database, guards ...Guard) *Evaluator {
	return &Evaluator{guards: guards, state: state}
}

// Evaluate runs the guards in order against the cycle input, records the
// resulting breach set on the account's guard state, and returns it.
func (e *Evaluator) Evaluate(in Input) []types.GuardBreach {
	accountID := in.Snapshot.AccountID
	logger := log.With().Str("component", "guard_evaluator").Str("account_id", accountID).Logger()

	var breaches []types.GuardBreach
	for _, guard := range e.guards {
		result := guard.Evaluate(in)
		breaches = append(breaches, result...)

		critical := false
		for _, b := range result {
			logger.Warn().
				Str("guard_type", b.GuardType).
				Str("severity", b.Severity).
				Str("instrument", b.Instrument).
				Float64("measured_value", b.MeasuredValue).
				Float64("threshold", b.Threshold).
				Msg("guard breach detected")
			if b.Severity == types.SeverityCritical {
				critical = true
			}
		}
		if critical {
			// first critical breach wins, skip remaining guards this cycle
			break
		}
	}

	state, err := e.state.GetState(accountID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load guard state after evaluation")
		return breaches
	}
	state.Breached = hasCritical(breaches)
	state.SetBreaches(breaches)
	state.EvaluatedAt = in.Snapshot.Timestamp
	if err := e.state.SaveState(state); err != nil {
		logger.Error().Err(err).Msg("failed to persist guard state")
	}

	return breaches
}

// FetchFailed applies the hysteresis rule for a cycle whose snapshot could
// not be obtained: an account already breached stays breached and its stored
// breaches remain active; a healthy account raises nothing from missing data
// alone.
func (e *Evaluator) FetchFailed(accountID string) []types.GuardBreach {
	logger := log.With().Str("component", "guard_evaluator").Str("account_id", accountID).Logger()

	state, err := e.state.GetState(accountID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load guard state on fetch failure")
		return nil
	}
	if !state.Breached {
		return nil
	}

	logger.Warn().Msg("fetch failed with account in breached state, keeping breach active")
	return state.Breaches()
}

func hasCritical(breaches []types.GuardBreach) bool {
	for _, b := range breaches {
		if b.Severity == types.SeverityCritical {
			return true
		}
	}
	return false
}
