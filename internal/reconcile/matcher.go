package reconcile

import (
	"fmt"
	"math"
	"sort"

	"github.com/ksred/position-guard/internal/types"
)

// Tolerances bound how far an internal trade and a broker position may
// differ and still reconcile.
type Tolerances struct {
	Volume   float64 // absolute, in lots
	PricePct float64 // relative to the internal entry price
}

// DefaultTolerances returns the operational defaults: 0.01 lots and 0.1%.
func DefaultTolerances() Tolerances {
	return Tolerances{Volume: 0.01, PricePct: 0.001}
}

// Matcher pairs internal OPEN trades with broker positions. Match is a pure
// function: deterministic for identical inputs, no side effects.
type Matcher struct {
	tol Tolerances
}

func NewMatcher(tol Tolerances) *Matcher {
	return &Matcher{tol: tol}
}

type bucketKey struct {
	symbol    string
	direction string
}

// Match reconciles trades against positions. Pairing happens per
// (symbol, direction) bucket: positions carrying a trade's ticket reference
// pair first, then the oldest unmatched trade pairs greedily with the
// closest-volume position. Ties break on lowest trade ID, then lowest
// ticket.
func (m *Matcher) Match(internal []types.Trade, positions []types.BrokerPosition) Result {
	var result Result

	trades := make([]types.Trade, len(internal))
	copy(trades, internal)
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].EntryTime.Equal(trades[j].EntryTime) {
			return trades[i].EntryTime.Before(trades[j].EntryTime)
		}
		return trades[i].ID < trades[j].ID
	})

	tradeBuckets := make(map[bucketKey][]types.Trade)
	for _, t := range trades {
		key := bucketKey{t.Symbol, t.Direction}
		tradeBuckets[key] = append(tradeBuckets[key], t)
	}

	posBuckets := make(map[bucketKey][]types.BrokerPosition)
	for _, p := range positions {
		key := bucketKey{p.Symbol, p.Direction}
		posBuckets[key] = append(posBuckets[key], p)
	}
	for key := range posBuckets {
		bucket := posBuckets[key]
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Ticket < bucket[j].Ticket })
	}

	keys := make([]bucketKey, 0, len(tradeBuckets)+len(posBuckets))
	seen := make(map[bucketKey]bool)
	for _, t := range trades {
		key := bucketKey{t.Symbol, t.Direction}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	for key := range posBuckets {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].direction < keys[j].direction
	})

	for _, key := range keys {
		m.matchBucket(key, tradeBuckets[key], posBuckets[key], &result)
	}

	return result
}

func (m *Matcher) matchBucket(key bucketKey, trades []types.Trade, positions []types.BrokerPosition, result *Result) {
	usedPos := make([]bool, len(positions))
	usedTrade := make([]bool, len(trades))

	// Pass 1: positions referenced by ticket pair directly. In-tolerance
	// pairs match; out-of-tolerance pairs are volume/price mismatches but
	// still consume both sides.
	for ti, trade := range trades {
		if trade.BrokerTicket == 0 {
			continue
		}
		for pi, pos := range positions {
			if usedPos[pi] || pos.Ticket != trade.BrokerTicket {
				continue
			}
			usedTrade[ti] = true
			usedPos[pi] = true

			if kind, detail := m.pairMismatch(trade, pos); kind != "" {
				result.Divergences = append(result.Divergences, Divergence{
					AccountID:    trade.AccountID,
					Kind:         kind,
					Symbol:       trade.Symbol,
					TradeID:      trade.TradeID,
					BrokerTicket: pos.Ticket,
					Detail:       detail,
				})
			} else {
				result.Matched = append(result.Matched, MatchedPair{Trade: trade, Position: pos})
			}
			break
		}
	}

	// Pass 2: greedy volume pairing, oldest trade first.
	for ti, trade := range trades {
		if usedTrade[ti] {
			continue
		}
		best := -1
		bestDiff := math.MaxFloat64
		for pi, pos := range positions {
			if usedPos[pi] {
				continue
			}
			diff := math.Abs(trade.Volume - pos.Volume)
			if diff < bestDiff {
				bestDiff = diff
				best = pi
			}
		}
		if best >= 0 {
			pos := positions[best]
			if kind, _ := m.pairMismatch(trade, pos); kind == "" {
				usedTrade[ti] = true
				usedPos[best] = true
				result.Matched = append(result.Matched, MatchedPair{Trade: trade, Position: pos})
				continue
			}
		}
		result.Divergences = append(result.Divergences, Divergence{
			AccountID: trade.AccountID,
			Kind:      KindMissingOnBroker,
			Symbol:    trade.Symbol,
			TradeID:   trade.TradeID,
			Detail:    fmt.Sprintf("no broker position within tolerance for %s %s %.2f lots", trade.Symbol, trade.Direction, trade.Volume),
		})
	}

	for pi, pos := range positions {
		if usedPos[pi] {
			continue
		}
		result.Divergences = append(result.Divergences, Divergence{
			Kind:         KindMissingInternally,
			Symbol:       pos.Symbol,
			BrokerTicket: pos.Ticket,
			Detail:       fmt.Sprintf("broker holds %s %s %.2f lots with no internal trade", pos.Symbol, pos.Direction, pos.Volume),
		})
	}
}

// pairMismatch returns the divergence kind for an out-of-tolerance pair, or
// empty strings when the pair reconciles.
func (m *Matcher) pairMismatch(trade types.Trade, pos types.BrokerPosition) (kind, detail string) {
	if math.Abs(trade.Volume-pos.Volume) > m.tol.Volume {
		return KindVolumeMismatch,
			fmt.Sprintf("internal %.2f lots vs broker %.2f lots", trade.Volume, pos.Volume)
	}
	if trade.EntryPrice > 0 && math.Abs(trade.EntryPrice-pos.OpenPrice)/trade.EntryPrice > m.tol.PricePct {
		return KindPriceMismatch,
			fmt.Sprintf("internal entry %.5f vs broker open %.5f", trade.EntryPrice, pos.OpenPrice)
	}
	return "", ""
}
