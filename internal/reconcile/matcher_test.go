package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/position-guard/internal/types"
)

func openTrade(id uint, tradeID, symbol, direction string, volume, entryPrice float64, ticket int64, entry time.Time) types.Trade {
	trade := types.Trade{
		TradeID:      tradeID,
		AccountID:    "ACC-1",
		Symbol:       symbol,
		Direction:    direction,
		Volume:       volume,
		EntryPrice:   entryPrice,
		BrokerTicket: ticket,
		Status:       types.TradeStatusOpen,
		EntryTime:    entry,
	}
	trade.ID = id
	return trade
}

func TestMatch_WithinToleranceMatches(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	matcher := NewMatcher(DefaultTolerances())

	tests := []struct {
		name   string
		volume float64
		price  float64
	}{
		{"exact", 0.10, 1.0850},
		{"volume at tolerance", 0.11, 1.0850},
		{"price just inside tolerance", 0.10, 1.0860},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trades := []types.Trade{openTrade(1, "T1", "EURUSD", types.DirectionBuy, 0.10, 1.0850, 0, base)}
			positions := []types.BrokerPosition{{
				Ticket:    500,
				Symbol:    "EURUSD",
				Direction: types.DirectionBuy,
				Volume:    tt.volume,
				OpenPrice: tt.price,
			}}

			result := matcher.Match(trades, positions)

			assert.Equal(t, 1, result.MatchedCount())
			assert.Empty(t, result.Divergences)
		})
	}
}

func TestMatch_OutsideToleranceDiverges(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	matcher := NewMatcher(DefaultTolerances())

	trades := []types.Trade{openTrade(1, "T1", "EURUSD", types.DirectionBuy, 0.10, 1.0850, 0, base)}
	positions := []types.BrokerPosition{{
		Ticket:    500,
		Symbol:    "EURUSD",
		Direction: types.DirectionBuy,
		Volume:    0.50, // 0.40 lots off, far outside 0.01 tolerance
		OpenPrice: 1.0850,
	}}

	result := matcher.Match(trades, positions)

	assert.Zero(t, result.MatchedCount())
	require.Len(t, result.Divergences, 2)
	kinds := []string{result.Divergences[0].Kind, result.Divergences[1].Kind}
	assert.Contains(t, kinds, KindMissingOnBroker)
	assert.Contains(t, kinds, KindMissingInternally)
}

func TestMatch_TicketReferenceMismatchKinds(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	matcher := NewMatcher(DefaultTolerances())

	tests := []struct {
		name     string
		volume   float64
		price    float64
		wantKind string
	}{
		{"volume off", 0.20, 1.0850, KindVolumeMismatch},
		{"price off", 0.10, 1.1000, KindPriceMismatch},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			trades := []types.Trade{openTrade(1, "T1", "EURUSD", types.DirectionBuy, 0.10, 1.0850, 777, base)}
			positions := []types.BrokerPosition{{
				Ticket:    777,
				Symbol:    "EURUSD",
				Direction: types.DirectionBuy,
				Volume:    tt.volume,
				OpenPrice: tt.price,
			}}

			result := matcher.Match(trades, positions)

			assert.Zero(t, result.MatchedCount())
			require.Len(t, result.Divergences, 1)
			assert.Equal(t, tt.wantKind, result.Divergences[0].Kind)
			assert.Equal(t, "T1", result.Divergences[0].TradeID)
			assert.Equal(t, int64(777), result.Divergences[0].BrokerTicket)
		})
	}
}

func TestMatch_GreedyPairsOldestToClosestVolume(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	matcher := NewMatcher(DefaultTolerances())

	trades := []types.Trade{
		openTrade(2, "T2", "EURUSD", types.DirectionBuy, 0.20, 1.0850, 0, base.Add(time.Minute)),
		openTrade(1, "T1", "EURUSD", types.DirectionBuy, 0.10, 1.0850, 0, base),
	}
	positions := []types.BrokerPosition{
		{Ticket: 501, Symbol: "EURUSD", Direction: types.DirectionBuy, Volume: 0.20, OpenPrice: 1.0850},
		{Ticket: 502, Symbol: "EURUSD", Direction: types.DirectionBuy, Volume: 0.10, OpenPrice: 1.0850},
	}

	result := matcher.Match(trades, positions)

	require.Equal(t, 2, result.MatchedCount())
	byTrade := make(map[string]int64)
	for _, pair := range result.Matched {
		byTrade[pair.Trade.TradeID] = pair.Position.Ticket
	}
	// oldest trade T1 pairs with the closest-volume position 502
	assert.Equal(t, int64(502), byTrade["T1"])
	assert.Equal(t, int64(501), byTrade["T2"])
}

func TestMatch_DirectionSeparatesBuckets(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	matcher := NewMatcher(DefaultTolerances())

	trades := []types.Trade{openTrade(1, "T1", "EURUSD", types.DirectionBuy, 0.10, 1.0850, 0, base)}
	positions := []types.BrokerPosition{{
		Ticket:    500,
		Symbol:    "EURUSD",
		Direction: types.DirectionSell,
		Volume:    0.10,
		OpenPrice: 1.0850,
	}}

	result := matcher.Match(trades, positions)

	assert.Zero(t, result.MatchedCount())
	assert.Len(t, result.Divergences, 2)
}

func TestMatch_Deterministic(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	matcher := NewMatcher(DefaultTolerances())

	trades := []types.Trade{
		openTrade(3, "T3", "GBPUSD", types.DirectionSell, 0.30, 1.2650, 0, base),
		openTrade(1, "T1", "EURUSD", types.DirectionBuy, 0.10, 1.0850, 0, base),
		openTrade(2, "T2", "EURUSD", types.DirectionBuy, 0.10, 1.0850, 0, base),
	}
	positions := []types.BrokerPosition{
		{Ticket: 503, Symbol: "GBPUSD", Direction: types.DirectionSell, Volume: 0.30, OpenPrice: 1.2650},
		{Ticket: 501, Symbol: "EURUSD", Direction: types.DirectionBuy, Volume: 0.10, OpenPrice: 1.0850},
	}

	first := matcher.Match(trades, positions)
	second := matcher.Match(trades, positions)

	assert.Equal(t, first, second)

	// same entry time: lowest trade ID pairs first
	require.Equal(t, 2, first.MatchedCount())
	require.Len(t, first.Divergences, 1)
	assert.Equal(t, "T2", first.Divergences[0].TradeID)
	assert.Equal(t, KindMissingOnBroker, first.Divergences[0].Kind)
}

func TestMatch_EmptyInputs(t *testing.T) {
	t.Parallel()

	matcher := NewMatcher(DefaultTolerances())

	result := matcher.Match(nil, nil)

	assert.Zero(t, result.MatchedCount())
	assert.Empty(t, result.Divergences)
}
