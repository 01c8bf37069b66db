package closer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ksred/position-guard/internal/broker"
	"github.com/ksred/position-guard/internal/trading"
	"github.com/ksred/position-guard/internal/types"
)

type stubBroker struct {
	closeFn func(ticket int64) (broker.CloseOutcome, error)
	calls   int
}

func (s *stubBroker) FetchPositions(context.Context, string) ([]types.BrokerPosition, types.AccountSnapshot, error) {
	return nil, types.AccountSnapshot{}, nil
}

func (s *stubBroker) ClosePosition(_ context.Context, ticket int64) (broker.CloseOutcome, error) {
	s.calls++
	return s.closeFn(ticket)
}

func newTestStore(t *testing.T) *trading.Database {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Trade{}, &trading.CloseAudit{}))
	return trading.NewDatabase(db)
}

func seedTrade(t *testing.T, store *trading.Database, tradeID string, ticket int64) types.Trade {
	t.Helper()
	trade := types.Trade{
		TradeID:      tradeID,
		AccountID:    "ACC-1",
		Symbol:       "EURUSD",
		Direction:    types.DirectionBuy,
		Volume:       0.10,
		EntryPrice:   1.0850,
		BrokerTicket: ticket,
		Status:       types.TradeStatusOpen,
		EntryTime:    time.Now(),
	}
	require.NoError(t, store.CreateTrade(&trade))
	return trade
}

func TestCloseAll_EmptyList(t *testing.T) {
	store := newTestStore(t)
	c := New(&stubBroker{}, store, time.Second)

	result := c.CloseAll(context.Background(), nil, trading.TriggerGuard, types.GuardTypeDrawdown)

	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, result.Total, result.Succeeded+result.Failed)
}

func TestCloseAll_FailureIsolation(t *testing.T) {
	store := newTestStore(t)
	trades := []types.Trade{
		seedTrade(t, store, "T1", 101),
		seedTrade(t, store, "T2", 102),
		seedTrade(t, store, "T3", 103),
	}

	stub := &stubBroker{closeFn: func(ticket int64) (broker.CloseOutcome, error) {
		if ticket == 102 {
			return broker.CloseOutcome{}, broker.ErrUnavailable
		}
		return broker.CloseOutcome{Ticket: ticket, ClosePrice: 1.0900, Profit: 50, ClosedAt: time.Now()}, nil
	}}
	c := New(stub, store, time.Second)

	result := c.CloseAll(context.Background(), trades, trading.TriggerGuard, types.GuardTypeDrawdown)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, result.Total, result.Succeeded+result.Failed)
	assert.Equal(t, 3, stub.calls, "one failure must not abort the remaining closes")

	for _, tc := range []struct {
		tradeID    string
		wantStatus string
	}{
		{"T1", types.TradeStatusClosed},
		{"T2", types.TradeStatusOpen},
		{"T3", types.TradeStatusClosed},
	} {
		trade, err := store.GetTrade(tc.tradeID)
		require.NoError(t, err)
		assert.Equal(t, tc.wantStatus, trade.Status, tc.tradeID)
	}
}

func TestClose_IdempotentOnAlreadyClosedTicket(t *testing.T) {
	store := newTestStore(t)
	trade := seedTrade(t, store, "T1", 101)

	outcome := broker.CloseOutcome{Ticket: 101, ClosePrice: 1.0970, Profit: 120, ClosedAt: time.Now()}
	first := true
	stub := &stubBroker{closeFn: func(int64) (broker.CloseOutcome, error) {
		if first {
			first = false
			return outcome, nil
		}
		repeated := outcome
		repeated.AlreadyClosed = true
		return repeated, nil
	}}
	c := New(stub, store, time.Second)

	result1 := c.Close(context.Background(), trade, trading.TriggerAPI)
	assert.True(t, result1.Succeeded)

	closed, err := store.GetTrade("T1")
	require.NoError(t, err)

	result2 := c.Close(context.Background(), *closed, trading.TriggerAPI)
	assert.True(t, result2.Succeeded)

	// no duplicate realized profit accrual and a single audit row
	final, err := store.GetTrade("T1")
	require.NoError(t, err)
	require.NotNil(t, final.RealizedProfit)
	assert.InDelta(t, 120, *final.RealizedProfit, 1e-9)

	audits, err := store.GetCloseAudits("ACC-1")
	require.NoError(t, err)
	assert.Len(t, audits, 1)
}

func TestClose_UnknownTicketOnClosedTradeIsNoOp(t *testing.T) {
	store := newTestStore(t)
	seedTrade(t, store, "T1", 101)

	require.NoError(t, store.CloseTradeWithAudit("T1", trading.TriggerAPI, "", broker.CloseOutcome{
		Ticket: 101, ClosePrice: 1.0900, Profit: 50, ClosedAt: time.Now(),
	}))

	stub := &stubBroker{closeFn: func(int64) (broker.CloseOutcome, error) {
		return broker.CloseOutcome{}, broker.ErrUnknownTicket
	}}
	c := New(stub, store, time.Second)

	closed, err := store.GetTrade("T1")
	require.NoError(t, err)
	result := c.Close(context.Background(), *closed, trading.TriggerAPI)

	assert.True(t, result.Succeeded)
}

func TestClose_BrokerErrorSurfacesInResult(t *testing.T) {
	store := newTestStore(t)
	trade := seedTrade(t, store, "T1", 101)

	stub := &stubBroker{closeFn: func(int64) (broker.CloseOutcome, error) {
		return broker.CloseOutcome{}, errors.New("order rejected")
	}}
	c := New(stub, store, time.Second)

	result := c.Close(context.Background(), trade, trading.TriggerAPI)

	assert.False(t, result.Succeeded)
	assert.Contains(t, result.Error, "order rejected")

	reloaded, err := store.GetTrade("T1")
	require.NoError(t, err)
	assert.Equal(t, types.TradeStatusOpen, reloaded.Status)
}
