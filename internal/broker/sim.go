package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/position-guard/internal/types"
)

// contract size per lot, FX convention
const lotSize = 100000.0

// Simulator is an in-process broker used by cmd/simulation and tests. It
// models latency, intermittent failure and equity movement so the engine can
// be exercised end to end without a live broker session.
type Simulator struct {
	mu sync.Mutex

	accounts  map[string]*simAccount
	positions map[int64]*simPosition
	ticks     map[string][]types.Tick

	nextTicket int64

	// MinLatency/MaxLatency bound the simulated round trip per call.
	MinLatency time.Duration
	MaxLatency time.Duration
	// FailRate is the probability that a call fails with ErrUnavailable.
	FailRate float64

	offline bool
}

type simAccount struct {
	equity     float64
	balance    float64
	marginUsed float64
}

type simPosition struct {
	accountID string
	pos       types.BrokerPosition
	closed    bool
	outcome   CloseOutcome
}

// NewSimulator returns a simulator with no latency or failures; callers
// configure those directly when needed.
func NewSimulator() *Simulator {
	return &Simulator{
		accounts:   make(map[string]*simAccount),
		positions:  make(map[int64]*simPosition),
		ticks:      make(map[string][]types.Tick),
		nextTicket: 1000,
	}
}

// SetAccount creates or replaces the simulated account state.
func (s *Simulator) SetAccount(accountID string, equity, balance, marginUsed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accountID] = &simAccount{equity: equity, balance: balance, marginUsed: marginUsed}
}

// SetEquity moves the account's equity, e.g. to simulate a drawdown.
func (s *Simulator) SetEquity(accountID string, equity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[accountID]; ok {
		acct.equity = equity
	}
}

// SetOffline forces every call to fail with ErrUnavailable until cleared.
func (s *Simulator) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// OpenPosition registers an open position with the broker and returns its
// ticket.
func (s *Simulator) OpenPosition(accountID string, pos types.BrokerPosition) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos.Ticket == 0 {
		s.nextTicket++
		pos.Ticket = s.nextTicket
	}
	s.positions[pos.Ticket] = &simPosition{accountID: accountID, pos: pos}
	return pos.Ticket
}

// PushTick appends a tick for an instrument and updates the current price of
// any open positions on it.
func (s *Simulator) PushTick(tick types.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now()
	}
	s.ticks[tick.Symbol] = append(s.ticks[tick.Symbol], tick)
	for _, sp := range s.positions {
		if sp.closed || sp.pos.Symbol != tick.Symbol {
			continue
		}
		if sp.pos.Direction == types.DirectionBuy {
			sp.pos.CurrentPrice = tick.Bid
		} else {
			sp.pos.CurrentPrice = tick.Ask
		}
		sp.pos.UnrealizedProfit = positionProfit(sp.pos)
	}
}

// FetchPositions implements Client.
func (s *Simulator) FetchPositions(ctx context.Context, accountID string) ([]types.BrokerPosition, types.AccountSnapshot, error) {
	if err := s.simulateCall(ctx); err != nil {
		return nil, types.AccountSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, types.AccountSnapshot{}, ErrUnavailable
	}

	var positions []types.BrokerPosition
	for _, sp := range s.positions {
		if sp.accountID == accountID && !sp.closed {
			positions = append(positions, sp.pos)
		}
	}

	snapshot := types.AccountSnapshot{
		AccountID:  accountID,
		Equity:     acct.equity,
		Balance:    acct.balance,
		MarginUsed: acct.marginUsed,
		Timestamp:  time.Now(),
	}
	return positions, snapshot, nil
}

// ClosePosition implements Client. Closing an already-closed ticket returns
// the original outcome with AlreadyClosed set.
func (s *Simulator) ClosePosition(ctx context.Context, ticket int64) (CloseOutcome, error) {
	if err := s.simulateCall(ctx); err != nil {
		return CloseOutcome{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.positions[ticket]
	if !ok {
		return CloseOutcome{}, ErrUnknownTicket
	}
	if sp.closed {
		outcome := sp.outcome
		outcome.AlreadyClosed = true
		return outcome, nil
	}

	profit := positionProfit(sp.pos)
	sp.closed = true
	sp.outcome = CloseOutcome{
		Ticket:     ticket,
		ClosePrice: sp.pos.CurrentPrice,
		Profit:     profit,
		ClosedAt:   time.Now(),
	}

	if acct, ok := s.accounts[sp.accountID]; ok {
		acct.balance += profit
	}

	log.Debug().
		Int64("ticket", ticket).
		Str("symbol", sp.pos.Symbol).
		Float64("close_price", sp.outcome.ClosePrice).
		Float64("profit", profit).
		Msg("simulated position close")

	return sp.outcome, nil
}

// RecentTicks implements TickSource, returning up to the last 10 ticks.
func (s *Simulator) RecentTicks(ctx context.Context, symbol string) ([]types.Tick, error) {
	if err := s.simulateCall(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.ticks[symbol]
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	out := make([]types.Tick, len(history))
	copy(out, history)
	return out, nil
}

func (s *Simulator) simulateCall(ctx context.Context) error {
	s.mu.Lock()
	offline, failRate := s.offline, s.FailRate
	minLat, maxLat := s.MinLatency, s.MaxLatency
	s.mu.Unlock()

	if maxLat > 0 {
		latency := minLat
		if maxLat > minLat {
			latency += time.Duration(rand.Int63n(int64(maxLat - minLat)))
		}
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if offline || (failRate > 0 && rand.Float64() < failRate) {
		return ErrUnavailable
	}
	return ctx.Err()
}

func positionProfit(pos types.BrokerPosition) float64 {
	delta := pos.CurrentPrice - pos.OpenPrice
	if pos.Direction == types.DirectionSell {
		delta = -delta
	}
	return delta*pos.Volume*lotSize + pos.Swap
}
