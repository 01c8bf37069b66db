package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/ksred/position-guard/internal/cache"
	"github.com/ksred/position-guard/internal/closer"
	"github.com/ksred/position-guard/internal/guards"
	"github.com/ksred/position-guard/internal/reconcile"
	"github.com/ksred/position-guard/internal/trading"
	"github.com/ksred/position-guard/internal/types"
)

// Service is the API-facing read layer. Reads go cache-first with lazy
// population and fall back to persisted state; the cache is never the source
// of truth for a close decision — the close path always reads fresh state.
type Service struct {
	trades      *trading.Database
	logs        *reconcile.Database
	guardState  *guards.Database
	closer      *closer.Closer
	cache       cache.Cache
	invalidator *cache.Invalidator
	ttl         time.Duration
}

func NewService(
	trades *trading.Database,
	logs *reconcile.Database,
	guardState *guards.Database,
	positionCloser *closer.Closer,
	queryCache cache.Cache,
	invalidator *cache.Invalidator,
	ttl time.Duration,
) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Service{
		trades:      trades,
		logs:        logs,
		guardState:  guardState,
		closer:      positionCloser,
		cache:       queryCache,
		invalidator: invalidator,
		ttl:         ttl,
	}
}

// ReconciliationStatus returns the latest run summary for an account, or a
// zero-count empty state when no run has happened yet.
func (s *Service) ReconciliationStatus(ctx context.Context, accountID string) (*types.ReconciliationStatusResponse, error) {
	key := cache.Key(accountID, cache.KindReconciliationStatus, "")
	var cached types.ReconciliationStatusResponse
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	resp := &types.ReconciliationStatusResponse{AccountID: accountID}
	latest, err := s.logs.GetLatestLog(accountID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		// no run yet: empty state
	} else {
		resp.RunID = latest.RunID
		resp.Status = latest.Status
		resp.MatchedCount = latest.MatchedCount
		resp.DivergenceCount = latest.DivergenceCount
		resp.Timestamp = latest.Timestamp
		resp.Stale = latest.Status == reconcile.StatusFetchFailed
	}

	s.cacheSet(ctx, key, resp)
	return resp, nil
}

// OpenPositions returns the account's OPEN trades, optionally filtered by
// symbol.
func (s *Service) OpenPositions(ctx context.Context, accountID, symbol string) ([]types.Trade, error) {
	key := cache.Key(accountID, cache.KindOpenPositions, symbol)
	var cached []types.Trade
	if s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	trades, err := s.trades.GetOpenTrades(accountID, symbol)
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []types.Trade{}
	}

	s.cacheSet(ctx, key, trades)
	return trades, nil
}

// GetPosition returns a single trade by its ID. Not cached: the single-row
// read is as cheap as the cache round trip.
func (s *Service) GetPosition(tradeID string) (*types.Trade, error) {
	return s.trades.GetTrade(tradeID)
}

// GuardStatus returns the current drawdown and active breaches for an
// account.
func (s *Service) GuardStatus(ctx context.Context, accountID string) (*types.GuardStatusResponse, error) {
	key := cache.Key(accountID, cache.KindGuardStatus, "")
	var cached types.GuardStatusResponse
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	state, err := s.guardState.GetState(accountID)
	if err != nil {
		return nil, err
	}

	resp := &types.GuardStatusResponse{
		AccountID:      accountID,
		DrawdownPct:    state.DrawdownPct(),
		PeakEquity:     state.PeakEquity,
		Breached:       state.Breached,
		ActiveBreaches: state.Breaches(),
		UpdatedAt:      state.EvaluatedAt,
	}
	if resp.ActiveBreaches == nil {
		resp.ActiveBreaches = []types.GuardBreach{}
	}

	// surface last-known-good data with a stale marker while fetches fail
	if latest, err := s.logs.GetLatestLog(accountID); err == nil {
		resp.Stale = latest.Status == reconcile.StatusFetchFailed
	}

	s.cacheSet(ctx, key, resp)
	return resp, nil
}

// ClosePosition triggers an explicit close for a trade outside the guard
// path. State is read fresh from the store; the cache plays no part here.
func (s *Service) ClosePosition(ctx context.Context, tradeID string) (*types.CloseResult, error) {
	trade, err := s.trades.GetTrade(tradeID)
	if err != nil {
		return nil, err
	}

	result := s.closer.Close(ctx, *trade, trading.TriggerAPI)
	if s.invalidator != nil {
		s.invalidator.Notify(trade.AccountID)
	}
	return &result, nil
}

func (s *Service) cacheGet(ctx context.Context, key string, out interface{}) bool {
	if s.cache == nil {
		return false
	}
	data, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache read failed, falling back to store")
		return false
	}
	if !hit {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("corrupt cache entry, falling back to store")
		return false
	}
	return true
}

func (s *Service) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}
