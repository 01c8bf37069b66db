package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/position-guard/internal/broker"
	"github.com/ksred/position-guard/internal/cache"
	"github.com/ksred/position-guard/internal/closer"
	"github.com/ksred/position-guard/internal/guards"
	"github.com/ksred/position-guard/internal/trading"
	"github.com/ksred/position-guard/internal/types"
)

// ErrCycleInFlight is returned when a run is requested for an account whose
// previous cycle has not finished. Overlapping ticks are skipped, not queued.
var ErrCycleInFlight = errors.New("reconciliation cycle already in flight")

// SchedulerConfig enumerates the collaborators and settings of the
// reconciliation loop.
type SchedulerConfig struct {
	Broker        broker.Client
	Ticks         broker.TickSource
	Trades        *trading.Database
	Logs          *Database
	Matcher       *Matcher
	Evaluator     *guards.Evaluator
	Closer        *closer.Closer
	Invalidator   *cache.Invalidator
	Interval      time.Duration
	BrokerTimeout time.Duration
	MaxConcurrent int
	Accounts      []string // always monitored, in addition to accounts with open trades
}

// Scheduler drives the fetch → match → evaluate → close → persist loop on a
// fixed interval, one run per account at a time, concurrently across
// accounts up to a bound.
type Scheduler struct {
	cfg SchedulerConfig
	sem chan struct{}

	mu       sync.Mutex
	inFlight map[string]bool
	wg       sync.WaitGroup
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BrokerTimeout <= 0 {
		cfg.BrokerTimeout = 10 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.Matcher == nil {
		cfg.Matcher = NewMatcher(DefaultTolerances())
	}
	return &Scheduler{
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		inFlight: make(map[string]bool),
	}
}

// Start runs the scheduling loop until ctx is cancelled. In-flight cycles
// finish before Start returns; no new cycles begin after shutdown is
// requested.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "reconciliation_scheduler").Logger()
	logger.Info().
		Dur("interval", s.cfg.Interval).
		Int("max_concurrent", s.cfg.MaxConcurrent).
		Msg("starting reconciliation scheduler")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down reconciliation scheduler, waiting for in-flight cycles")
			s.wg.Wait()
			logger.Info().Msg("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	logger := log.With().Str("component", "reconciliation_scheduler").Logger()

	accounts, err := s.monitoredAccounts()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list monitored accounts")
		return
	}

	for _, accountID := range accounts {
		select {
		case <-ctx.Done():
			return
		default:
		}

		accountID := accountID
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.sem <- struct{}{}
			defer func() { <-s.sem }()

			// Cycles run to completion even during shutdown; a close must
			// never be cancelled mid-call.
			cycleCtx := context.WithoutCancel(ctx)
			if _, err := s.RunOnce(cycleCtx, accountID); err != nil && !errors.Is(err, ErrCycleInFlight) {
				logger.Error().Err(err).Str("account_id", accountID).Msg("reconciliation cycle failed")
			}
		}()
	}
}

func (s *Scheduler) monitoredAccounts() ([]string, error) {
	withTrades, err := s.cfg.Trades.GetAccountsWithOpenTrades()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var accounts []string
	for _, id := range append(append([]string{}, s.cfg.Accounts...), withTrades...) {
		if !seen[id] {
			seen[id] = true
			accounts = append(accounts, id)
		}
	}
	return accounts, nil
}

// RunOnce executes a single reconciliation cycle for one account:
// fetch → match → evaluate guards → close breached positions → persist.
// It returns ErrCycleInFlight when a cycle for the account is already
// running; the caller logs the missed cycle and does not queue it.
func (s *Scheduler) RunOnce(ctx context.Context, accountID string) (*ReconciliationLog, error) {
	logger := log.With().
		Str("component", "reconciliation_scheduler").
		Str("account_id", accountID).
		Logger()

	if !s.acquire(accountID) {
		logger.Warn().Msg("cycle already in flight, skipping tick")
		return nil, ErrCycleInFlight
	}
	defer s.release(accountID)

	// FETCHING
	logger.Debug().Str("state", "FETCHING").Msg("cycle state")
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.BrokerTimeout)
	positions, snapshot, err := s.cfg.Broker.FetchPositions(fetchCtx, accountID)
	cancel()
	if err != nil {
		// Fail-safe: no guard evaluation on absent data. Hysteresis keeps an
		// already-breached account breached.
		logger.Error().Err(err).Msg("broker fetch failed, skipping guard evaluation")
		s.cfg.Evaluator.FetchFailed(accountID)

		logEntry, persistErr := s.cfg.Logs.CreateLog(accountID, StatusFetchFailed, nil)
		if persistErr != nil {
			logger.Error().Err(persistErr).Msg("failed to persist fetch-failed log")
			return nil, persistErr
		}
		s.invalidate(accountID)
		return logEntry, nil
	}

	// MATCHING
	logger.Debug().Str("state", "MATCHING").Msg("cycle state")
	openTrades, err := s.cfg.Trades.GetOpenTrades(accountID, "")
	if err != nil {
		return nil, err
	}
	result := s.cfg.Matcher.Match(openTrades, positions)

	// EVALUATING_GUARDS
	logger.Debug().Str("state", "EVALUATING_GUARDS").Msg("cycle state")
	breaches := s.cfg.Evaluator.Evaluate(guards.Input{
		Snapshot:  snapshot,
		Positions: positions,
		Ticks:     s.collectTicks(ctx, positions),
	})

	// CLOSING
	toClose, guardType := closeTargets(breaches, openTrades)
	if len(toClose) > 0 {
		logger.Debug().Str("state", "CLOSING").Msg("cycle state")
		closeResult := s.cfg.Closer.CloseAll(ctx, toClose, trading.TriggerGuard, guardType)
		logger.Info().
			Int("total", closeResult.Total).
			Int("succeeded", closeResult.Succeeded).
			Int("failed", closeResult.Failed).
			Str("guard_type", guardType).
			Msg("guard-triggered close completed")
	}

	// PERSISTING
	logger.Debug().Str("state", "PERSISTING").Msg("cycle state")
	logEntry, err := s.cfg.Logs.CreateLog(accountID, StatusOK, &result)
	if err != nil {
		return nil, err
	}
	s.invalidate(accountID)

	logger.Info().
		Str("run_id", logEntry.RunID).
		Int("matched", logEntry.MatchedCount).
		Int("divergences", logEntry.DivergenceCount).
		Int("breaches", len(breaches)).
		Msg("reconciliation cycle completed")

	return logEntry, nil
}

// collectTicks fetches recent ticks for every distinct instrument among the
// broker positions. A failed or missing feed leaves the instrument out of
// the map, which the market guard treats as skip-not-breach.
func (s *Scheduler) collectTicks(ctx context.Context, positions []types.BrokerPosition) map[string][]types.Tick {
	if s.cfg.Ticks == nil {
		return nil
	}

	ticks := make(map[string][]types.Tick)
	for _, pos := range positions {
		if _, done := ticks[pos.Symbol]; done {
			continue
		}
		tickCtx, cancel := context.WithTimeout(ctx, s.cfg.BrokerTimeout)
		recent, err := s.cfg.Ticks.RecentTicks(tickCtx, pos.Symbol)
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("symbol", pos.Symbol).Msg("no tick data for instrument, skipping market guard")
			continue
		}
		if len(recent) > 0 {
			ticks[pos.Symbol] = recent
		}
	}
	return ticks
}

// closeTargets selects the trades a CLOSE_ALL breach applies to: every open
// trade for an account-wide breach, the instrument's trades for an
// instrument-scoped one.
func closeTargets(breaches []types.GuardBreach, openTrades []types.Trade) ([]types.Trade, string) {
	var toClose []types.Trade
	seen := make(map[string]bool)
	guardType := ""

	for _, breach := range breaches {
		if breach.Action != types.ActionCloseAll {
			continue
		}
		if guardType == "" {
			guardType = breach.GuardType
		}
		for _, trade := range openTrades {
			if seen[trade.TradeID] {
				continue
			}
			if breach.Instrument == "" || breach.Instrument == trade.Symbol {
				seen[trade.TradeID] = true
				toClose = append(toClose, trade)
			}
		}
	}
	return toClose, guardType
}

func (s *Scheduler) acquire(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[accountID] {
		return false
	}
	s.inFlight[accountID] = true
	return true
}

func (s *Scheduler) release(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, accountID)
}

func (s *Scheduler) invalidate(accountID string) {
	if s.cfg.Invalidator != nil {
		s.cfg.Invalidator.Notify(accountID)
	}
}
