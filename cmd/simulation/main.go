package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/position-guard/internal/broker"
	"github.com/ksred/position-guard/internal/cache"
	"github.com/ksred/position-guard/internal/closer"
	"github.com/ksred/position-guard/internal/database"
	"github.com/ksred/position-guard/internal/guards"
	"github.com/ksred/position-guard/internal/reconcile"
	"github.com/ksred/position-guard/internal/trading"
	"github.com/ksred/position-guard/internal/types"
)

const (
	accountID = "SIM-001"
	symbol    = "EURUSD"
)

// This binary drives the drawdown scenario end to end against a real engine
// wired to the simulated broker: a healthy cycle first, then an equity drop
// past the critical threshold that must close the open position.
func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	db, err := database.NewDatabase("file::memory:?cache=shared")
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize database")
	}

	tradeStore := trading.NewDatabase(db)
	logStore := reconcile.NewDatabase(db)
	guardStore := guards.NewDatabase(db)
	queryCache := cache.NewMemory()
	invalidator := cache.NewInvalidator(queryCache)

	sim := broker.NewSimulator()
	sim.MinLatency = 5 * time.Millisecond
	sim.MaxLatency = 30 * time.Millisecond
	sim.SetAccount(accountID, 10000, 10000, 1200)

	// Open position at the broker and its internal mirror
	ticket := sim.OpenPosition(accountID, types.BrokerPosition{
		Symbol:       symbol,
		Direction:    types.DirectionBuy,
		Volume:       0.10,
		OpenPrice:    1.0850,
		CurrentPrice: 1.0850,
	})
	trade := &types.Trade{
		AccountID:    accountID,
		Symbol:       symbol,
		Direction:    types.DirectionBuy,
		Volume:       0.10,
		EntryPrice:   1.0850,
		BrokerTicket: ticket,
		Status:       types.TradeStatusOpen,
		EntryTime:    time.Now(),
	}
	if err := tradeStore.CreateTrade(trade); err != nil {
		zlog.Fatal().Err(err).Msg("failed to seed trade")
	}
	sim.PushTick(types.Tick{Symbol: symbol, Bid: 1.0850, Ask: 1.0851})

	evaluator := guards.NewEvaluator(
		guardStore,
		guards.NewDrawdownGuard(0.10, 0.20, guardStore),
		guards.NewMarketGuard(0.02, 0.005),
	)
	scheduler := reconcile.NewScheduler(reconcile.SchedulerConfig{
		Broker:      sim,
		Ticks:       sim,
		Trades:      tradeStore,
		Logs:        logStore,
		Evaluator:   evaluator,
		Closer:      closer.New(sim, tradeStore, 10*time.Second),
		Invalidator: invalidator,
		Accounts:    []string{accountID},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go invalidator.Start(ctx)

	// Cycle 1: healthy account, position reconciles, no breach
	runCycle(ctx, scheduler, "healthy account")
	report(tradeStore, guardStore)

	// Equity collapses 22% from the recorded peak
	sim.SetEquity(accountID, 7800)
	sim.PushTick(types.Tick{Symbol: symbol, Bid: 1.0630, Ask: 1.0631})

	// Cycle 2: drawdown guard must fire CRITICAL and close the position
	runCycle(ctx, scheduler, "22% drawdown")
	report(tradeStore, guardStore)

	// Cycle 3: broker offline, hysteresis keeps the breach active
	sim.SetOffline(true)
	runCycle(ctx, scheduler, "broker offline")
	report(tradeStore, guardStore)
}

func runCycle(ctx context.Context, scheduler *reconcile.Scheduler, label string) {
	zlog.Info().Str("scenario", label).Msg("running reconciliation cycle")
	logEntry, err := scheduler.RunOnce(ctx, accountID)
	if err != nil {
		zlog.Fatal().Err(err).Str("scenario", label).Msg("cycle failed")
	}
	zlog.Info().
		Str("scenario", label).
		Str("run_id", logEntry.RunID).
		Str("status", logEntry.Status).
		Int("matched", logEntry.MatchedCount).
		Int("divergences", logEntry.DivergenceCount).
		Msg("cycle result")
}

func report(tradeStore *trading.Database, guardStore *guards.Database) {
	openTrades, err := tradeStore.GetOpenTrades(accountID, "")
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to read open trades")
	}
	state, err := guardStore.GetState(accountID)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to read guard state")
	}
	zlog.Info().
		Int("open_trades", len(openTrades)).
		Float64("peak_equity", state.PeakEquity).
		Float64("drawdown_pct", state.DrawdownPct()).
		Bool("breached", state.Breached).
		Msg("account state")
}
