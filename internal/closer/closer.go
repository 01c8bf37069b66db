package closer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/position-guard/internal/broker"
	"github.com/ksred/position-guard/internal/trading"
	"github.com/ksred/position-guard/internal/types"
)

// Closer closes positions through the broker with per-position error
// isolation. A failure on one position never aborts the remaining closes;
// the guard path retries failed positions on the next cycle if the breach
// persists.
type Closer struct {
	broker  broker.Client
	trades  *trading.Database
	timeout time.Duration
}

func New(brokerClient broker.Client, trades *trading.Database, timeout time.Duration) *Closer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Closer{broker: brokerClient, trades: trades, timeout: timeout}
}

// CloseAll closes every trade in the list independently. The returned
// result always satisfies Total == Succeeded + Failed.
func (c *Closer) CloseAll(ctx context.Context, trades []types.Trade, trigger, guardType string) types.BulkCloseResult {
	result := types.BulkCloseResult{
		Total:   len(trades),
		Results: make([]types.CloseResult, 0, len(trades)),
	}

	for _, trade := range trades {
		closeResult := c.closeOne(ctx, trade, trigger, guardType)
		if closeResult.Succeeded {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Results = append(result.Results, closeResult)
	}

	return result
}

// Close closes a single trade, used by the explicit API close path.
func (c *Closer) Close(ctx context.Context, trade types.Trade, trigger string) types.CloseResult {
	return c.closeOne(ctx, trade, trigger, "")
}

func (c *Closer) closeOne(ctx context.Context, trade types.Trade, trigger, guardType string) types.CloseResult {
	logger := log.With().
		Str("component", "position_closer").
		Str("trade_id", trade.TradeID).
		Str("account_id", trade.AccountID).
		Int64("ticket", trade.BrokerTicket).
		Str("trigger", trigger).
		Logger()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outcome, err := c.broker.ClosePosition(callCtx, trade.BrokerTicket)
	if err != nil {
		if errors.Is(err, broker.ErrUnknownTicket) && trade.Status == types.TradeStatusClosed {
			// ticket already gone and the trade is closed internally: no-op
			logger.Info().Msg("ticket unknown to broker but trade already closed, treating as no-op")
			return types.CloseResult{
				PositionTicket: trade.BrokerTicket,
				TradeID:        trade.TradeID,
				Succeeded:      true,
			}
		}
		logger.Error().Err(err).Msg("broker rejected position close")
		return types.CloseResult{
			PositionTicket: trade.BrokerTicket,
			TradeID:        trade.TradeID,
			Succeeded:      false,
			Error:          err.Error(),
		}
	}

	if outcome.AlreadyClosed {
		logger.Info().Msg("position already closed at broker")
	}

	if err := c.trades.CloseTradeWithAudit(trade.TradeID, trigger, guardType, outcome); err != nil {
		// Broker close succeeded but the local transition failed. Report the
		// failure; the next cycle retries and the broker call is idempotent.
		logger.Error().Err(err).Msg("failed to record trade close")
		return types.CloseResult{
			PositionTicket: trade.BrokerTicket,
			TradeID:        trade.TradeID,
			Succeeded:      false,
			Error:          "close recorded at broker but local update failed: " + err.Error(),
		}
	}

	logger.Info().
		Float64("close_price", outcome.ClosePrice).
		Float64("profit", outcome.Profit).
		Bool("already_closed", outcome.AlreadyClosed).
		Msg("position closed")

	return types.CloseResult{
		PositionTicket: trade.BrokerTicket,
		TradeID:        trade.TradeID,
		Succeeded:      true,
		ClosePrice:     outcome.ClosePrice,
		RealizedProfit: outcome.Profit,
	}
}
