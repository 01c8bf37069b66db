package trading

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ksred/position-guard/internal/broker"
	"github.com/ksred/position-guard/internal/types"
)

// Database is the trade store. Trade rows are created by the order-fill path
// and mutated here only as a side effect of a successful close.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateTrade(trade *types.Trade) error {
	if trade.TradeID == "" {
		trade.TradeID = "TRD_" + uuid.New().String()
	}
	return d.db.Create(trade).Error
}

func (d *Database) GetTrade(tradeID string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

func (d *Database) GetTradeByTicket(ticket int64) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("broker_ticket = ?", ticket).First(&trade).Error; err != nil {
		return nil, err
	}
	return &trade, nil
}

// GetOpenTrades returns OPEN trades for an account, oldest entry first,
// optionally filtered by symbol.
func (d *Database) GetOpenTrades(accountID, symbol string) ([]types.Trade, error) {
	query := d.db.Where("account_id = ? AND status = ?", accountID, types.TradeStatusOpen)
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	var trades []types.Trade
	if err := query.Order("entry_time ASC, id ASC").Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// GetAccountsWithOpenTrades returns the distinct account IDs that currently
// hold OPEN trades.
func (d *Database) GetAccountsWithOpenTrades() ([]string, error) {
	var accounts []string
	err := d.db.Model(&types.Trade{}).
		Where("status = ?", types.TradeStatusOpen).
		Distinct().
		Pluck("account_id", &accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// CloseTradeWithAudit transitions a trade to CLOSED and appends the close
// audit record in a single transaction. A trade already CLOSED is left
// untouched and no audit row is written, so repeated closes never accrue
// profit twice.
func (d *Database) CloseTradeWithAudit(tradeID, trigger, guardType string, outcome broker.CloseOutcome) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var trade types.Trade
		if err := tx.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
			return err
		}
		if trade.Status == types.TradeStatusClosed {
			return nil
		}

		closedAt := outcome.ClosedAt
		if closedAt.IsZero() {
			closedAt = time.Now()
		}
		profit := outcome.Profit

		trade.Status = types.TradeStatusClosed
		trade.ExitTime = &closedAt
		trade.RealizedProfit = &profit
		if err := tx.Save(&trade).Error; err != nil {
			return err
		}

		audit := CloseAudit{
			AuditID:      "CLS_" + uuid.New().String(),
			TradeID:      trade.TradeID,
			AccountID:    trade.AccountID,
			BrokerTicket: trade.BrokerTicket,
			Trigger:      trigger,
			GuardType:    guardType,
			ClosePrice:   outcome.ClosePrice,
			Profit:       profit,
			ClosedAt:     closedAt,
		}
		return tx.Create(&audit).Error
	})
}

// GetCloseAudits returns close audit rows for an account, newest first.
func (d *Database) GetCloseAudits(accountID string) ([]CloseAudit, error) {
	var audits []CloseAudit
	if err := d.db.Where("account_id = ?", accountID).Order("closed_at DESC").Find(&audits).Error; err != nil {
		return nil, err
	}
	return audits, nil
}

// IsOpen reports whether the trade exists and is OPEN.
func (d *Database) IsOpen(tradeID string) (bool, error) {
	trade, err := d.GetTrade(tradeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return trade.Status == types.TradeStatusOpen, nil
}
