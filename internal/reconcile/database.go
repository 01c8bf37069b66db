package reconcile

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateLog persists one run's log together with its divergence rows in a
// transaction. Logs are append-only; nothing updates them afterwards.
func (d *Database) CreateLog(accountID, status string, result *Result) (*ReconciliationLog, error) {
	logEntry := &ReconciliationLog{
		RunID:     "RUN_" + uuid.New().String(),
		AccountID: accountID,
		Status:    status,
		Timestamp: time.Now(),
	}
	if result != nil {
		logEntry.MatchedCount = result.MatchedCount()
		logEntry.DivergenceCount = len(result.Divergences)
	}

	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(logEntry).Error; err != nil {
			return err
		}
		if result == nil {
			return nil
		}
		for i := range result.Divergences {
			div := result.Divergences[i]
			div.RunID = logEntry.RunID
			if div.AccountID == "" {
				div.AccountID = accountID
			}
			if err := tx.Create(&div).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return logEntry, nil
}

// GetLatestLog returns the most recent run log for an account.
func (d *Database) GetLatestLog(accountID string) (*ReconciliationLog, error) {
	var logEntry ReconciliationLog
	err := d.db.Where("account_id = ?", accountID).
		Order("timestamp DESC, id DESC").
		First(&logEntry).Error
	if err != nil {
		return nil, err
	}
	return &logEntry, nil
}

// GetDivergences returns the divergence rows for a run.
func (d *Database) GetDivergences(runID string) ([]Divergence, error) {
	var divergences []Divergence
	if err := d.db.Where("run_id = ?", runID).Find(&divergences).Error; err != nil {
		return nil, err
	}
	return divergences, nil
}
