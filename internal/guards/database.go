package guards

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetState returns the guard state for an account, or a fresh zero-value
// state when none has been recorded yet.
func (d *Database) GetState(accountID string) (*GuardState, error) {
	var state GuardState
	if err := d.db.Where("account_id = ?", accountID).First(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &GuardState{AccountID: accountID}, nil
		}
		return nil, err
	}
	return &state, nil
}

// SaveState upserts the guard state. The peak equity column only ever moves
// upward; callers maintain that invariant before saving.
func (d *Database) SaveState(state *GuardState) error {
	if state.ID == 0 {
		var existing GuardState
		err := d.db.Where("account_id = ?", state.AccountID).First(&existing).Error
		if err == nil {
			state.ID = existing.ID
			state.CreatedAt = existing.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	return d.db.Save(state).Error
}
