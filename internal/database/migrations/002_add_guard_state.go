package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/position-guard/internal/guards"
)

func AddGuardState(db *gorm.DB) error {
	return db.AutoMigrate(&guards.GuardState{})
}
