package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/position-guard/internal/reconcile"
)

func AddReconciliationLogs(db *gorm.DB) error {
	if err := db.AutoMigrate(&reconcile.ReconciliationLog{}); err != nil {
		return err
	}

	return db.AutoMigrate(&reconcile.Divergence{})
}
