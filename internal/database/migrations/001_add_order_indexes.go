package migrations

import (
	"gorm.io/gorm"
)

// AddOrderIndexes creates the indexes used by client order listings
func AddOrderIndexes(db *gorm.DB) error {
	indexes := []string{
		// ListByClient filters on client_id and sorts by created_at
		`CREATE INDEX IF NOT EXISTS idx_orders_client_created
		 ON orders(client_id, created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
