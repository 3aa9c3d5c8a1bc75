package database

import (
	"fmt"

	"github.com/ksred/payrelay/internal/database/migrations"
	"github.com/ksred/payrelay/internal/ledger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase opens the sqlite file at path and brings the schema up to date
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&ledger.OrderRecord{}); err != nil {
		return nil, err
	}

	if err := migrations.AddOrderIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
