package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/ksred/payrelay/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderRecord is the persisted form of types.Order
type OrderRecord struct {
	ID             uint            `gorm:"primaryKey"`
	LocalOrderID   string          `gorm:"uniqueIndex;not null"`
	GatewayOrderID string          `gorm:"uniqueIndex;not null"`
	ClientID       string          `gorm:"index"`
	Amount         decimal.Decimal `gorm:"type:text;not null"`
	Currency       string          `gorm:"not null"`
	Receipt        string
	Status         string    `gorm:"index;not null"`
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
}

func (OrderRecord) TableName() string { return "orders" }

func recordFromOrder(order *types.Order) *OrderRecord {
	return &OrderRecord{
		LocalOrderID:   order.LocalOrderID,
		GatewayOrderID: order.GatewayOrderID,
		ClientID:       order.ClientID,
		Amount:         order.Amount,
		Currency:       string(order.Currency),
		Receipt:        order.Receipt,
		Status:         string(order.Status),
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
}

func (r *OrderRecord) toOrder() *types.Order {
	return &types.Order{
		LocalOrderID:   r.LocalOrderID,
		GatewayOrderID: r.GatewayOrderID,
		ClientID:       r.ClientID,
		Amount:         r.Amount,
		Currency:       types.Currency(r.Currency),
		Receipt:        r.Receipt,
		Status:         types.Status(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// DatabaseLedger stores orders through gorm
type DatabaseLedger struct {
	db *gorm.DB
}

// NewDatabaseLedger wraps an already migrated gorm connection
func NewDatabaseLedger(db *gorm.DB) *DatabaseLedger {
	return &DatabaseLedger{db: db}
}

func (d *DatabaseLedger) Put(order *types.Order) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&OrderRecord{}).
			Where("local_order_id = ? OR gateway_order_id = ?", order.LocalOrderID, order.GatewayOrderID).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateKey
		}

		if err := tx.Create(recordFromOrder(order)).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return nil
	})
}

func (d *DatabaseLedger) GetByLocalID(localOrderID string) (*types.Order, error) {
	var record OrderRecord
	if err := d.db.Where("local_order_id = ?", localOrderID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return record.toOrder(), nil
}

// GetByGatewayID fetches at most two rows so an ambiguous mapping is
// reported instead of silently picking one
func (d *DatabaseLedger) GetByGatewayID(gatewayOrderID string) (*types.Order, error) {
	var records []OrderRecord
	if err := d.db.Where("gateway_order_id = ?", gatewayOrderID).Limit(2).Find(&records).Error; err != nil {
		return nil, err
	}

	switch len(records) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return records[0].toOrder(), nil
	default:
		return nil, ErrIntegrity
	}
}

func (d *DatabaseLedger) SetStatus(localOrderID string, status types.Status) (types.Status, error) {
	var previous types.Status
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var record OrderRecord
		if err := tx.Where("local_order_id = ?", localOrderID).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		previous = types.Status(record.Status)

		return tx.Model(&OrderRecord{}).
			Where("local_order_id = ?", localOrderID).
			Updates(map[string]interface{}{
				"status":     string(status),
				"updated_at": time.Now(),
			}).Error
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}

// ListByClient is served by the (client_id, created_at) index
func (d *DatabaseLedger) ListByClient(clientID string, status types.Status) ([]types.Order, error) {
	query := d.db.Where("client_id = ?", clientID)
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	var records []OrderRecord
	if err := query.Order("created_at ASC, id ASC").Find(&records).Error; err != nil {
		return nil, err
	}

	orders := make([]types.Order, 0, len(records))
	for i := range records {
		orders = append(orders, *records[i].toOrder())
	}
	return orders, nil
}
