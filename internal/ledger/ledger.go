package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ksred/payrelay/internal/types"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrDuplicateKey = errors.New("order already exists")
	// ErrIntegrity means the one-to-one mapping between local and gateway
	// order ids no longer holds
	ErrIntegrity = errors.New("ledger integrity fault")
)

// Ledger is the source of truth for order status.
// Implementations must be safe for concurrent use and return copies.
type Ledger interface {
	Put(order *types.Order) error
	GetByLocalID(localOrderID string) (*types.Order, error)
	GetByGatewayID(gatewayOrderID string) (*types.Order, error)
	// SetStatus returns the status the order held before the update
	SetStatus(localOrderID string, status types.Status) (types.Status, error)
	// ListByClient returns the client's orders oldest first. An empty status
	// matches every status.
	ListByClient(clientID string, status types.Status) ([]types.Order, error)
}

// MemoryLedger keeps orders in process memory with a gateway id index
type MemoryLedger struct {
	mu        sync.RWMutex
	orders    map[string]*types.Order
	byGateway map[string]string // map[GatewayOrderID]LocalOrderID
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		orders:    make(map[string]*types.Order),
		byGateway: make(map[string]string),
	}
}

// Put inserts a new order. Both the local and the gateway id must be unused.
func (l *MemoryLedger) Put(order *types.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.orders[order.LocalOrderID]; exists {
		return ErrDuplicateKey
	}
	if _, exists := l.byGateway[order.GatewayOrderID]; exists {
		return ErrDuplicateKey
	}

	stored := *order
	l.orders[order.LocalOrderID] = &stored
	l.byGateway[order.GatewayOrderID] = order.LocalOrderID
	return nil
}

// GetByLocalID returns a copy of the order or ErrNotFound
func (l *MemoryLedger) GetByLocalID(localOrderID string) (*types.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	order, exists := l.orders[localOrderID]
	if !exists {
		return nil, ErrNotFound
	}
	found := *order
	return &found, nil
}

// GetByGatewayID resolves a gateway order id through the secondary index
func (l *MemoryLedger) GetByGatewayID(gatewayOrderID string) (*types.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	localID, exists := l.byGateway[gatewayOrderID]
	if !exists {
		return nil, ErrNotFound
	}
	order, exists := l.orders[localID]
	if !exists || order.GatewayOrderID != gatewayOrderID {
		return nil, ErrIntegrity
	}
	found := *order
	return &found, nil
}

// SetStatus updates the status in place
func (l *MemoryLedger) SetStatus(localOrderID string, status types.Status) (types.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, exists := l.orders[localOrderID]
	if !exists {
		return "", ErrNotFound
	}
	previous := order.Status
	order.Status = status
	order.UpdatedAt = time.Now()
	return previous, nil
}

// ListByClient returns the client's orders, oldest first
func (l *MemoryLedger) ListByClient(clientID string, status types.Status) ([]types.Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	orders := make([]types.Order, 0)
	for _, order := range l.orders {
		if order.ClientID != clientID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, *order)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}
