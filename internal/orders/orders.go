package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/payrelay/internal/gateway"
	"github.com/ksred/payrelay/internal/ledger"
	"github.com/ksred/payrelay/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive with at most two decimal places")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// maxMinorUnits bounds amounts so the minor-unit value fits the gateway's int64
var maxMinorUnits = decimal.NewFromInt(math.MaxInt64)

// CreateOrderRequest is the body of an order creation request
type CreateOrderRequest struct {
	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency" binding:"required"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

// Service creates gateway orders and records them in the ledger
type Service struct {
	ledger  ledger.Ledger
	gateway gateway.Client
}

// NewService creates an order service
func NewService(l ledger.Ledger, gw gateway.Client) *Service {
	return &Service{
		ledger:  l,
		gateway: gw,
	}
}

// CreateOrder opens an order on the gateway and, once the gateway confirms,
// stores it locally as pending. Nothing is written if the gateway call fails.
func (s *Service) CreateOrder(ctx context.Context, clientID string, req CreateOrderRequest) (*types.Order, error) {
	currency := types.Currency(strings.ToUpper(req.Currency))
	if !currency.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, ErrInvalidAmount
	}
	minorUnits := req.Amount.Shift(2)
	if !minorUnits.LessThan(maxMinorUnits) {
		return nil, fmt.Errorf("%w: %s exceeds the largest chargeable amount", ErrInvalidAmount, req.Amount)
	}

	localOrderID := uuid.New().String()
	receipt := req.Receipt
	if receipt == "" {
		receipt = localOrderID
	}

	logger := log.With().
		Str("service", "orders").
		Str("local_order_id", localOrderID).
		Str("client_id", clientID).
		Logger()

	notes := map[string]string{"local_order_id": localOrderID}
	for k, v := range req.Notes {
		if k != "local_order_id" {
			notes[k] = v
		}
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:   minorUnits.IntPart(),
		Currency: string(currency),
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		logger.Error().Err(err).Msg("gateway order creation failed")
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}

	now := time.Now()
	order := &types.Order{
		LocalOrderID:   localOrderID,
		GatewayOrderID: gwOrder.ID,
		ClientID:       clientID,
		Amount:         req.Amount,
		Currency:       currency,
		Receipt:        receipt,
		Status:         types.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.ledger.Put(order); err != nil {
		logger.Error().
			Err(err).
			Str("gateway_order_id", gwOrder.ID).
			Msg("failed to record order in ledger")
		return nil, fmt.Errorf("failed to record order: %w", err)
	}

	logger.Info().
		Str("gateway_order_id", order.GatewayOrderID).
		Str("amount", order.Amount.StringFixed(2)).
		Str("currency", string(order.Currency)).
		Msg("order created")

	return order, nil
}

// GetOrder returns the order if it belongs to clientID
func (s *Service) GetOrder(localOrderID, clientID string) (*types.Order, error) {
	order, err := s.ledger.GetByLocalID(localOrderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != clientID {
		return nil, ledger.ErrNotFound
	}
	return order, nil
}

// ListOrders returns the client's orders oldest first, optionally narrowed to
// one status. An empty status matches every order.
func (s *Service) ListOrders(clientID string, status types.Status) ([]types.Order, error) {
	return s.ledger.ListByClient(clientID, status)
}
