package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrRejected    = errors.New("gateway rejected the order")
	ErrUnavailable = errors.New("gateway unavailable")
)

// OrderRequest asks the gateway to open an order. Amount is in the
// currency's minor unit.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the gateway's view of a created order
type Order struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// Client creates orders on the payment gateway
type Client interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// RazorpayClient talks to the Razorpay orders API
type RazorpayClient struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

// NewRazorpayClient creates a client authenticating with the key pair
func NewRazorpayClient(baseURL, keyID, keySecret string, timeout time.Duration) *RazorpayClient {
	return &RazorpayClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateOrder posts the order and returns the gateway's record of it
func (c *RazorpayClient) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	logger := log.With().
		Str("service", "gateway").
		Str("receipt", req.Receipt).
		Int64("amount", req.Amount).
		Str("currency", req.Currency).
		Logger()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		logger.Error().Err(err).Msg("gateway request failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}

	logger.Debug().
		Int("status_code", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("gateway responded")

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var gwErr errorResponse
		if err := json.Unmarshal(respBody, &gwErr); err == nil && gwErr.Error.Description != "" {
			return nil, fmt.Errorf("%w: %s", ErrRejected, gwErr.Error.Description)
		}
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var order Order
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, fmt.Errorf("failed to decode gateway order: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: response carries no order id", ErrRejected)
	}

	logger.Info().Str("gateway_order_id", order.ID).Msg("gateway order created")
	return &order, nil
}

// FakeClient mints gateway orders locally, for development and load simulation
type FakeClient struct{}

func NewFakeClient() *FakeClient { return &FakeClient{} }

func (f *FakeClient) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := strings.ReplaceAll(uuid.New().String(), "-", "")

	return &Order{
		ID:        "order_" + id[:14],
		Entity:    "order",
		Amount:    req.Amount,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Status:    "created",
		CreatedAt: time.Now().Unix(),
	}, nil
}
