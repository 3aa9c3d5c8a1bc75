package orders

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/ksred/payrelay/internal/auth"
	"github.com/ksred/payrelay/internal/reconcile"
	"github.com/ksred/payrelay/internal/types"
	"github.com/ksred/payrelay/pkg/response"
)

// CreateOrderResponse is returned to the client, which needs the key id
// and gateway order id to open the checkout
type CreateOrderResponse struct {
	*types.Order
	KeyID string `json:"key_id"`
}

// CallbackRequest is what the checkout hands back to the client after payment
type CallbackRequest struct {
	GatewayOrderID string `json:"razorpay_order_id"`
	PaymentID      string `json:"razorpay_payment_id"`
	Signature      string `json:"razorpay_signature"`
}

// CallbackResponse acknowledges a verified callback
type CallbackResponse struct {
	OrderID   string       `json:"order_id"`
	PaymentID string       `json:"payment_id"`
	Status    types.Status `json:"status"`
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
	engine  *reconcile.Engine
	keyID   string
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service, engine *reconcile.Engine, keyID string) *GinHandlers {
	return &GinHandlers{
		service: service,
		engine:  engine,
		keyID:   keyID,
	}
}

// CreateOrderHandler handles POST requests to create new orders
// Requires a valid JWT token
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		order, err := h.service.CreateOrder(c.Request.Context(), c.GetString("clientID"), req)
		if errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrUnsupportedCurrency) {
			response.ValidationFailed(c, err.Error())
			return
		}
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, CreateOrderResponse{Order: order, KeyID: h.keyID})
	}
}

// ListOrdersHandler handles GET requests listing the caller's orders
// Optional query parameter: status (pending, paid or failed)
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		clientID := auth.GetClientID(claims)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		status := types.Status(c.Query("status"))
		switch status {
		case "", types.StatusPending, types.StatusPaid, types.StatusFailed:
		default:
			response.BadRequest(c, "Unknown status filter: "+string(status))
			return
		}

		orders, err := h.service.ListOrders(clientID, status)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.OK(c, orders)
	}
}

// GetOrderStatusHandler handles GET requests to retrieve order status
// Requires a valid JWT token
// URL parameter: order_id
func (h *GinHandlers) GetOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		clientID := auth.GetClientID(claims)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(orderID, clientID)
		if err != nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}

// PaymentCallbackHandler handles the post-checkout callback submitted by the client.
// The signature is the gateway's HMAC over "order_id|payment_id".
func (h *GinHandlers) PaymentCallbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CallbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		result, err := h.engine.ReconcileCallback(req.GatewayOrderID, req.PaymentID, req.Signature)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.OK(c, CallbackResponse{
			OrderID:   result.LocalOrderID,
			PaymentID: req.PaymentID,
			Status:    result.Current,
		})
	}
}
