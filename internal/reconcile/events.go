package reconcile

import (
	"github.com/ksred/payrelay/internal/types"
)

// Webhook event names understood by the relay
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentFailed     = "payment.failed"
	EventPaymentPending    = "payment.pending"
	EventOrderPaid         = "order.paid"
	EventRefundCreated     = "refund.created"
)

// WebhookEnvelope is the outer shape of a gateway webhook body
type WebhookEnvelope struct {
	Entity    string          `json:"entity"`
	AccountID string          `json:"account_id"`
	Event     string          `json:"event"`
	Contains  []string        `json:"contains"`
	Payload   *WebhookPayload `json:"payload"`
	CreatedAt int64           `json:"created_at"`
}

// WebhookPayload holds the entities attached to an event. Which of them are
// present depends on the event.
type WebhookPayload struct {
	Payment *PaymentWrapper `json:"payment,omitempty"`
	Order   *OrderWrapper   `json:"order,omitempty"`
	Refund  *RefundWrapper  `json:"refund,omitempty"`
}

type PaymentWrapper struct {
	Entity PaymentEntity `json:"entity"`
}

type OrderWrapper struct {
	Entity OrderEntity `json:"entity"`
}

type RefundWrapper struct {
	Entity RefundEntity `json:"entity"`
}

type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

type OrderEntity struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
}

type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// GatewayOrderID extracts the gateway order reference: the payment entity's
// order first, then the order entity's own id. Empty when neither is present.
func (p *WebhookPayload) GatewayOrderID() string {
	if p == nil {
		return ""
	}
	if p.Payment != nil && p.Payment.Entity.OrderID != "" {
		return p.Payment.Entity.OrderID
	}
	if p.Order != nil && p.Order.Entity.ID != "" {
		return p.Order.Entity.ID
	}
	return ""
}

// PaymentID returns the payment id carried by the event, if any
func (p *WebhookPayload) PaymentID() string {
	if p == nil {
		return ""
	}
	if p.Payment != nil {
		return p.Payment.Entity.ID
	}
	if p.Refund != nil {
		return p.Refund.Entity.PaymentID
	}
	return ""
}

// eventRule describes what an event does to the ledger
type eventRule struct {
	target types.Status
	// informational events resolve the order but never change it
	informational bool
}

var eventRules = map[string]eventRule{
	EventPaymentCaptured:   {target: types.StatusPaid},
	EventPaymentAuthorized: {target: types.StatusPaid},
	EventOrderPaid:         {target: types.StatusPaid},
	EventPaymentFailed:     {target: types.StatusFailed},
	EventPaymentPending:    {target: types.StatusPending},
	EventRefundCreated:     {informational: true},
}

// lookupRule returns the rule for an event name
func lookupRule(event string) (eventRule, bool) {
	rule, ok := eventRules[event]
	return rule, ok
}
