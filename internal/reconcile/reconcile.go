package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ksred/payrelay/internal/ledger"
	"github.com/ksred/payrelay/internal/signature"
	"github.com/ksred/payrelay/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrderNotFound    = errors.New("no order matches the gateway order id")
	ErrMalformedPayload = errors.New("webhook payload is malformed or carries no gateway order id")
)

// Action records what a reconciliation did to the ledger
type Action string

const (
	ActionApplied       Action = "applied"
	ActionDuplicate     Action = "duplicate"
	ActionIgnored       Action = "ignored"
	ActionInformational Action = "informational"
	ActionUnmapped      Action = "unmapped"
	ActionUnresolved    Action = "unresolved"
	ActionMalformed     Action = "malformed"
	ActionFailed        Action = "failed"
)

// Result describes the outcome of one reconciled signal
type Result struct {
	Event          string       `json:"event,omitempty"`
	LocalOrderID   string       `json:"order_id,omitempty"`
	GatewayOrderID string       `json:"gateway_order_id,omitempty"`
	PaymentID      string       `json:"payment_id,omitempty"`
	Previous       types.Status `json:"previous_status,omitempty"`
	Current        types.Status `json:"status,omitempty"`
	Action         Action       `json:"action"`
}

// Notification is handed to the Notifier after a payment outcome is recorded
type Notification struct {
	Source  string
	Result  Result
	Payload *WebhookPayload
}

// Notifier receives notifications without blocking the caller
type Notifier interface {
	Notify(n Notification)
}

// Engine applies verified payment signals to the ledger
type Engine struct {
	ledger   ledger.Ledger
	verifier *signature.Verifier
	notifier Notifier
	locks    *keyedMutex
}

// NewEngine creates a reconciliation engine. notifier may be nil.
func NewEngine(l ledger.Ledger, v *signature.Verifier, notifier Notifier) *Engine {
	return &Engine{
		ledger:   l,
		verifier: v,
		notifier: notifier,
		locks:    newKeyedMutex(),
	}
}

// ReconcileCallback handles the client post-checkout callback.
// Verification and missing-field failures are returned untouched so the
// caller can reject the request. A valid callback marks the order paid.
func (e *Engine) ReconcileCallback(gatewayOrderID, paymentID, claimedSignature string) (*Result, error) {
	logger := log.With().
		Str("service", "reconcile").
		Str("source", "callback").
		Str("gateway_order_id", gatewayOrderID).
		Str("payment_id", paymentID).
		Logger()

	if err := e.verifier.VerifyCallback(gatewayOrderID, paymentID, claimedSignature); err != nil {
		logger.Warn().Err(err).Msg("callback rejected")
		return nil, err
	}

	order, err := e.ledger.GetByGatewayID(gatewayOrderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			logger.Warn().Msg("callback for unknown order")
			return nil, ErrOrderNotFound
		}
		logger.Error().Err(err).Msg("failed to resolve gateway order")
		return nil, fmt.Errorf("failed to resolve gateway order: %w", err)
	}

	result, err := e.transition(order.LocalOrderID, types.StatusPaid, logger)
	if err != nil {
		return nil, err
	}
	result.GatewayOrderID = gatewayOrderID
	result.PaymentID = paymentID

	if result.Action == ActionApplied {
		e.notify(Notification{Source: "callback", Result: *result})
	}
	return result, nil
}

// WebhookConfigured reports whether webhooks can be verified at all
func (e *Engine) WebhookConfigured() bool {
	return e.verifier.WebhookConfigured()
}

// ReconcileWebhook verifies a raw webhook body and only then decodes it.
// A body whose event is known but whose payload does not decode is reported
// as malformed under that event name.
func (e *Engine) ReconcileWebhook(rawBody []byte, signatureHeader string) (*Result, error) {
	logger := log.With().
		Str("service", "reconcile").
		Str("source", "webhook").
		Logger()

	if err := e.verifier.VerifyWebhook(rawBody, signatureHeader); err != nil {
		logger.Warn().Err(err).Msg("webhook rejected")
		return nil, err
	}

	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(rawBody, &head); err != nil {
		logger.Warn().Err(ErrMalformedPayload).Str("decode_error", err.Error()).Msg("webhook body does not decode")
		return &Result{Action: ActionMalformed}, nil
	}
	logger = logger.With().Str("event", head.Event).Logger()

	if _, ok := lookupRule(head.Event); !ok {
		logger.Info().Msg("unhandled webhook event")
		return &Result{Event: head.Event, Action: ActionUnmapped}, nil
	}

	var envelope WebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		logger.Warn().Err(ErrMalformedPayload).Str("decode_error", err.Error()).Msg("webhook payload does not decode")
		return &Result{Event: head.Event, Action: ActionMalformed}, nil
	}

	return e.applyWebhookEvent(head.Event, envelope.Payload, logger), nil
}

// ReconcileWebhookEvent handles a gateway webhook whose payload the caller
// already decoded. The signature over rawBody is checked before the event or
// payload is looked at, and only verification errors are returned. Every
// business-level miss is logged and reported through the Result so the
// webhook can still be acknowledged.
func (e *Engine) ReconcileWebhookEvent(eventName string, payload *WebhookPayload, rawBody []byte, signatureHeader string) (*Result, error) {
	logger := log.With().
		Str("service", "reconcile").
		Str("source", "webhook").
		Str("event", eventName).
		Logger()

	if err := e.verifier.VerifyWebhook(rawBody, signatureHeader); err != nil {
		logger.Warn().Err(err).Msg("webhook rejected")
		return nil, err
	}

	return e.applyWebhookEvent(eventName, payload, logger), nil
}

func (e *Engine) applyWebhookEvent(eventName string, payload *WebhookPayload, logger zerolog.Logger) *Result {
	result := &Result{Event: eventName}

	rule, ok := lookupRule(eventName)
	if !ok {
		logger.Info().Msg("unhandled webhook event")
		result.Action = ActionUnmapped
		return result
	}

	gatewayOrderID := payload.GatewayOrderID()
	result.PaymentID = payload.PaymentID()
	if gatewayOrderID == "" {
		logger.Warn().Err(ErrMalformedPayload).Msg("cannot extract gateway order id")
		result.Action = ActionMalformed
		return result
	}
	result.GatewayOrderID = gatewayOrderID
	logger = logger.With().Str("gateway_order_id", gatewayOrderID).Logger()

	order, err := e.ledger.GetByGatewayID(gatewayOrderID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			logger.Warn().Msg("webhook for unknown order")
		} else {
			logger.Error().Err(err).Msg("failed to resolve gateway order")
		}
		result.Action = ActionUnresolved
		return result
	}
	result.LocalOrderID = order.LocalOrderID

	if rule.informational {
		logger.Info().Str("local_order_id", order.LocalOrderID).Msg("informational webhook event")
		result.Previous = order.Status
		result.Current = order.Status
		result.Action = ActionInformational
		e.notify(Notification{Source: "webhook", Result: *result, Payload: payload})
		return result
	}

	transitioned, err := e.transition(order.LocalOrderID, rule.target, logger)
	if err != nil {
		result.Action = ActionFailed
		return result
	}
	result.Previous = transitioned.Previous
	result.Current = transitioned.Current
	result.Action = transitioned.Action

	if result.Action == ActionApplied {
		e.notify(Notification{Source: "webhook", Result: *result, Payload: payload})
	}
	return result
}

// transition moves an order toward target under the order's lock.
// Repeating the current status is a no-op and terminal states never
// regress: pending after paid or failed, and failed after paid, are ignored.
func (e *Engine) transition(localOrderID string, target types.Status, logger zerolog.Logger) (*Result, error) {
	unlock := e.locks.Lock(localOrderID)
	defer unlock()

	logger = logger.With().
		Str("local_order_id", localOrderID).
		Str("target_status", string(target)).
		Logger()

	order, err := e.ledger.GetByLocalID(localOrderID)
	if err != nil {
		logger.Error().Err(err).Msg("order vanished during reconciliation")
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	result := &Result{
		LocalOrderID: localOrderID,
		Previous:     order.Status,
		Current:      order.Status,
	}

	switch {
	case order.Status == target:
		logger.Debug().Msg("duplicate signal, nothing to do")
		result.Action = ActionDuplicate
		return result, nil
	case !allowed(order.Status, target):
		logger.Info().Str("status", string(order.Status)).Msg("ignoring regressive transition")
		result.Action = ActionIgnored
		return result, nil
	}

	previous, err := e.ledger.SetStatus(localOrderID, target)
	if err != nil {
		logger.Error().Err(err).Msg("failed to update order status")
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	logger.Info().Str("previous_status", string(previous)).Msg("order status updated")
	result.Previous = previous
	result.Current = target
	result.Action = ActionApplied
	return result, nil
}

// allowed reports whether from -> to moves forward
func allowed(from, to types.Status) bool {
	switch to {
	case types.StatusPaid:
		return true
	case types.StatusFailed:
		return from != types.StatusPaid
	default:
		return !from.IsTerminal()
	}
}

func (e *Engine) notify(n Notification) {
	if e.notifier != nil {
		e.notifier.Notify(n)
	}
}
