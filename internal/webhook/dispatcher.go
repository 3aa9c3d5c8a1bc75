package webhook

import (
	"context"

	"github.com/ksred/payrelay/internal/reconcile"
	"github.com/rs/zerolog/log"
)

// HandlerFunc performs a follow-up action for a recorded payment outcome
type HandlerFunc func(ctx context.Context, n reconcile.Notification)

// Dispatcher runs follow-up actions off the request path so webhook and
// callback acknowledgments never wait on them
type Dispatcher struct {
	queue    chan reconcile.Notification
	handlers []HandlerFunc
}

// NewDispatcher creates a dispatcher buffering up to size notifications
func NewDispatcher(size int, handlers ...HandlerFunc) *Dispatcher {
	if size <= 0 {
		size = 256
	}
	if len(handlers) == 0 {
		handlers = []HandlerFunc{LogOutcome}
	}
	return &Dispatcher{
		queue:    make(chan reconcile.Notification, size),
		handlers: handlers,
	}
}

// Notify enqueues n without blocking. When the queue is full the
// notification is dropped with a warning.
func (d *Dispatcher) Notify(n reconcile.Notification) {
	select {
	case d.queue <- n:
	default:
		log.Warn().
			Str("component", "webhook_dispatcher").
			Str("local_order_id", n.Result.LocalOrderID).
			Str("event", n.Result.Event).
			Msg("dispatch queue full, dropping notification")
	}
}

// Start drains the queue until ctx is cancelled
func (d *Dispatcher) Start(ctx context.Context) {
	logger := log.With().Str("component", "webhook_dispatcher").Logger()
	logger.Info().Msg("starting webhook dispatcher")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("pending", len(d.queue)).Msg("shutting down webhook dispatcher")
			return
		case n := <-d.queue:
			d.dispatch(ctx, n)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, n reconcile.Notification) {
	for _, handle := range d.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Str("component", "webhook_dispatcher").
						Str("local_order_id", n.Result.LocalOrderID).
						Interface("panic", r).
						Msg("notification handler panicked")
				}
			}()
			handle(ctx, n)
		}()
	}
}

// LogOutcome records the payment outcome in the service log
func LogOutcome(_ context.Context, n reconcile.Notification) {
	event := log.Info().
		Str("component", "webhook_dispatcher").
		Str("source", n.Source).
		Str("local_order_id", n.Result.LocalOrderID).
		Str("gateway_order_id", n.Result.GatewayOrderID).
		Str("payment_id", n.Result.PaymentID).
		Str("status", string(n.Result.Current)).
		Str("action", string(n.Result.Action))

	if n.Result.Event != "" {
		event = event.Str("event", n.Result.Event)
	}
	if n.Payload != nil && n.Payload.Refund != nil {
		event = event.
			Str("refund_id", n.Payload.Refund.Entity.ID).
			Int64("refund_amount", n.Payload.Refund.Entity.Amount)
	}

	event.Msg("payment outcome recorded")
}
