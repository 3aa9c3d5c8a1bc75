package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/payrelay/internal/ledger"
	"github.com/ksred/payrelay/internal/reconcile"
	"github.com/ksred/payrelay/internal/signature"
	"github.com/ksred/payrelay/internal/types"
	"github.com/ksred/payrelay/pkg/response"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "webhook-secret"

type envelope struct {
	Success bool            `json:"success"`
	Data    *Ack            `json:"data"`
	Error   *response.Error `json:"error"`
}

func newRouter(t *testing.T, secret string) (*gin.Engine, *ledger.MemoryLedger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := ledger.NewMemoryLedger()
	now := time.Now()
	require.NoError(t, l.Put(&types.Order{
		LocalOrderID:   "local-1",
		GatewayOrderID: "order_abc",
		Amount:         decimal.RequireFromString("100.00"),
		Currency:       types.CurrencyINR,
		Status:         types.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))

	engine := reconcile.NewEngine(l, signature.NewVerifier("key-secret", secret), nil)
	router := gin.New()
	router.POST("/webhooks/razorpay", NewGinHandlers(engine).WebhookHandler())
	return router, l
}

func post(t *testing.T, router *gin.Engine, body []byte, sig string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

func status(t *testing.T, l *ledger.MemoryLedger) types.Status {
	t.Helper()
	order, err := l.GetByLocalID("local-1")
	require.NoError(t, err)
	return order.Status
}

const capturedBody = `{"entity":"event","event":"payment.captured","contains":["payment"],` +
	`"payload":{"payment":{"entity":{"id":"pay_123","order_id":"order_abc","status":"captured","amount":10000}}}}`

func TestWebhookHandler_CapturedAndReplay(t *testing.T) {
	router, l := newRouter(t, webhookSecret)
	body := []byte(capturedBody)
	sig := signature.Sign(webhookSecret, body)

	rr, env := post(t, router, body, sig)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotNil(t, env.Data)
	assert.True(t, env.Data.Received)
	assert.Equal(t, reconcile.ActionApplied, env.Data.Action)
	assert.Equal(t, types.StatusPaid, status(t, l))

	rr, env = post(t, router, body, sig)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, reconcile.ActionDuplicate, env.Data.Action)
	assert.Equal(t, types.StatusPaid, status(t, l))
}

func TestWebhookHandler_Rejections(t *testing.T) {
	body := []byte(capturedBody)

	t.Run("tampered signature", func(t *testing.T) {
		router, l := newRouter(t, webhookSecret)
		rr, env := post(t, router, body, signature.Sign("forged", body))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, response.ErrCodeInvalidSignature, env.Error.Code)
		assert.Equal(t, types.StatusPending, status(t, l))
	})

	t.Run("tampered body", func(t *testing.T) {
		router, l := newRouter(t, webhookSecret)
		sig := signature.Sign(webhookSecret, body)
		tampered := bytes.Replace(body, []byte("captured"), []byte("capturex"), 1)
		rr, _ := post(t, router, tampered, sig)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, types.StatusPending, status(t, l))
	})

	t.Run("missing signature header", func(t *testing.T) {
		router, l := newRouter(t, webhookSecret)
		rr, env := post(t, router, body, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, response.ErrCodeMissingSignature, env.Error.Code)
		assert.Equal(t, types.StatusPending, status(t, l))
	})

	t.Run("webhook secret not configured", func(t *testing.T) {
		router, l := newRouter(t, "")
		rr, env := post(t, router, body, signature.Sign(webhookSecret, body))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, response.ErrCodeServerMisconfigured, env.Error.Code)
		assert.Equal(t, types.StatusPending, status(t, l))
	})
}

func TestWebhookHandler_AcknowledgesBusinessMisses(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		event  string
		action reconcile.Action
	}{
		{
			name:   "unmapped event",
			body:   `{"event":"subscription.charged","payload":{}}`,
			action: reconcile.ActionUnmapped,
		},
		{
			name:   "unknown order",
			body:   `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_zzz"}}}}`,
			action: reconcile.ActionUnresolved,
		},
		{
			name:   "no order reference",
			body:   `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1"}}}}`,
			action: reconcile.ActionMalformed,
		},
		{
			name:   "body is not json",
			body:   `not json at all`,
			action: reconcile.ActionMalformed,
		},
		{
			name:   "mistyped payload field",
			body:   `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_abc","amount":"10000"}}}}`,
			event:  "payment.captured",
			action: reconcile.ActionMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, l := newRouter(t, webhookSecret)
			body := []byte(tt.body)

			rr, env := post(t, router, body, signature.Sign(webhookSecret, body))
			assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			require.NotNil(t, env.Data)
			assert.True(t, env.Data.Received)
			assert.Equal(t, tt.action, env.Data.Action)
			assert.Equal(t, types.StatusPending, status(t, l))
		})
	}
}

func TestWebhookHandler_PaidIsNotRegressed(t *testing.T) {
	router, l := newRouter(t, webhookSecret)
	_, err := l.SetStatus("local-1", types.StatusPaid)
	require.NoError(t, err)

	for _, event := range []string{"payment.failed", "payment.pending"} {
		body := []byte(`{"event":"` + event + `","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_abc"}}}}`)
		rr, env := post(t, router, body, signature.Sign(webhookSecret, body))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, reconcile.ActionIgnored, env.Data.Action, event)
		assert.Equal(t, types.StatusPaid, status(t, l), event)
	}
}

func TestWebhookHandler_OversizeBody(t *testing.T) {
	body := []byte(`{"event":"payment.captured","padding":"` + strings.Repeat("x", maxBodyBytes) + `",` +
		`"payload":{"payment":{"entity":{"id":"pay_123","order_id":"order_abc"}}}}`)

	t.Run("signed oversize body", func(t *testing.T) {
		router, l := newRouter(t, webhookSecret)
		rr, env := post(t, router, body, signature.Sign(webhookSecret, body))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, response.ErrCodePayloadTooLarge, env.Error.Code)
		assert.Equal(t, types.StatusPending, status(t, l))
	})

	t.Run("misconfiguration is reported before the body is read", func(t *testing.T) {
		router, l := newRouter(t, "")
		rr, env := post(t, router, body, signature.Sign(webhookSecret, body))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, response.ErrCodeServerMisconfigured, env.Error.Code)
		assert.Equal(t, types.StatusPending, status(t, l))
	})
}
