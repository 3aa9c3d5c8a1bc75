package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keySecret     = "key-secret"
	webhookSecret = "webhook-secret"
)

// flip returns s with the byte at i changed
func flip(s string, i int) string {
	b := []byte(s)
	b[i] ^= 0x01
	return string(b)
}

func TestSign_MatchesHMACSHA256(t *testing.T) {
	mac := hmac.New(sha256.New, []byte(keySecret))
	mac.Write([]byte("order_abc|pay_123"))
	expected := hex.EncodeToString(mac.Sum(nil))

	assert.Equal(t, expected, SignCallback(keySecret, "order_abc", "pay_123"))
	assert.Equal(t, expected, Sign(keySecret, []byte("order_abc|pay_123")))
}

func TestVerifyCallback(t *testing.T) {
	v := NewVerifier(keySecret, webhookSecret)
	orderID, paymentID := "order_abc", "pay_123"
	valid := SignCallback(keySecret, orderID, paymentID)

	require.NoError(t, v.VerifyCallback(orderID, paymentID, valid))

	t.Run("missing fields", func(t *testing.T) {
		assert.ErrorIs(t, v.VerifyCallback("", paymentID, valid), ErrMissingFields)
		assert.ErrorIs(t, v.VerifyCallback(orderID, "", valid), ErrMissingFields)
		assert.ErrorIs(t, v.VerifyCallback(orderID, paymentID, ""), ErrMissingFields)
	})

	t.Run("any single byte mutation fails", func(t *testing.T) {
		for i := range valid {
			assert.ErrorIs(t, v.VerifyCallback(orderID, paymentID, flip(valid, i)), ErrSignatureInvalid)
		}
		for i := range orderID {
			assert.ErrorIs(t, v.VerifyCallback(flip(orderID, i), paymentID, valid), ErrSignatureInvalid)
		}
		for i := range paymentID {
			assert.ErrorIs(t, v.VerifyCallback(orderID, flip(paymentID, i), valid), ErrSignatureInvalid)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		forged := SignCallback("other-secret", orderID, paymentID)
		assert.ErrorIs(t, v.VerifyCallback(orderID, paymentID, forged), ErrSignatureInvalid)
	})

	t.Run("webhook secret does not sign callbacks", func(t *testing.T) {
		forged := SignCallback(webhookSecret, orderID, paymentID)
		assert.ErrorIs(t, v.VerifyCallback(orderID, paymentID, forged), ErrSignatureInvalid)
	})

	t.Run("truncated signature", func(t *testing.T) {
		assert.ErrorIs(t, v.VerifyCallback(orderID, paymentID, valid[:len(valid)-1]), ErrSignatureInvalid)
	})
}

func TestVerifyWebhook(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"order_id":"order_abc"}}}}`)
	valid := Sign(webhookSecret, body)

	t.Run("valid", func(t *testing.T) {
		v := NewVerifier(keySecret, webhookSecret)
		assert.NoError(t, v.VerifyWebhook(body, valid))
	})

	t.Run("unconfigured secret", func(t *testing.T) {
		v := NewVerifier(keySecret, "")
		assert.False(t, v.WebhookConfigured())
		assert.ErrorIs(t, v.VerifyWebhook(body, valid), ErrServerMisconfigured)
	})

	t.Run("missing signature", func(t *testing.T) {
		v := NewVerifier(keySecret, webhookSecret)
		assert.ErrorIs(t, v.VerifyWebhook(body, ""), ErrMissingSignature)
	})

	t.Run("re-serialized body does not verify", func(t *testing.T) {
		v := NewVerifier(keySecret, webhookSecret)
		reformatted := []byte(`{"event": "payment.captured", "payload": {"payment": {"entity": {"order_id": "order_abc"}}}}`)
		assert.ErrorIs(t, v.VerifyWebhook(reformatted, valid), ErrSignatureInvalid)
	})

	t.Run("tampered signature", func(t *testing.T) {
		v := NewVerifier(keySecret, webhookSecret)
		assert.ErrorIs(t, v.VerifyWebhook(body, flip(valid, 3)), ErrSignatureInvalid)
	})

	t.Run("key secret does not sign webhooks", func(t *testing.T) {
		v := NewVerifier(keySecret, webhookSecret)
		assert.ErrorIs(t, v.VerifyWebhook(body, Sign(keySecret, body)), ErrSignatureInvalid)
	})
}
