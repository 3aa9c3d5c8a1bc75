package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var (
	ErrMissingFields       = errors.New("order id, payment id and signature are required")
	ErrMissingSignature    = errors.New("signature header is required")
	ErrServerMisconfigured = errors.New("webhook secret is not configured")
	ErrSignatureInvalid    = errors.New("signature verification failed")
)

// Verifier checks gateway HMAC-SHA256 signatures for the two inbound paths.
// The callback path is keyed with the API key secret and the webhook path
// with the separate webhook secret.
type Verifier struct {
	keySecret     []byte
	webhookSecret []byte
}

// NewVerifier creates a verifier. An empty webhookSecret leaves webhook
// verification unconfigured.
func NewVerifier(keySecret, webhookSecret string) *Verifier {
	return &Verifier{
		keySecret:     []byte(keySecret),
		webhookSecret: []byte(webhookSecret),
	}
}

// WebhookConfigured reports whether a webhook secret is set
func (v *Verifier) WebhookConfigured() bool {
	return len(v.webhookSecret) > 0
}

// VerifyCallback checks the signature the checkout returns to the client,
// computed over "{gatewayOrderID}|{paymentID}"
func (v *Verifier) VerifyCallback(gatewayOrderID, paymentID, claimed string) error {
	if gatewayOrderID == "" || paymentID == "" || claimed == "" {
		return ErrMissingFields
	}
	if !matches(v.keySecret, CallbackMessage(gatewayOrderID, paymentID), claimed) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyWebhook checks a webhook signature over the body bytes exactly as received
func (v *Verifier) VerifyWebhook(rawBody []byte, claimed string) error {
	if !v.WebhookConfigured() {
		return ErrServerMisconfigured
	}
	if claimed == "" {
		return ErrMissingSignature
	}
	if !matches(v.webhookSecret, rawBody, claimed) {
		return ErrSignatureInvalid
	}
	return nil
}

// CallbackMessage builds the canonical callback payload
func CallbackMessage(gatewayOrderID, paymentID string) []byte {
	return []byte(gatewayOrderID + "|" + paymentID)
}

// Sign returns the lowercase hex HMAC-SHA256 of message
func Sign(secret string, message []byte) string {
	return hex.EncodeToString(digest([]byte(secret), message))
}

// SignCallback signs a callback the way the gateway checkout does
func SignCallback(secret, gatewayOrderID, paymentID string) string {
	return Sign(secret, CallbackMessage(gatewayOrderID, paymentID))
}

func digest(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}

// matches compares hex digests in constant time
func matches(secret, message []byte, claimed string) bool {
	expected := hex.EncodeToString(digest(secret, message))
	return hmac.Equal([]byte(expected), []byte(claimed))
}
