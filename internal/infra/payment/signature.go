package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifyPaymentSignature checks a client-submitted payment confirmation.
// The canonical signed string is "<orderID>|<paymentID>", HMAC-SHA256 with the
// key secret, hex encoded. Comparison is constant time.
func VerifyPaymentSignature(orderID, paymentID, signature, secret string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature checks an asynchronous gateway delivery. The entire
// raw request body is HMAC-SHA256 signed with the webhook secret and carried
// in the x-razorpay-signature header.
func VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	if len(rawBody) == 0 || signature == "" {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(rawBody)
	expected := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayment produces the signature the gateway would emit for an
// order/payment pair. Used by tests and the sandbox tooling.
func SignPayment(orderID, paymentID, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(h.Sum(nil))
}

// SignWebhook produces the webhook body signature for a secret.
func SignWebhook(rawBody []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(rawBody)
	return hex.EncodeToString(h.Sum(nil))
}
