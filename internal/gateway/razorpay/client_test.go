package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

func signTest(message, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyPaymentSignature(t *testing.T) {
	client := NewClient(Config{KeySecret: "key-secret"}, nil)

	good := signTest("order-1|pay_1", "key-secret")
	if !client.VerifyPaymentSignature("order-1", "pay_1", good) {
		t.Error("expected valid signature to pass")
	}
	if client.VerifyPaymentSignature("order-1", "pay_1", "deadbeef") {
		t.Error("expected forged signature to fail")
	}
	if client.VerifyPaymentSignature("order-2", "pay_1", good) {
		t.Error("expected signature over other order to fail")
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	client := NewClient(Config{WebhookSecret: "hook-secret"}, nil)
	body := []byte(`{"event":"payment.captured","id":"evt_1"}`)

	good := signTest(string(body), "hook-secret")
	if !client.VerifyWebhookSignature(body, good) {
		t.Error("expected valid webhook signature to pass")
	}
	if client.VerifyWebhookSignature(body, "") {
		t.Error("expected empty signature to fail")
	}

	// Подпись валидна только для исходного сырого тела.
	tampered := append([]byte(nil), body...)
	tampered[10] = 'X'
	if client.VerifyWebhookSignature(tampered, good) {
		t.Error("expected tampered body to fail verification")
	}
}

func TestCreateIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, _, ok := r.BasicAuth()
		if !ok || user != "key-id" {
			t.Error("expected basic auth with key id")
		}
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["amount"].(float64) != 550 {
			t.Errorf("unexpected amount %v", req["amount"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":       "intent_1",
			"amount":   550,
			"currency": "INR",
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, KeyID: "key-id", KeySecret: "secret"}, nil)
	intent, err := client.CreateIntent("order-1", 550, "INR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.ID != "intent_1" || intent.AmountMinor != 550 {
		t.Errorf("unexpected intent %+v", intent)
	}
}

func TestCreateIntent_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)
	if _, err := client.CreateIntent("order-1", 100, "INR"); !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/pay_1/refund" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "rfnd_1", "amount": 550})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL}, nil)
	refund, err := client.Refund("pay_1", 550, "customer request")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refund.ID != "rfnd_1" {
		t.Errorf("unexpected refund %+v", refund)
	}
}
