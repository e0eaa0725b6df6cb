package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// MockGateway — локальная реализация платёжного шлюза для тестов и dev-режима.
// Подписи считаются тем же HMAC-SHA256, что и у реального шлюза, поэтому
// проверочная логика сервиса покрывается без сетевых вызовов.
type MockGateway struct {
	KeySecret     string
	WebhookSecret string

	// FailCreateIntent и FailRefund имитируют недоступность шлюза.
	FailCreateIntent bool
	FailRefund       bool

	mu      sync.Mutex
	intents int
	refunds int
}

// NewMockGateway создаёт мок с заданными секретами.
func NewMockGateway(keySecret, webhookSecret string) *MockGateway {
	return &MockGateway{KeySecret: keySecret, WebhookSecret: webhookSecret}
}

// CreateIntent возвращает синтетическое платёжное намерение.
func (g *MockGateway) CreateIntent(orderID string, amountMinor int64, currency string) (domain.GatewayIntent, error) {
	if g.FailCreateIntent {
		return domain.GatewayIntent{}, domain.ErrGatewayUnavailable
	}

	g.mu.Lock()
	g.intents++
	n := g.intents
	g.mu.Unlock()

	return domain.GatewayIntent{
		ID:          fmt.Sprintf("order_mock_%d_%s", n, orderID),
		AmountMinor: amountMinor,
		Currency:    currency,
	}, nil
}

// Refund возвращает синтетический результат возврата.
func (g *MockGateway) Refund(gatewayPaymentID string, amountMinor int64, notes string) (domain.GatewayRefundResult, error) {
	if g.FailRefund {
		return domain.GatewayRefundResult{}, domain.ErrGatewayUnavailable
	}

	g.mu.Lock()
	g.refunds++
	n := g.refunds
	g.mu.Unlock()

	return domain.GatewayRefundResult{
		ID:          fmt.Sprintf("rfnd_mock_%d", n),
		AmountMinor: amountMinor,
	}, nil
}

// VerifyPaymentSignature пересчитывает подпись над orderID|gatewayPaymentID.
func (g *MockGateway) VerifyPaymentSignature(orderID, gatewayPaymentID, signature string) bool {
	expected := mockSignHex([]byte(orderID+"|"+gatewayPaymentID), []byte(g.KeySecret))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature проверяет подпись над сырым телом webhook.
func (g *MockGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		return false
	}
	expected := mockSignHex(rawBody, []byte(g.WebhookSecret))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// SignPayment строит валидную подпись платежа; используется в тестах.
func (g *MockGateway) SignPayment(orderID, gatewayPaymentID string) string {
	return mockSignHex([]byte(orderID+"|"+gatewayPaymentID), []byte(g.KeySecret))
}

// SignWebhook строит валидную подпись webhook-тела; используется в тестах.
func (g *MockGateway) SignWebhook(rawBody []byte) string {
	return mockSignHex(rawBody, []byte(g.WebhookSecret))
}

func mockSignHex(message, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
