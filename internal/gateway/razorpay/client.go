package razorpay

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

const (
	defaultBaseURL     = "https://api.razorpay.com/v1"
	defaultHTTPTimeout = 10 * time.Second

	// maxResponseBytes ограничивает размер ответа шлюза при чтении.
	maxResponseBytes = 1 << 20
)

// Config задаёт параметры подключения к платёжному шлюзу.
type Config struct {
	BaseURL string
	// KeyID/KeySecret — ключи API для basic auth и подписи платежей.
	KeyID     string
	KeySecret string
	// WebhookSecret — отдельный секрет для подписи webhook-тел.
	WebhookSecret string
	HTTPTimeout   time.Duration
}

// Client — тонкий адаптер к API платёжного шлюза.
// Все вызовы имеют ограниченный таймаут: зависший запрос оставляет локальный
// платёж в состоянии pending, из которого его поднимет reconciliation.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *log.Entry
}

// NewClient создаёт клиент шлюза с ограниченными таймаутами.
func NewClient(cfg Config, logger *log.Entry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "razorpay-client")
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
	}
}

type intentRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

type intentResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// CreateIntent создаёт платёжное намерение на стороне шлюза.
func (c *Client) CreateIntent(orderID string, amountMinor int64, currency string) (domain.GatewayIntent, error) {
	payload := intentRequest{
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  orderID,
		Notes:    map[string]string{"orderId": orderID},
	}

	var resp intentResponse
	if err := c.post("/orders", payload, &resp); err != nil {
		return domain.GatewayIntent{}, err
	}

	return domain.GatewayIntent{
		ID:          resp.ID,
		AmountMinor: resp.Amount,
		Currency:    resp.Currency,
	}, nil
}

type refundRequest struct {
	Amount int64             `json:"amount"`
	Notes  map[string]string `json:"notes,omitempty"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
}

// Refund инициирует возврат средств по платежу шлюза.
func (c *Client) Refund(gatewayPaymentID string, amountMinor int64, notes string) (domain.GatewayRefundResult, error) {
	payload := refundRequest{Amount: amountMinor}
	if notes != "" {
		payload.Notes = map[string]string{"reason": notes}
	}

	var resp refundResponse
	path := fmt.Sprintf("/payments/%s/refund", gatewayPaymentID)
	if err := c.post(path, payload, &resp); err != nil {
		return domain.GatewayRefundResult{}, err
	}

	return domain.GatewayRefundResult{ID: resp.ID, AmountMinor: resp.Amount}, nil
}

// VerifyPaymentSignature пересчитывает подпись над orderID|gatewayPaymentID.
func (c *Client) VerifyPaymentSignature(orderID, gatewayPaymentID, signature string) bool {
	expected := signHex([]byte(orderID+"|"+gatewayPaymentID), []byte(c.cfg.KeySecret))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature проверяет подпись над сырым телом webhook.
// Сравнение выполняется до любого разбора тела: разбор до проверки позволил бы
// подделанному payload обойти контроль.
func (c *Client) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		return false
	}
	expected := signHex(rawBody, []byte(c.cfg.WebhookSecret))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// signHex считает HMAC-SHA256 и возвращает hex-представление.
func signHex(message, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) post(path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Warn("gateway request failed")
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.WithFields(log.Fields{
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("gateway returned error status")
		return fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, err)
		}
	}

	return nil
}

var _ domain.PaymentGateway = (*Client)(nil)
