package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultWebhookMaxRetries — лимит автоматических повторов для упавшего события.
const DefaultWebhookMaxRetries = 5

// WebhookEvent — зарегистрированное входящее событие шлюза.
// GatewayEventID глобально уникален и служит ключом идемпотентности:
// повторная доставка того же события обязана быть распознана до любых side effects.
type WebhookEvent struct {
	ID             string
	GatewayEventID string
	EventType      string
	PaymentID      string
	OrderID        string
	// Payload хранится как непрозрачный blob; разбираются только нужные поля.
	Payload   []byte
	Processed bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FailedWebhook — durable-запись о событии, обработка которого завершилась ошибкой.
// Записи с исчерпанными retries остаются для ручного разбора оператором.
type FailedWebhook struct {
	ID        string
	Payload   []byte
	Signature string
	// EventID пустой, если ошибка случилась до вычисления ключа идемпотентности.
	EventID     string
	EventType   string
	Error       string
	Retries     int32
	MaxRetries  int32
	LastRetryAt time.Time
	Processed   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Exhausted сообщает, исчерпаны ли автоматические повторы.
func (f *FailedWebhook) Exhausted() bool {
	return f.Retries >= f.MaxRetries
}

// GatewayEvent — узкая схема webhook-тела шлюза.
// Полная структура payload не разбирается и не валидируется: внешние данные
// считаются непрозрачным blob, из которого извлекается только необходимое.
type GatewayEvent struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	AccountID string `json:"account_id"`
	Payload   struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Notes   struct {
					OrderID string `json:"orderId"`
				} `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
			} `json:"entity"`
		} `json:"refund"`
		Shipment struct {
			Entity struct {
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"shipment"`
	} `json:"payload"`
}

// DecodeGatewayEvent разбирает сырое тело webhook в узкую схему.
func DecodeGatewayEvent(raw []byte) (GatewayEvent, error) {
	var event GatewayEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return GatewayEvent{}, fmt.Errorf("%w: %v", ErrWebhookPayloadInvalid, err)
	}
	if event.Event == "" {
		return GatewayEvent{}, fmt.Errorf("%w: event field is empty", ErrWebhookPayloadInvalid)
	}
	return event, nil
}

// IdempotencyKey возвращает ключ дедупликации события.
// Основной путь — идентификатор события от шлюза. Когда шлюз его не прислал,
// используется составной ключ event|created_at|account_id; он слабее
// (коллизии при быстрых дублях одного типа), поэтому второй результат false
// сигнализирует вызывающему коду о fallback-пути.
func (e *GatewayEvent) IdempotencyKey() (string, bool) {
	if id := strings.TrimSpace(e.ID); id != "" {
		return id, true
	}
	return fmt.Sprintf("%s|%d|%s", e.Event, e.CreatedAt, e.AccountID), false
}

// PaymentEntityID возвращает идентификатор платежа из payload события.
func (e *GatewayEvent) PaymentEntityID() string {
	if e.Payload.Payment.Entity.ID != "" {
		return e.Payload.Payment.Entity.ID
	}
	return e.Payload.Refund.Entity.PaymentID
}

// OrderRef возвращает идентификатор заказа, зашитый в notes платежа.
func (e *GatewayEvent) OrderRef() string {
	if e.Payload.Payment.Entity.Notes.OrderID != "" {
		return e.Payload.Payment.Entity.Notes.OrderID
	}
	if e.Payload.Shipment.Entity.OrderID != "" {
		return e.Payload.Shipment.Entity.OrderID
	}
	return e.Payload.Payment.Entity.OrderID
}
