package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderCreated       EventType = "order.created"
	EventTypeOrderStatusChanged EventType = "order.status_changed"
	EventTypeOrderCancelled     EventType = "order.cancelled"

	// Payment события
	EventTypePaymentCreated  EventType = "payment.created"
	EventTypePaymentCaptured EventType = "payment.captured"
	EventTypePaymentFailed   EventType = "payment.failed"
	EventTypePaymentRefunded EventType = "payment.refunded"

	// Webhook события
	EventTypeWebhookFailed EventType = "webhook.failed"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "shopcore.order.events"
	TopicPaymentEvents   = "shopcore.payment.events"
	TopicDeadLetterQueue = "shopcore.dlq"
)

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	UserID    string                 `json:"user_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PaymentEvent представляет событие платежа
type PaymentEvent struct {
	EventType EventType              `json:"event_type"`
	PaymentID string                 `json:"payment_id"`
	OrderID   string                 `json:"order_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, userID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewPaymentEvent создает новое событие платежа
func NewPaymentEvent(eventType EventType, paymentID, orderID, status string, metadata map[string]interface{}) *PaymentEvent {
	return &PaymentEvent{
		EventType: eventType,
		PaymentID: paymentID,
		OrderID:   orderID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
