package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора покупателя.
	ErrUserRequired = errors.New("user_id is required")
	// Ошибка отсутствующего адреса доставки.
	ErrAddressRequired = errors.New("address_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего кода платёжного шлюза.
	ErrGatewayRequired = errors.New("payment gateway is required")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка неподдерживаемого способа оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method is invalid")
	// Ошибка неподдерживаемого типа складского движения.
	ErrMovementTypeInvalid = errors.New("stock movement type is invalid")
	// Ошибка некорректного количества в складском движении.
	ErrMovementQtyInvalid = errors.New("stock movement qty is invalid")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrProductNotFound возвращается при неизвестном товаре или варианте.
	ErrProductNotFound = errors.New("product not found")
	// ErrWebhookNotFound возвращается при неизвестном webhook-событии.
	ErrWebhookNotFound = errors.New("webhook event not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")

	// ErrCartEmpty — попытка оформить заказ из пустой корзины.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrInsufficientStock — запрошенное количество превышает остаток.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition — переход статуса заказа вне таблицы переходов.
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrUnauthorized — запрос без аутентифицированного принципала.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden — принципал не владеет запрошенным ресурсом.
	ErrForbidden = errors.New("forbidden")

	// ErrOrderNotPayable — платёж допустим только для заказа в статусе pending.
	ErrOrderNotPayable = errors.New("order is not payable")
	// ErrPaymentNotRefundable — возврат допустим только для оплаченного платежа.
	ErrPaymentNotRefundable = errors.New("payment is not refundable")
	// ErrSignatureInvalid — подпись платежа не совпала с пересчитанной.
	ErrSignatureInvalid = errors.New("payment signature mismatch")

	// ErrWebhookSignatureMissing — входящий webhook без заголовка подписи.
	ErrWebhookSignatureMissing = errors.New("webhook signature header is missing")
	// ErrWebhookSignatureInvalid — подпись webhook не прошла проверку.
	ErrWebhookSignatureInvalid = errors.New("webhook signature is invalid")
	// ErrWebhookPayloadTooLarge — тело webhook превышает допустимый размер.
	ErrWebhookPayloadTooLarge = errors.New("webhook payload too large")
	// ErrWebhookDuplicate — событие с таким gateway_event_id уже зарегистрировано.
	ErrWebhookDuplicate = errors.New("webhook event already registered")
	// ErrWebhookPayloadInvalid — тело webhook не удалось разобрать.
	ErrWebhookPayloadInvalid = errors.New("webhook payload is invalid")
	// ErrWebhookProcessingFailed — обработчик события упал; событие
	// зарегистрировано, шлюзу отвечаем ошибкой, чтобы он повторил доставку.
	ErrWebhookProcessingFailed = errors.New("webhook processing failed")

	// ErrGatewayUnavailable — ошибка вызова внешнего платёжного шлюза.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// InsufficientStockError уточняет, по какой позиции не хватило остатка.
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("insufficient stock for variant %s: requested %d, available %d",
			e.VariantID, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// InvalidTransitionError уточняет отклонённый переход статусов.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order status transition %s -> %s is not allowed", e.From, e.To)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrInvalidTransition).
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет, относится ли ошибка к классу "ресурс не найден".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrWebhookNotFound)
}
