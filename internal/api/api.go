package api

import (
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/service/order"
	"github.com/vladislavdragonenkov/shopcore/internal/service/payment"
	"github.com/vladislavdragonenkov/shopcore/internal/service/webhook"
)

// Response — единый конверт ответа для всех операций фасада.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func ok(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func fail(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// API — фасад над сервисами для вызывающего слоя (HTTP, CLI).
type API struct {
	orders   order.Service
	payments payment.Service
	ingestor *webhook.Ingestor
	webhooks domain.WebhookRepository
	logger   *log.Entry
}

// New создаёт фасад.
func New(
	orders order.Service,
	payments payment.Service,
	ingestor *webhook.Ingestor,
	webhooks domain.WebhookRepository,
	logger *log.Entry,
) *API {
	if logger == nil {
		logger = log.WithField("component", "api")
	}
	return &API{
		orders:   orders,
		payments: payments,
		ingestor: ingestor,
		webhooks: webhooks,
		logger:   logger,
	}
}

// CreateOrderRequest — параметры оформления заказа.
type CreateOrderRequest struct {
	UserID        string `json:"user_id"`
	AddressID     string `json:"address_id"`
	PaymentMethod string `json:"payment_method"`
	Currency      string `json:"currency"`
	Notes         string `json:"notes"`
}

// CreateOrder оформляет заказ из корзины покупателя.
func (a *API) CreateOrder(req CreateOrderRequest) (Response, int) {
	created, err := a.orders.CreateOrder(order.CreateOrderInput{
		UserID:        req.UserID,
		AddressID:     req.AddressID,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Currency:      req.Currency,
		Notes:         req.Notes,
	})
	if err != nil {
		return fail(err), HTTPStatus(err)
	}
	return ok(created, "order created"), http.StatusCreated
}

// GetOrder возвращает заказ с проверкой владения.
func (a *API) GetOrder(orderID, userID string) (Response, int) {
	found, err := a.orders.Get(orderID, userID)
	if err != nil {
		return fail(err), HTTPStatus(err)
	}
	return ok(found, ""), http.StatusOK
}

// ListOrders возвращает заказы покупателя.
func (a *API) ListOrders(userID string, limit int) (Response, int) {
	orders, err := a.orders.ListByUser(userID, limit)
	if err != nil {
		return fail(err), HTTPStatus(err)
	}
	return ok(orders, ""), http.StatusOK
}

// UpdateOrderStatus переводит заказ в новый статус.
func (a *API) UpdateOrderStatus(orderID, status, reason string) (Response, int) {
	updated, err := a.orders.UpdateStatus(orderID, domain.OrderStatus(status), reason)
	if err != nil {
		return fail(err), HTTPStatus(err)
	}
	return ok(updated, "order status updated"), http.StatusOK
}

// CreatePayment создаёт платёжное намерение для заказа.
func (a *API) CreatePayment(orderID, userID string) (Response, int) {
	created, err := a.payments.CreatePayment(orderID, userID)
	if err != nil {
		return fail(err), HTTPStatus(err)
	}
	return ok(created, "payment intent created"), http.StatusCreated
}

// VerifyPaymentRequest — данные подтверждения оплаты от клиента.
type VerifyPaymentRequest struct {
	OrderID          string `json:"order_id"`
	UserID           string `json:"user_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

// VerifyPayment проверяет подпись шлюза и подтверждает оплату.
func (a *API) VerifyPayment(req VerifyPaymentRequest) (Response, int) {
	verified, err := a.payments.VerifyPayment(payment.VerifyInput{
		OrderID:          req.OrderID,
		UserID:           req.UserID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		return fail(err), HTTPStatus(err)
	}
	return ok(verified, "payment verified"), http.StatusOK
}

// ProcessCOD оформляет оплату при получении.
func (a *API) ProcessCOD(orderID, userID string) (Response, int) {
	created, err := a.payments.ProcessCOD(orderID, userID)
	if err != nil {
		return fail(err), HTTPStatus(err)
	}
	return ok(created, "cod payment recorded"), http.StatusCreated
}

// RefundRequest — параметры возврата средств.
type RefundRequest struct {
	PaymentID   string `json:"payment_id"`
	AmountMinor int64  `json:"amount_minor"`
	Notes       string `json:"notes"`
}

// ProcessRefund инициирует возврат средств.
func (a *API) ProcessRefund(req RefundRequest) (Response, int) {
	refund, err := a.payments.ProcessRefund(req.PaymentID, req.AmountMinor, req.Notes)
	if err != nil {
		return fail(err), HTTPStatus(err)
	}
	return ok(refund, "refund initiated"), http.StatusOK
}

// IngestWebhook принимает сырой webhook шлюза.
// Дубль обработанного события — успешный ответ: шлюз не должен ретраить.
// Ошибка обработчика — 5xx: запись о падении сохранена, шлюз ретраит.
func (a *API) IngestWebhook(rawBody []byte, signatureHeader string) (Response, int) {
	result, err := a.ingestor.Ingest(rawBody, signatureHeader)
	if err != nil {
		return fail(err), HTTPStatus(err)
	}
	message := "webhook accepted"
	if result.Duplicate {
		message = "webhook already processed"
	}
	return ok(result, message), http.StatusOK
}

// ListFailedWebhooks возвращает события с исчерпанными retries для оператора.
func (a *API) ListFailedWebhooks(limit int) (Response, int) {
	failed, err := a.webhooks.ListExhausted(limit)
	if err != nil {
		return fail(err), HTTPStatus(err)
	}
	return ok(failed, ""), http.StatusOK
}

// HTTPStatus отображает ошибку доменного слоя в HTTP-код.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrWebhookSignatureMissing),
		errors.Is(err, domain.ErrWebhookSignatureInvalid),
		errors.Is(err, domain.ErrSignatureInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrWebhookPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrOrderNotPayable),
		errors.Is(err, domain.ErrPaymentNotRefundable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusBadGateway
	// Упавшая обработка webhook — 5xx: шлюз должен повторить доставку.
	case errors.Is(err, domain.ErrWebhookProcessingFailed):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrCartEmpty),
		errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrAddressRequired),
		errors.Is(err, domain.ErrCurrencyRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrPaymentMethodInvalid),
		errors.Is(err, domain.ErrPaymentAmountNegative),
		errors.Is(err, domain.ErrWebhookPayloadInvalid),
		errors.Is(err, domain.ErrMovementTypeInvalid),
		errors.Is(err, domain.ErrMovementQtyInvalid),
		errors.Is(err, domain.ErrProductIDRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
