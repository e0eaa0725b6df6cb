package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/order"
)

// GatewayName — код платёжного шлюза в записях платежей.
const GatewayName = "razorpay"

// Service описывает платёжные операции поверх заказов.
type Service interface {
	// CreatePayment создаёт платёжное намерение для заказа в статусе pending.
	CreatePayment(orderID, userID string) (domain.Payment, error)
	// VerifyPayment проверяет подпись шлюза и подтверждает оплату заказа.
	VerifyPayment(input VerifyInput) (domain.Payment, error)
	// ProcessCOD оформляет оплату при получении без участия шлюза.
	ProcessCOD(orderID, userID string) (domain.Payment, error)
	// ProcessRefund инициирует возврат; возврат полной суммы отменяет заказ.
	ProcessRefund(paymentID string, amountMinor int64, notes string) (domain.Refund, error)
	// HandleGatewayEvent применяет webhook-событие шлюза к локальному состоянию.
	HandleGatewayEvent(event domain.GatewayEvent) error
}

// VerifyInput — данные подтверждения оплаты от клиента.
type VerifyInput struct {
	OrderID          string
	UserID           string
	GatewayPaymentID string
	Signature        string
}

type service struct {
	payments domain.PaymentRepository
	gateway  domain.PaymentGateway
	orders   order.Service
	outbox   domain.OutboxRepository
	logger   *log.Entry
	metrics  *metrics.EngineMetrics
}

// NewService создаёт платёжный сервис.
func NewService(
	payments domain.PaymentRepository,
	gateway domain.PaymentGateway,
	orders order.Service,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) Service {
	if logger == nil {
		logger = log.New().WithField("component", "payment-service")
	}
	return &service{
		payments: payments,
		gateway:  gateway,
		orders:   orders,
		outbox:   outbox,
		logger:   logger,
		metrics:  metrics.NewEngineMetrics(),
	}
}

// NewServiceWithoutMetrics создаёт платёжный сервис без метрик (для тестов).
func NewServiceWithoutMetrics(
	payments domain.PaymentRepository,
	gateway domain.PaymentGateway,
	orders order.Service,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) Service {
	if logger == nil {
		logger = log.New().WithField("component", "payment-service")
	}
	return &service{
		payments: payments,
		gateway:  gateway,
		orders:   orders,
		outbox:   outbox,
		logger:   logger,
	}
}

// CreatePayment создаёт локальную PENDING-запись до обращения к шлюзу:
// упавший вызов наружу оставляет след, по которому сверка находит зависшие
// платёжные намерения.
func (s *service) CreatePayment(orderID, userID string) (domain.Payment, error) {
	ord, err := s.orders.Get(orderID, userID)
	if err != nil {
		return domain.Payment{}, err
	}
	if ord.Status != domain.OrderStatusPending {
		return domain.Payment{}, domain.ErrOrderNotPayable
	}

	// Повторный запрос возвращает уже созданное намерение.
	if existing, err := s.payments.ActiveByOrder(orderID); err == nil && existing.GatewayOrderID != "" {
		return existing, nil
	}

	now := time.Now().UTC()
	payment := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Gateway:     GatewayName,
		Method:      domain.PaymentMethodGateway,
		Status:      domain.PaymentStatusPending,
		AmountMinor: ord.AmountMinor,
		Currency:    ord.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := payment.Validate(); len(errs) > 0 {
		return domain.Payment{}, errs[0]
	}
	if err := s.payments.Create(payment); err != nil {
		return domain.Payment{}, fmt.Errorf("persist pending payment: %w", err)
	}

	intent, err := s.gateway.CreateIntent(orderID, ord.AmountMinor, ord.Currency)
	if err != nil {
		payment.Status = domain.PaymentStatusFailed
		if saveErr := s.payments.Save(payment); saveErr != nil {
			s.logger.WithError(saveErr).WithField("payment_id", payment.ID).
				Warn("failed to mark payment as failed after gateway error")
		}
		return domain.Payment{}, err
	}

	payment.GatewayOrderID = intent.ID
	if err := s.payments.Save(payment); err != nil {
		return domain.Payment{}, fmt.Errorf("attach gateway order: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentCreated()
	}
	s.logger.WithFields(log.Fields{
		"payment_id":       payment.ID,
		"order_id":         orderID,
		"gateway_order_id": intent.ID,
	}).Info("payment intent created")

	s.enqueuePaymentEvent(kafka.EventTypePaymentCreated, payment, nil)
	return payment, nil
}

// VerifyPayment пересчитывает подпись шлюза и при совпадении помечает платёж
// оплаченным, а заказ подтверждённым. Несовпадение подписи не меняет состояние.
func (s *service) VerifyPayment(input VerifyInput) (domain.Payment, error) {
	if _, err := s.orders.Get(input.OrderID, input.UserID); err != nil {
		return domain.Payment{}, err
	}

	payment, err := s.payments.ActiveByOrder(input.OrderID)
	if err != nil {
		return domain.Payment{}, err
	}
	if payment.Status == domain.PaymentStatusPaid {
		return payment, nil
	}

	if !s.gateway.VerifyPaymentSignature(payment.GatewayOrderID, input.GatewayPaymentID, input.Signature) {
		if s.metrics != nil {
			s.metrics.RecordSignatureRejected()
		}
		s.logger.WithFields(log.Fields{
			"payment_id": payment.ID,
			"order_id":   input.OrderID,
		}).Warn("payment signature rejected")
		return domain.Payment{}, domain.ErrSignatureInvalid
	}

	payment.GatewayPaymentID = input.GatewayPaymentID
	payment.Status = domain.PaymentStatusPaid
	payment.SignatureVerified = true
	if err := s.payments.Save(payment); err != nil {
		return domain.Payment{}, fmt.Errorf("save verified payment: %w", err)
	}

	if err := s.confirmPaidOrder(input.OrderID, "payment captured"); err != nil {
		return domain.Payment{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentCaptured()
	}
	s.enqueuePaymentEvent(kafka.EventTypePaymentCaptured, payment, nil)
	return payment, nil
}

// ProcessCOD оформляет оплату при получении: запись платежа создаётся без
// обращения к шлюзу и без проверки подписи, заказ сразу подтверждается.
func (s *service) ProcessCOD(orderID, userID string) (domain.Payment, error) {
	ord, err := s.orders.Get(orderID, userID)
	if err != nil {
		return domain.Payment{}, err
	}
	if ord.Status != domain.OrderStatusPending {
		return domain.Payment{}, domain.ErrOrderNotPayable
	}

	if existing, err := s.payments.ActiveByOrder(orderID); err == nil && existing.Method == domain.PaymentMethodCOD {
		return existing, nil
	}

	now := time.Now().UTC()
	payment := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		Method:      domain.PaymentMethodCOD,
		Status:      domain.PaymentStatusPaid,
		AmountMinor: ord.AmountMinor,
		Currency:    ord.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := payment.Validate(); len(errs) > 0 {
		return domain.Payment{}, errs[0]
	}
	if err := s.payments.Create(payment); err != nil {
		return domain.Payment{}, fmt.Errorf("persist cod payment: %w", err)
	}

	if err := s.confirmPaidOrder(orderID, "cash on delivery"); err != nil {
		return domain.Payment{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentCaptured()
	}
	s.enqueuePaymentEvent(kafka.EventTypePaymentCreated, payment, map[string]interface{}{
		"method": string(domain.PaymentMethodCOD),
	})
	return payment, nil
}

// ProcessRefund инициирует возврат средств. Возврат полной суммы отменяет
// заказ и возвращает остатки; частичный возврат состояние заказа не трогает.
func (s *service) ProcessRefund(paymentID string, amountMinor int64, notes string) (domain.Refund, error) {
	payment, err := s.payments.Get(paymentID)
	if err != nil {
		return domain.Refund{}, err
	}
	if payment.Status != domain.PaymentStatusPaid {
		return domain.Refund{}, domain.ErrPaymentNotRefundable
	}
	if amountMinor <= 0 || amountMinor > payment.AmountMinor {
		return domain.Refund{}, domain.ErrPaymentAmountNegative
	}

	refund := domain.Refund{
		ID:          uuid.NewString(),
		PaymentID:   payment.ID,
		AmountMinor: amountMinor,
		Notes:       notes,
		CreatedAt:   time.Now().UTC(),
	}

	// COD возвращается вне шлюза, запись ведётся только локально.
	if payment.Method == domain.PaymentMethodGateway {
		result, err := s.gateway.Refund(payment.GatewayPaymentID, amountMinor, notes)
		if err != nil {
			return domain.Refund{}, err
		}
		refund.GatewayRefundID = result.ID
	}

	if err := s.payments.CreateRefund(refund); err != nil {
		return domain.Refund{}, fmt.Errorf("persist refund: %w", err)
	}

	payment.Status = domain.PaymentStatusRefunded
	if err := s.payments.Save(payment); err != nil {
		return domain.Refund{}, fmt.Errorf("save refunded payment: %w", err)
	}

	if amountMinor == payment.AmountMinor {
		s.cancelRefundedOrder(payment.OrderID, notes)
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentRefunded()
	}
	s.logger.WithFields(log.Fields{
		"payment_id":   payment.ID,
		"order_id":     payment.OrderID,
		"amount_minor": amountMinor,
	}).Info("payment refunded")

	s.enqueuePaymentEvent(kafka.EventTypePaymentRefunded, payment, map[string]interface{}{
		"refund_id":    refund.ID,
		"amount_minor": amountMinor,
	})
	return refund, nil
}

// HandleGatewayEvent применяет webhook-событие к платежу и заказу.
// Обработчики идемпотентны: повторная доставка уже применённого события
// не меняет состояние.
func (s *service) HandleGatewayEvent(event domain.GatewayEvent) error {
	switch {
	case event.Event == "payment.captured":
		return s.handleCaptured(event)
	case event.Event == "payment.failed":
		return s.handleFailed(event)
	case event.Event == "refund.processed":
		return s.handleRefundProcessed(event)
	case strings.HasPrefix(event.Event, "shipment."):
		return s.handleShipment(event)
	default:
		// Неизвестные события подтверждаются без обработки:
		// шлюз добавляет новые типы без согласования.
		s.logger.WithField("event", event.Event).Debug("gateway event ignored")
		return nil
	}
}

func (s *service) handleCaptured(event domain.GatewayEvent) error {
	payment, err := s.lookupPayment(event)
	if err != nil {
		return err
	}
	if payment.Status == domain.PaymentStatusPaid {
		return nil
	}

	payment.GatewayPaymentID = event.PaymentEntityID()
	payment.Status = domain.PaymentStatusPaid
	payment.SignatureVerified = true
	if err := s.payments.Save(payment); err != nil {
		return fmt.Errorf("save captured payment: %w", err)
	}

	if err := s.confirmPaidOrder(payment.OrderID, "payment captured via webhook"); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentCaptured()
	}
	s.enqueuePaymentEvent(kafka.EventTypePaymentCaptured, payment, nil)
	return nil
}

func (s *service) handleFailed(event domain.GatewayEvent) error {
	payment, err := s.lookupPayment(event)
	if err != nil {
		return err
	}
	if payment.Status == domain.PaymentStatusFailed {
		return nil
	}
	// Подтверждённую оплату webhook об отказе не откатывает.
	if payment.Status == domain.PaymentStatusPaid {
		s.logger.WithField("payment_id", payment.ID).
			Warn("payment.failed ignored for already paid payment")
		return nil
	}

	payment.Status = domain.PaymentStatusFailed
	if err := s.payments.Save(payment); err != nil {
		return fmt.Errorf("save failed payment: %w", err)
	}
	if _, err := s.orders.SetPaymentState(payment.OrderID, domain.PaymentStateFailed); err != nil {
		return err
	}

	s.enqueuePaymentEvent(kafka.EventTypePaymentFailed, payment, nil)
	return nil
}

func (s *service) handleRefundProcessed(event domain.GatewayEvent) error {
	gatewayPaymentID := event.PaymentEntityID()
	payment, err := s.payments.GetByGatewayPaymentID(gatewayPaymentID)
	if err != nil {
		return err
	}
	if payment.Status == domain.PaymentStatusRefunded {
		return nil
	}

	// Сумма в событии не разбирается: refund.processed без локальной записи
	// возврата трактуется как возврат полной суммы, инициированный оператором
	// на стороне шлюза.
	if err := s.payments.CreateRefund(domain.Refund{
		ID:              uuid.NewString(),
		PaymentID:       payment.ID,
		GatewayRefundID: event.Payload.Refund.Entity.ID,
		AmountMinor:     payment.AmountMinor,
		Notes:           "refund.processed webhook",
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("persist webhook refund: %w", err)
	}

	payment.Status = domain.PaymentStatusRefunded
	if err := s.payments.Save(payment); err != nil {
		return fmt.Errorf("save refunded payment: %w", err)
	}

	s.cancelRefundedOrder(payment.OrderID, "refund processed by gateway")

	if s.metrics != nil {
		s.metrics.RecordPaymentRefunded()
	}
	s.enqueuePaymentEvent(kafka.EventTypePaymentRefunded, payment, nil)
	return nil
}

func (s *service) handleShipment(event domain.GatewayEvent) error {
	orderRef := event.OrderRef()
	if orderRef == "" {
		return fmt.Errorf("%w: shipment event without order reference", domain.ErrWebhookPayloadInvalid)
	}

	status := event.Payload.Shipment.Entity.Status
	if status == "" {
		status = strings.TrimPrefix(event.Event, "shipment.")
	}
	return s.orders.RecordShipmentStatus(orderRef, status, "courier webhook")
}

// lookupPayment ищет платёж сначала по идентификатору шлюза, затем по
// ссылке на заказ из notes.
func (s *service) lookupPayment(event domain.GatewayEvent) (domain.Payment, error) {
	if id := event.PaymentEntityID(); id != "" {
		if payment, err := s.payments.GetByGatewayPaymentID(id); err == nil {
			return payment, nil
		} else if !errors.Is(err, domain.ErrPaymentNotFound) {
			return domain.Payment{}, err
		}
	}

	orderRef := event.OrderRef()
	if orderRef == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return s.payments.ActiveByOrder(orderRef)
}

// confirmPaidOrder помечает заказ оплаченным и подтверждает его.
// Заказ, уже ушедший дальше по статусной модели, не трогается.
func (s *service) confirmPaidOrder(orderID, reason string) error {
	if _, err := s.orders.SetPaymentState(orderID, domain.PaymentStatePaid); err != nil {
		return err
	}
	if _, err := s.orders.UpdateStatus(orderID, domain.OrderStatusConfirmed, reason); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.logger.WithField("order_id", orderID).
				Warn("order already progressed past confirmation")
			return nil
		}
		return err
	}
	return nil
}

// cancelRefundedOrder отменяет заказ после возврата полной суммы.
// Недопустимый переход (например, после доставки) не считается ошибкой
// возврата: деньги уже вернулись, заказ остаётся в своём статусе.
func (s *service) cancelRefundedOrder(orderID, reason string) {
	if _, err := s.orders.SetPaymentState(orderID, domain.PaymentStateRefunded); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to mark order refunded")
		return
	}
	if _, err := s.orders.UpdateStatus(orderID, domain.OrderStatusCancelled, reason); err != nil {
		if !errors.Is(err, domain.ErrInvalidTransition) {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to cancel refunded order")
		}
	}
}

func (s *service) enqueuePaymentEvent(eventType kafka.EventType, payment domain.Payment, metadata map[string]interface{}) {
	if s.outbox == nil {
		return
	}

	event := kafka.NewPaymentEvent(eventType, payment.ID, payment.OrderID, string(payment.Status), metadata)
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("failed to marshal payment event")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   payment.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("failed to enqueue payment event")
	}
}

var _ Service = (*service)(nil)
