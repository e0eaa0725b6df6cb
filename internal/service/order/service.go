package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
)

// Service описывает операции жизненного цикла заказа.
type Service interface {
	// CreateOrder оформляет заказ из корзины покупателя.
	CreateOrder(input CreateOrderInput) (domain.Order, error)
	// Get возвращает заказ, проверяя владение ресурсом.
	Get(orderID, userID string) (domain.Order, error)
	// ListByUser возвращает заказы покупателя.
	ListByUser(userID string, limit int) ([]domain.Order, error)
	// UpdateStatus переводит заказ в новый статус по таблице переходов.
	UpdateStatus(orderID string, to domain.OrderStatus, reason string) (domain.Order, error)
	// SetPaymentState обновляет статус оплаты на уровне заказа.
	SetPaymentState(orderID string, state domain.PaymentState) (domain.Order, error)
	// RecordShipmentStatus фиксирует статус курьерской службы в timeline заказа.
	RecordShipmentStatus(orderID, status, reason string) error
}

// CreateOrderInput — параметры оформления заказа.
type CreateOrderInput struct {
	UserID        string
	AddressID     string
	PaymentMethod domain.PaymentMethod
	Currency      string
	Notes         string
}

type service struct {
	carts    domain.CartRepository
	catalog  domain.CatalogRepository
	orders   domain.OrderRepository
	store    domain.CheckoutStore
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.EngineMetrics
}

// NewService создаёт сервис заказов.
func NewService(
	carts domain.CartRepository,
	catalog domain.CatalogRepository,
	orders domain.OrderRepository,
	store domain.CheckoutStore,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &service{
		carts:    carts,
		catalog:  catalog,
		orders:   orders,
		store:    store,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
		metrics:  metrics.NewEngineMetrics(),
	}
}

// NewServiceWithoutMetrics создаёт сервис без метрик (для тестов).
func NewServiceWithoutMetrics(
	carts domain.CartRepository,
	catalog domain.CatalogRepository,
	orders domain.OrderRepository,
	store domain.CheckoutStore,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
) Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &service{
		carts:    carts,
		catalog:  catalog,
		orders:   orders,
		store:    store,
		outbox:   outbox,
		timeline: timeline,
		logger:   logger,
	}
}

// CreateOrder строит заказ из корзины: цены фиксируются снимком на момент
// покупки, остатки списываются атомарно внутри checkout-транзакции.
func (s *service) CreateOrder(input CreateOrderInput) (domain.Order, error) {
	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordCheckoutStarted()
		defer func() {
			s.metrics.RecordCheckoutDuration(time.Since(start))
		}()
	}

	if input.UserID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	if input.AddressID == "" {
		return domain.Order{}, domain.ErrAddressRequired
	}
	if input.Currency == "" {
		return domain.Order{}, domain.ErrCurrencyRequired
	}
	if input.PaymentMethod == "" {
		input.PaymentMethod = domain.PaymentMethodGateway
	}
	if !input.PaymentMethod.Valid() {
		return domain.Order{}, domain.ErrPaymentMethodInvalid
	}

	cartItems, err := s.carts.Items(input.UserID)
	if err != nil {
		s.recordCheckoutFailed()
		return domain.Order{}, fmt.Errorf("load cart: %w", err)
	}
	if len(cartItems) == 0 {
		s.recordCheckoutFailed()
		return domain.Order{}, domain.ErrCartEmpty
	}

	now := time.Now().UTC()
	orderID := uuid.NewString()

	items := make([]domain.OrderItem, 0, len(cartItems))
	movements := make([]domain.StockMovement, 0, len(cartItems))
	var amount int64

	for _, cartItem := range cartItems {
		if cartItem.Qty <= 0 {
			s.recordCheckoutFailed()
			return domain.Order{}, domain.ErrItemQtyInvalid
		}

		price, err := s.effectivePrice(cartItem)
		if err != nil {
			s.recordCheckoutFailed()
			return domain.Order{}, err
		}

		items = append(items, domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  cartItem.ProductID,
			VariantID:  cartItem.VariantID,
			Qty:        cartItem.Qty,
			PriceMinor: price,
			CreatedAt:  now,
		})
		movements = append(movements, domain.StockMovement{
			ProductID:     cartItem.ProductID,
			VariantID:     cartItem.VariantID,
			Type:          domain.MovementOut,
			Qty:           cartItem.Qty,
			Reason:        "order placed",
			ReferenceType: domain.ReferenceOrder,
			ReferenceID:   orderID,
			CreatedAt:     now,
		})
		amount += int64(cartItem.Qty) * price
	}

	order := domain.Order{
		ID:            orderID,
		UserID:        input.UserID,
		AddressID:     input.AddressID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatePending,
		PaymentMethod: input.PaymentMethod,
		Currency:      input.Currency,
		AmountMinor:   amount,
		Notes:         input.Notes,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		s.recordCheckoutFailed()
		return domain.Order{}, errs[0]
	}

	if err := s.store.Checkout(order, movements); err != nil {
		s.recordCheckoutFailed()
		if errors.Is(err, domain.ErrInsufficientStock) {
			if s.metrics != nil {
				s.metrics.RecordOversellRejected()
			}
			s.logger.WithFields(log.Fields{
				"order_id": orderID,
				"user_id":  input.UserID,
			}).Warn("checkout rejected: insufficient stock")
		}
		return domain.Order{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordCheckoutCompleted()
	}
	s.logger.WithFields(log.Fields{
		"order_id":     orderID,
		"user_id":      input.UserID,
		"amount_minor": amount,
		"items":        len(items),
	}).Info("order created")

	s.appendTimeline(orderID, "order.created", "")
	s.enqueueOrderEvent(kafka.EventTypeOrderCreated, order, nil)

	return order, nil
}

// effectivePrice возвращает цену за единицу: цена варианта имеет приоритет
// над ценой товара.
func (s *service) effectivePrice(item domain.CartItem) (int64, error) {
	if item.VariantID != "" {
		variant, err := s.catalog.Variant(item.VariantID)
		if err != nil {
			return 0, err
		}
		return variant.PriceMinor, nil
	}

	product, err := s.catalog.Product(item.ProductID)
	if err != nil {
		return 0, err
	}
	return product.PriceMinor, nil
}

func (s *service) Get(orderID, userID string) (domain.Order, error) {
	order, err := s.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, err
	}
	// Пустой userID означает вызов от системного компонента без проверки владения.
	if userID != "" && order.UserID != userID {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

func (s *service) ListByUser(userID string, limit int) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	return s.orders.ListByUser(userID, limit)
}

func (s *service) recordCheckoutFailed() {
	if s.metrics != nil {
		s.metrics.RecordCheckoutFailed()
	}
}

func (s *service) appendTimeline(orderID, eventType, reason string) {
	if s.timeline == nil {
		return
	}
	if err := s.timeline.Append(domain.NewTimelineEvent(orderID, eventType, reason)); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
	}
}

func (s *service) enqueueOrderEvent(eventType kafka.EventType, order domain.Order, metadata map[string]interface{}) {
	if s.outbox == nil {
		return
	}

	event := kafka.NewOrderEvent(eventType, order.ID, order.UserID, string(order.Status), metadata)
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to marshal order event")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue order event")
	}
}

var _ Service = (*service)(nil)
