package domain

import "time"

// CartRepository читает корзину покупателя.
// Очистка корзины выполняется внутри checkout-транзакции (см. CheckoutStore).
type CartRepository interface {
	// Items возвращает позиции корзины покупателя.
	Items(userID string) ([]CartItem, error)
}

// CatalogRepository читает товары и варианты с их живыми остатками.
type CatalogRepository interface {
	// Product возвращает товар или ErrProductNotFound.
	Product(id string) (Product, error)
	// Variant возвращает вариант товара или ErrProductNotFound.
	Variant(id string) (Variant, error)
}

// OrderRepository описывает требования к хранилищу заказов.
// Создание заказа идёт через CheckoutStore, поэтому здесь только чтение и обновление.
type OrderRepository interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// ListByUser возвращает заказы покупателя с опциональным ограничением.
	ListByUser(userID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// CheckoutStore выполняет операции, требующие единой транзакции
// над заказом, складскими счётчиками и книгой движений.
type CheckoutStore interface {
	// Checkout атомарно: блокирует строки остатков, повторно проверяет
	// достаточность, списывает количество, добавляет OUT-движения, сохраняет
	// заказ с позициями и очищает корзину покупателя. При любой ошибке
	// транзакция откатывается целиком.
	Checkout(order Order, movements []StockMovement) error
	// Release атомарно сохраняет отменённый заказ (с проверкой версии)
	// и применяет компенсирующие IN-движения, восстанавливая остатки.
	Release(order Order, movements []StockMovement) error
}

// StockRepository работает со складской книгой и живыми счётчиками
// вне checkout-транзакции (ручные корректировки, сверка).
type StockRepository interface {
	// ApplyMovements атомарно добавляет движения и обновляет счётчики.
	// Возвращает InsufficientStockError, если счётчик ушёл бы в минус.
	ApplyMovements(movements []StockMovement) error
	// LedgerSum возвращает сумму знаковых движений по паре товар/вариант.
	LedgerSum(productID, variantID string) (int64, error)
	// MovementsByReference возвращает движения, порождённые конкретной операцией.
	MovementsByReference(referenceType, referenceID string) ([]StockMovement, error)
	// Levels возвращает живые счётчики всех товаров и вариантов.
	Levels() ([]StockLevel, error)
}

// PaymentRepository описывает требования к хранилищу платежей.
type PaymentRepository interface {
	// Create сохраняет новую запись платежа.
	Create(payment Payment) error
	// Get возвращает платёж по идентификатору или ErrPaymentNotFound.
	Get(id string) (Payment, error)
	// GetByGatewayPaymentID ищет платёж по идентификатору на стороне шлюза.
	GetByGatewayPaymentID(gatewayPaymentID string) (Payment, error)
	// ActiveByOrder возвращает активный платёж заказа или ErrPaymentNotFound.
	ActiveByOrder(orderID string) (Payment, error)
	// Save применяет обновления к платежу.
	Save(payment Payment) error
	// CreateRefund сохраняет запись возврата.
	CreateRefund(refund Refund) error
}

// WebhookRepository хранит зарегистрированные и упавшие webhook-события.
type WebhookRepository interface {
	// CreateEvent регистрирует событие insert-first. При дубле по
	// gateway_event_id возвращает уже существующую запись и ErrWebhookDuplicate;
	// граница защиты — уникальный индекс, а не проверка в приложении.
	CreateEvent(event WebhookEvent) (WebhookEvent, error)
	// GetEvent возвращает событие по ключу идемпотентности.
	GetEvent(gatewayEventID string) (WebhookEvent, error)
	// MarkEventProcessed помечает событие обработанным.
	MarkEventProcessed(id string) error
	// CreateFailed сохраняет durable-запись об упавшей обработке.
	CreateFailed(failed FailedWebhook) (FailedWebhook, error)
	// PullRetryable возвращает необработанные записи с retries < max_retries.
	PullRetryable(limit int) ([]FailedWebhook, error)
	// MarkFailedProcessed помечает упавшую запись успешно добитой.
	MarkFailedProcessed(id string) error
	// RecordRetry инкрементирует retries и фиксирует последнюю ошибку.
	RecordRetry(id string, errMsg string, at time.Time) error
	// ListExhausted возвращает записи с исчерпанными retries для оператора.
	ListExhausted(limit int) ([]FailedWebhook, error)
}

// PaymentGateway описывает взаимодействие с внешним платёжным шлюзом.
type PaymentGateway interface {
	// CreateIntent создаёт платёжное намерение на стороне шлюза.
	CreateIntent(orderID string, amountMinor int64, currency string) (GatewayIntent, error)
	// Refund инициирует возврат средств по платежу шлюза.
	Refund(gatewayPaymentID string, amountMinor int64, notes string) (GatewayRefundResult, error)
	// VerifyPaymentSignature пересчитывает подпись orderID|gatewayPaymentID.
	VerifyPaymentSignature(orderID, gatewayPaymentID, signature string) bool
	// VerifyWebhookSignature проверяет подпись над сырым, неразобранным телом.
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
