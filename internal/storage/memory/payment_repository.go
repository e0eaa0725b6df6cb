package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// paymentRepositoryInMemory — простая in-memory реализация PaymentRepository.
type paymentRepositoryInMemory struct {
	mu       sync.RWMutex
	payments map[string]domain.Payment
	refunds  map[string][]domain.Refund
}

// NewPaymentRepository возвращает in-memory репозиторий платежей.
func NewPaymentRepository() *paymentRepositoryInMemory {
	return &paymentRepositoryInMemory{
		payments: make(map[string]domain.Payment),
		refunds:  make(map[string][]domain.Refund),
	}
}

// Create сохраняет новый платёж, если ID ещё не занят.
func (r *paymentRepositoryInMemory) Create(payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[payment.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	r.payments[payment.ID] = payment
	return nil
}

// Get возвращает платёж или ErrPaymentNotFound.
func (r *paymentRepositoryInMemory) Get(id string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	payment, ok := r.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

// GetByGatewayPaymentID ищет платёж по идентификатору на стороне шлюза.
func (r *paymentRepositoryInMemory) GetByGatewayPaymentID(gatewayPaymentID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if gatewayPaymentID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	for _, payment := range r.payments {
		if payment.GatewayPaymentID == gatewayPaymentID {
			return payment, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

// ActiveByOrder возвращает последний активный платёж заказа.
func (r *paymentRepositoryInMemory) ActiveByOrder(orderID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]domain.Payment, 0, 1)
	for _, payment := range r.payments {
		if payment.OrderID == orderID && payment.Active() {
			candidates = append(candidates, payment)
		}
	}
	if len(candidates) == 0 {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	return candidates[0], nil
}

// Save перезаписывает платёж.
func (r *paymentRepositoryInMemory) Save(payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.payments[payment.ID]; !ok {
		return domain.ErrPaymentNotFound
	}
	r.payments[payment.ID] = payment
	return nil
}

// CreateRefund сохраняет запись возврата.
func (r *paymentRepositoryInMemory) CreateRefund(refund domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refunds[refund.PaymentID] = append(r.refunds[refund.PaymentID], refund)
	return nil
}

// Refunds возвращает возвраты по платежу; используется в тестах.
func (r *paymentRepositoryInMemory) Refunds(paymentID string) []domain.Refund {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Refund, len(r.refunds[paymentID]))
	copy(result, r.refunds[paymentID])
	return result
}

var _ domain.PaymentRepository = (*paymentRepositoryInMemory)(nil)
