package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// Store — in-memory реализация каталога, корзин, заказов и складской книги.
// Один мьютекс на всё хранилище моделирует транзакционность checkout:
// проверка и списание остатков неделимы, как и в PostgreSQL-реализации
// с блокировкой строк.
type Store struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	variants  map[string]domain.Variant
	carts     map[string][]domain.CartItem
	orders    map[string]domain.Order
	movements []domain.StockMovement
}

// NewStore возвращает пустое in-memory хранилище для разработки и тестов.
func NewStore() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		variants: make(map[string]domain.Variant),
		carts:    make(map[string][]domain.CartItem),
		orders:   make(map[string]domain.Order),
	}
}

// AddProduct добавляет товар. Ненулевой начальный остаток фиксируется
// adjustment-движением, чтобы книга сходилась со счётчиком с самого начала.
func (s *Store) AddProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.products[p.ID] = p
	if p.StockQuantity != 0 {
		s.movements = append(s.movements, domain.StockMovement{
			ID:            uuid.NewString(),
			ProductID:     p.ID,
			Type:          domain.MovementAdjustment,
			Qty:           p.StockQuantity,
			Reason:        "seed",
			ReferenceType: domain.ReferenceAdmin,
			CreatedAt:     time.Now().UTC(),
		})
	}
}

// AddVariant добавляет вариант товара; начальный остаток фиксируется в книге.
func (s *Store) AddVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.variants[v.ID] = v
	if v.StockQuantity != 0 {
		s.movements = append(s.movements, domain.StockMovement{
			ID:            uuid.NewString(),
			ProductID:     v.ProductID,
			VariantID:     v.ID,
			Type:          domain.MovementAdjustment,
			Qty:           v.StockQuantity,
			Reason:        "seed",
			ReferenceType: domain.ReferenceAdmin,
			CreatedAt:     time.Now().UTC(),
		})
	}
}

// AddCartItem кладёт позицию в корзину покупателя.
func (s *Store) AddCartItem(item domain.CartItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.carts[item.UserID] = append(s.carts[item.UserID], item)
}

// Items возвращает копию корзины покупателя.
func (s *Store) Items(userID string) ([]domain.CartItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.carts[userID]
	result := make([]domain.CartItem, len(items))
	copy(result, items)
	return result, nil
}

// Product возвращает товар или ErrProductNotFound.
func (s *Store) Product(id string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// Variant возвращает вариант товара или ErrProductNotFound.
func (s *Store) Variant(id string) (domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.variants[id]
	if !ok {
		return domain.Variant{}, domain.ErrProductNotFound
	}
	return v, nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (s *Store) Get(id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListByUser возвращает заказы покупателя, ограничивая выборку limit (если >0).
func (s *Store) ListByUser(userID string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if order.UserID != userID {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (s *Store) Save(order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(order)
}

func (s *Store) saveLocked(order domain.Order) error {
	current, ok := s.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	order.Version++
	s.orders[order.ID] = order
	return nil
}

// Checkout атомарно списывает остатки, пишет OUT-движения, создаёт заказ
// и очищает корзину. Ошибка на любом шаге не оставляет частичных эффектов.
func (s *Store) Checkout(order domain.Order, movements []domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}

	// Авторитетная проверка остатков под общим замком.
	if err := s.checkAvailabilityLocked(movements); err != nil {
		return err
	}

	s.applyLocked(movements)
	s.orders[order.ID] = order
	delete(s.carts, order.UserID)
	return nil
}

// Release сохраняет отменённый заказ и возвращает остатки IN-движениями.
func (s *Store) Release(order domain.Order, movements []domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.saveLocked(order); err != nil {
		return err
	}
	s.applyLocked(movements)
	return nil
}

// ApplyMovements атомарно применяет движения с контролем неотрицательности.
func (s *Store) ApplyMovements(movements []domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAvailabilityLocked(movements); err != nil {
		return err
	}
	s.applyLocked(movements)
	return nil
}

// LedgerSum возвращает сумму знаковых движений по паре товар/вариант.
func (s *Store) LedgerSum(productID, variantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for i := range s.movements {
		m := &s.movements[i]
		if m.ProductID == productID && m.VariantID == variantID {
			sum += m.SignedQty()
		}
	}
	return sum, nil
}

// MovementsByReference возвращает движения, порождённые конкретной операцией.
func (s *Store) MovementsByReference(referenceType, referenceID string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0)
	for _, m := range s.movements {
		if m.ReferenceType == referenceType && m.ReferenceID == referenceID {
			result = append(result, m)
		}
	}
	return result, nil
}

// Levels возвращает живые счётчики всех товаров и вариантов.
func (s *Store) Levels() ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockLevel, 0, len(s.products)+len(s.variants))
	for _, p := range s.products {
		result = append(result, domain.StockLevel{ProductID: p.ID, Quantity: p.StockQuantity})
	}
	for _, v := range s.variants {
		result = append(result, domain.StockLevel{ProductID: v.ProductID, VariantID: v.ID, Quantity: v.StockQuantity})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].ProductID != result[j].ProductID {
			return result[i].ProductID < result[j].ProductID
		}
		return result[i].VariantID < result[j].VariantID
	})
	return result, nil
}

func (s *Store) checkAvailabilityLocked(movements []domain.StockMovement) error {
	// Суммируем дельты по цели: несколько движений могут бить в один счётчик.
	deltas := make(map[string]int64)
	for i := range movements {
		m := &movements[i]
		deltas[m.ProductID+"|"+m.VariantID] += m.SignedQty()
	}

	for i := range movements {
		m := &movements[i]
		key := m.ProductID + "|" + m.VariantID
		delta, checked := deltas[key]
		if !checked {
			continue
		}
		delete(deltas, key)

		current, err := s.levelLocked(m.ProductID, m.VariantID)
		if err != nil {
			return err
		}
		if int64(current)+delta < 0 {
			requested := int32(-delta)
			return &domain.InsufficientStockError{
				ProductID: m.ProductID,
				VariantID: m.VariantID,
				Requested: requested,
				Available: current,
			}
		}
	}
	return nil
}

func (s *Store) levelLocked(productID, variantID string) (int32, error) {
	if variantID != "" {
		v, ok := s.variants[variantID]
		if !ok {
			return 0, domain.ErrProductNotFound
		}
		return v.StockQuantity, nil
	}
	p, ok := s.products[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	return p.StockQuantity, nil
}

func (s *Store) applyLocked(movements []domain.StockMovement) {
	now := time.Now().UTC()
	for _, m := range movements {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}

		delta := m.SignedQty()
		if m.VariantID != "" {
			v := s.variants[m.VariantID]
			v.StockQuantity += int32(delta)
			v.UpdatedAt = now
			s.variants[m.VariantID] = v
		} else {
			p := s.products[m.ProductID]
			p.StockQuantity += int32(delta)
			p.UpdatedAt = now
			s.products[m.ProductID] = p
		}

		s.movements = append(s.movements, m)
	}
}

var (
	_ domain.CartRepository    = (*Store)(nil)
	_ domain.CatalogRepository = (*Store)(nil)
	_ domain.OrderRepository   = (*Store)(nil)
	_ domain.CheckoutStore     = (*Store)(nil)
	_ domain.StockRepository   = (*Store)(nil)
)
