package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

func seedStore(t *testing.T, stock int32) *Store {
	t.Helper()

	store := NewStore()
	store.AddProduct(domain.Product{
		ID:            "prod-1",
		SKU:           "SKU-1",
		Name:          "Widget",
		PriceMinor:    1500,
		StockQuantity: stock,
	})
	return store
}

func checkoutOrder(userID string, qty int32) (domain.Order, []domain.StockMovement) {
	orderID := uuid.NewString()
	order := domain.Order{
		ID:            orderID,
		UserID:        userID,
		AddressID:     "addr-1",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatePending,
		PaymentMethod: domain.PaymentMethodGateway,
		Currency:      "INR",
		AmountMinor:   int64(qty) * 1500,
		Items: []domain.OrderItem{
			{ID: uuid.NewString(), ProductID: "prod-1", Qty: qty, PriceMinor: 1500},
		},
	}
	movements := []domain.StockMovement{
		{
			ProductID:     "prod-1",
			Type:          domain.MovementOut,
			Qty:           qty,
			Reason:        "order placed",
			ReferenceType: domain.ReferenceOrder,
			ReferenceID:   orderID,
		},
	}
	return order, movements
}

func TestStoreCheckoutDecrementsStockAndClearsCart(t *testing.T) {
	store := seedStore(t, 10)
	store.AddCartItem(domain.CartItem{UserID: "user-1", ProductID: "prod-1", Qty: 3})

	order, movements := checkoutOrder("user-1", 3)
	require.NoError(t, store.Checkout(order, movements))

	product, err := store.Product("prod-1")
	require.NoError(t, err)
	assert.Equal(t, int32(7), product.StockQuantity)

	items, err := store.Items("user-1")
	require.NoError(t, err)
	assert.Empty(t, items)

	saved, err := store.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, saved.Status)

	ledger, err := store.LedgerSum("prod-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), ledger)
}

func TestStoreCheckoutInsufficientStockLeavesNoPartialEffects(t *testing.T) {
	store := seedStore(t, 2)
	store.AddCartItem(domain.CartItem{UserID: "user-1", ProductID: "prod-1", Qty: 5})

	order, movements := checkoutOrder("user-1", 5)
	err := store.Checkout(order, movements)

	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "prod-1", insufficient.ProductID)
	assert.Equal(t, int32(5), insufficient.Requested)
	assert.Equal(t, int32(2), insufficient.Available)

	// Заказ не создан, корзина не тронута, счётчик не изменился.
	_, err = store.Get(order.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	items, err := store.Items("user-1")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	product, err := store.Product("prod-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), product.StockQuantity)
}

func TestStoreConcurrentCheckoutNeverOversells(t *testing.T) {
	const (
		stock      = 10
		goroutines = 50
	)

	store := seedStore(t, stock)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			order, movements := checkoutOrder(fmt.Sprintf("user-%d", n), 1)
			if err := store.Checkout(order, movements); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, stock, accepted)

	product, err := store.Product("prod-1")
	require.NoError(t, err)
	assert.Equal(t, int32(0), product.StockQuantity)

	ledger, err := store.LedgerSum("prod-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledger)
}

func TestStoreVariantStockCheckedOverProduct(t *testing.T) {
	store := seedStore(t, 100)
	store.AddVariant(domain.Variant{
		ID:            "var-1",
		ProductID:     "prod-1",
		SKU:           "SKU-1-L",
		PriceMinor:    1700,
		StockQuantity: 1,
	})

	movements := []domain.StockMovement{
		{
			ProductID:     "prod-1",
			VariantID:     "var-1",
			Type:          domain.MovementOut,
			Qty:           2,
			ReferenceType: domain.ReferenceOrder,
			ReferenceID:   "ord-x",
		},
	}
	err := store.ApplyMovements(movements)

	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "var-1", insufficient.VariantID)
	assert.Equal(t, int32(1), insufficient.Available)
}

func TestStoreReleaseRestoresStock(t *testing.T) {
	store := seedStore(t, 10)

	order, movements := checkoutOrder("user-1", 4)
	require.NoError(t, store.Checkout(order, movements))

	order.Status = domain.OrderStatusCancelled
	restock := []domain.StockMovement{
		{
			ProductID:     "prod-1",
			Type:          domain.MovementIn,
			Qty:           4,
			Reason:        "order cancelled",
			ReferenceType: domain.ReferenceOrderCancel,
			ReferenceID:   order.ID,
		},
	}
	require.NoError(t, store.Release(order, restock))

	product, err := store.Product("prod-1")
	require.NoError(t, err)
	assert.Equal(t, int32(10), product.StockQuantity)

	saved, err := store.Get(order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, saved.Status)
	assert.Equal(t, order.Version+1, saved.Version)

	// Компенсация различима в книге по ссылке на отмену.
	compensations, err := store.MovementsByReference(domain.ReferenceOrderCancel, order.ID)
	require.NoError(t, err)
	require.Len(t, compensations, 1)
	assert.Equal(t, domain.MovementIn, compensations[0].Type)
}

func TestStoreReleaseVersionConflict(t *testing.T) {
	store := seedStore(t, 10)

	order, movements := checkoutOrder("user-1", 1)
	require.NoError(t, store.Checkout(order, movements))

	stale := order
	stale.Version = order.Version + 7
	stale.Status = domain.OrderStatusCancelled

	err := store.Release(stale, nil)
	assert.ErrorIs(t, err, domain.ErrOrderVersionConflict)

	// Остатки не тронуты при конфликте версии.
	product, perr := store.Product("prod-1")
	require.NoError(t, perr)
	assert.Equal(t, int32(9), product.StockQuantity)
}

func TestStoreLedgerMatchesCounterAfterMixedTraffic(t *testing.T) {
	store := seedStore(t, 20)

	for i := 0; i < 3; i++ {
		order, movements := checkoutOrder(fmt.Sprintf("user-%d", i), 2)
		require.NoError(t, store.Checkout(order, movements))
	}
	require.NoError(t, store.ApplyMovements([]domain.StockMovement{
		{ProductID: "prod-1", Type: domain.MovementIn, Qty: 5, Reason: "restock", ReferenceType: domain.ReferenceAdmin},
	}))

	product, err := store.Product("prod-1")
	require.NoError(t, err)

	ledger, err := store.LedgerSum("prod-1", "")
	require.NoError(t, err)
	assert.Equal(t, int64(product.StockQuantity), ledger)
}

func TestStoreListByUserOrdersNewestFirst(t *testing.T) {
	store := seedStore(t, 100)

	var ids []string
	for i := 0; i < 3; i++ {
		order, movements := checkoutOrder("user-1", 1)
		order.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Checkout(order, movements))
		ids = append(ids, order.ID)
	}

	orders, err := store.ListByUser("user-1", 2)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, ids[2], orders[0].ID)
	assert.Equal(t, ids[1], orders[1].ID)
}

func TestStoreSaveUnknownOrder(t *testing.T) {
	store := NewStore()

	err := store.Save(domain.Order{ID: "missing"})
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))
}
