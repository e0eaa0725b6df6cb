package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

func seedProductForIntegrationTest(t *testing.T, store *Store, stock int32) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	productID := uuid.NewString()
	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO products (id, sku, name, price_minor, stock_quantity)
		VALUES ($1, $2, 'Integration Widget', 1500, $3)
	`, productID, "SKU-"+productID[:8], stock)
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	return productID
}

func sampleCheckoutOrder(userID, productID string, qty int32) (domain.Order, []domain.StockMovement) {
	now := time.Now().UTC().Round(time.Microsecond)
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
			{ID: uuid.NewString(), ProductID: productID, Qty: qty, PriceMinor: 1500, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	movements := []domain.StockMovement{
		{
			ProductID:     productID,
			Type:          domain.MovementOut,
			Qty:           qty,
			Reason:        "order placed",
			ReferenceType: domain.ReferenceOrder,
			ReferenceID:   orderID,
		},
	}
	return order, movements
}

func TestCheckoutRepository_PostgresCheckoutAndRelease(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	checkout := NewCheckoutRepository(store)
	orders := NewOrderRepository(store)
	catalog := NewCatalogRepository(store)
	stock := NewStockRepository(store)

	productID := seedProductForIntegrationTest(t, store, 10)

	order, movements := sampleCheckoutOrder("user-1", productID, 3)
	if err := checkout.Checkout(order, movements); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	product, err := catalog.Product(productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockQuantity != 7 {
		t.Fatalf("unexpected stock after checkout: %d", product.StockQuantity)
	}

	saved, err := orders.Get(order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(saved.Items) != 1 || saved.Items[0].Qty != 3 {
		t.Fatalf("unexpected order items: %+v", saved.Items)
	}

	outs, err := stock.MovementsByReference(domain.ReferenceOrder, order.ID)
	if err != nil {
		t.Fatalf("movements by reference: %v", err)
	}
	if len(outs) != 1 || outs[0].Type != domain.MovementOut {
		t.Fatalf("unexpected checkout movements: %+v", outs)
	}

	saved.Status = domain.OrderStatusCancelled
	restock := []domain.StockMovement{
		{
			ProductID:     productID,
			Type:          domain.MovementIn,
			Qty:           3,
			Reason:        "order cancelled",
			ReferenceType: domain.ReferenceOrderCancel,
			ReferenceID:   order.ID,
		},
	}
	if err := checkout.Release(saved, restock); err != nil {
		t.Fatalf("release: %v", err)
	}

	product, err = catalog.Product(productID)
	if err != nil {
		t.Fatalf("get product after release: %v", err)
	}
	if product.StockQuantity != 10 {
		t.Fatalf("unexpected stock after release: %d", product.StockQuantity)
	}

	ledger, err := stock.LedgerSum(productID, "")
	if err != nil {
		t.Fatalf("ledger sum: %v", err)
	}
	if ledger != 10 {
		t.Fatalf("ledger does not match counter: ledger=%d counter=%d", ledger, product.StockQuantity)
	}
}

func TestCheckoutRepository_PostgresInsufficientStockRollsBack(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	checkout := NewCheckoutRepository(store)
	orders := NewOrderRepository(store)
	catalog := NewCatalogRepository(store)

	productID := seedProductForIntegrationTest(t, store, 2)

	order, movements := sampleCheckoutOrder("user-2", productID, 5)
	err := checkout.Checkout(order, movements)

	var insufficient *domain.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got: %v", err)
	}
	if insufficient.Available != 2 || insufficient.Requested != 5 {
		t.Fatalf("unexpected error payload: %+v", insufficient)
	}

	if _, err := orders.Get(order.ID); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("order must not exist after failed checkout, got: %v", err)
	}

	product, err := catalog.Product(productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockQuantity != 2 {
		t.Fatalf("stock must be untouched after rollback: %d", product.StockQuantity)
	}
}

func TestCheckoutRepository_PostgresReleaseVersionConflict(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	checkout := NewCheckoutRepository(store)

	productID := seedProductForIntegrationTest(t, store, 5)

	order, movements := sampleCheckoutOrder("user-3", productID, 1)
	if err := checkout.Checkout(order, movements); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	stale := order
	stale.Version = order.Version + 9
	stale.Status = domain.OrderStatusCancelled

	if err := checkout.Release(stale, nil); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got: %v", err)
	}
}

func TestWebhookRepository_PostgresInsertFirstDedup(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewWebhookRepository(store)

	first, err := repo.CreateEvent(domain.WebhookEvent{
		GatewayEventID: "evt_pg_1",
		EventType:      "payment.captured",
		Payload:        []byte(`{"event":"payment.captured"}`),
	})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}

	second, err := repo.CreateEvent(domain.WebhookEvent{
		GatewayEventID: "evt_pg_1",
		EventType:      "payment.captured",
		Payload:        []byte(`{"event":"payment.captured"}`),
	})
	if !errors.Is(err, domain.ErrWebhookDuplicate) {
		t.Fatalf("expected ErrWebhookDuplicate, got: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate must return existing record: %s vs %s", second.ID, first.ID)
	}

	if err := repo.MarkEventProcessed(first.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	stored, err := repo.GetEvent("evt_pg_1")
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if !stored.Processed {
		t.Fatal("event must be processed")
	}
}
