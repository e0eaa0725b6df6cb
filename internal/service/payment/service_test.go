package payment

import (
	"encoding/json"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/service/order"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
)

type paymentStore interface {
	domain.PaymentRepository
	Refunds(paymentID string) []domain.Refund
}

type fixture struct {
	store    *memory.Store
	payments paymentStore
	gateway  *MockGateway
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	orders   order.Service
	svc      Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	payments := memory.NewPaymentRepository()
	gateway := NewMockGateway("key-secret", "webhook-secret")
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	logger := log.New().WithField("component", "payment-service-test")

	orders := order.NewServiceWithoutMetrics(store, store, store, store, outbox, timeline, logger)
	svc := NewServiceWithoutMetrics(payments, gateway, orders, outbox, logger)

	return &fixture{
		store:    store,
		payments: payments,
		gateway:  gateway,
		outbox:   outbox,
		timeline: timeline,
		orders:   orders,
		svc:      svc,
	}
}

func (f *fixture) placeOrder(t *testing.T, userID string, qty int32) domain.Order {
	t.Helper()

	f.store.AddProduct(domain.Product{ID: "prod-1", SKU: "SKU-1", Name: "prod-1", PriceMinor: 1000, StockQuantity: 10})
	f.store.AddCartItem(domain.CartItem{UserID: userID, ProductID: "prod-1", Qty: qty})

	ord, err := f.orders.CreateOrder(order.CreateOrderInput{
		UserID:    userID,
		AddressID: "addr-1",
		Currency:  "INR",
	})
	require.NoError(t, err)
	return ord
}

func capturedEvent(orderID, gatewayPaymentID string) domain.GatewayEvent {
	var event domain.GatewayEvent
	event.ID = "evt_" + gatewayPaymentID
	event.Event = "payment.captured"
	event.Payload.Payment.Entity.ID = gatewayPaymentID
	event.Payload.Payment.Entity.Notes.OrderID = orderID
	return event
}

func TestCreatePayment(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 2)

	payment, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.Equal(t, ord.AmountMinor, payment.AmountMinor)
	assert.Equal(t, domain.PaymentMethodGateway, payment.Method)
	assert.NotEmpty(t, payment.GatewayOrderID)
	assert.False(t, payment.SignatureVerified)

	// Повторный вызов возвращает уже созданное намерение.
	again, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, payment.ID, again.ID)
	assert.Equal(t, payment.GatewayOrderID, again.GatewayOrderID)
}

func TestCreatePaymentOwnership(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)

	_, err := f.svc.CreatePayment(ord.ID, "user-2")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCreatePaymentRequiresPendingOrder(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)

	_, err := f.orders.UpdateStatus(ord.ID, domain.OrderStatusCancelled, "test")
	require.NoError(t, err)

	_, err = f.svc.CreatePayment(ord.ID, "user-1")
	assert.ErrorIs(t, err, domain.ErrOrderNotPayable)
}

func TestCreatePaymentGatewayDown(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)
	f.gateway.FailCreateIntent = true

	_, err := f.svc.CreatePayment(ord.ID, "user-1")
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	// Зависшего активного намерения не осталось.
	_, err = f.payments.ActiveByOrder(ord.ID)
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestVerifyPaymentSuccess(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)

	payment, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)

	verified, err := f.svc.VerifyPayment(VerifyInput{
		OrderID:          ord.ID,
		UserID:           "user-1",
		GatewayPaymentID: "pay_abc",
		Signature:        f.gateway.SignPayment(payment.GatewayOrderID, "pay_abc"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPaid, verified.Status)
	assert.True(t, verified.SignatureVerified)
	assert.Equal(t, "pay_abc", verified.GatewayPaymentID)

	got, err := f.store.Get(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
	assert.Equal(t, domain.PaymentStatePaid, got.PaymentStatus)

	// Повторная верификация уже оплаченного платежа — no-op.
	again, err := f.svc.VerifyPayment(VerifyInput{OrderID: ord.ID, UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, verified.ID, again.ID)
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)

	_, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)

	_, err = f.svc.VerifyPayment(VerifyInput{
		OrderID:          ord.ID,
		UserID:           "user-1",
		GatewayPaymentID: "pay_abc",
		Signature:        "deadbeef",
	})
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)

	// Несовпавшая подпись не меняет ни платёж, ни заказ.
	payment, err := f.payments.ActiveByOrder(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)

	got, err := f.store.Get(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
}

func TestProcessCOD(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)

	payment, err := f.svc.ProcessCOD(ord.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentMethodCOD, payment.Method)
	assert.Equal(t, domain.PaymentStatusPaid, payment.Status)
	assert.Empty(t, payment.GatewayOrderID)

	got, err := f.store.Get(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
	assert.Equal(t, domain.PaymentStatePaid, got.PaymentStatus)
}

func TestProcessRefundFullAmountCancelsOrder(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 3)

	payment, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)
	_, err = f.svc.VerifyPayment(VerifyInput{
		OrderID:          ord.ID,
		UserID:           "user-1",
		GatewayPaymentID: "pay_full",
		Signature:        f.gateway.SignPayment(payment.GatewayOrderID, "pay_full"),
	})
	require.NoError(t, err)

	refund, err := f.svc.ProcessRefund(payment.ID, payment.AmountMinor, "damaged goods")
	require.NoError(t, err)
	assert.NotEmpty(t, refund.GatewayRefundID)
	assert.Equal(t, payment.AmountMinor, refund.AmountMinor)

	updated, err := f.payments.Get(payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, updated.Status)

	// Возврат полной суммы отменил заказ и вернул остатки.
	got, err := f.store.Get(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
	assert.Equal(t, domain.PaymentStateRefunded, got.PaymentStatus)

	product, err := f.store.Product("prod-1")
	require.NoError(t, err)
	assert.Equal(t, int32(10), product.StockQuantity)
}

func TestProcessRefundPartialKeepsOrder(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 3)

	payment, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)
	_, err = f.svc.VerifyPayment(VerifyInput{
		OrderID:          ord.ID,
		UserID:           "user-1",
		GatewayPaymentID: "pay_part",
		Signature:        f.gateway.SignPayment(payment.GatewayOrderID, "pay_part"),
	})
	require.NoError(t, err)

	refund, err := f.svc.ProcessRefund(payment.ID, payment.AmountMinor/3, "one item returned")
	require.NoError(t, err)
	assert.Equal(t, payment.AmountMinor/3, refund.AmountMinor)

	require.Len(t, f.payments.Refunds(payment.ID), 1)

	// Частичный возврат не трогает заказ и остатки.
	got, err := f.store.Get(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)

	product, err := f.store.Product("prod-1")
	require.NoError(t, err)
	assert.Equal(t, int32(7), product.StockQuantity)
}

func TestProcessRefundValidation(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)

	payment, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)

	// Неоплаченный платёж не возвращается.
	_, err = f.svc.ProcessRefund(payment.ID, payment.AmountMinor, "")
	assert.ErrorIs(t, err, domain.ErrPaymentNotRefundable)

	_, err = f.svc.VerifyPayment(VerifyInput{
		OrderID:          ord.ID,
		UserID:           "user-1",
		GatewayPaymentID: "pay_v",
		Signature:        f.gateway.SignPayment(payment.GatewayOrderID, "pay_v"),
	})
	require.NoError(t, err)

	_, err = f.svc.ProcessRefund(payment.ID, 0, "")
	assert.ErrorIs(t, err, domain.ErrPaymentAmountNegative)

	_, err = f.svc.ProcessRefund(payment.ID, payment.AmountMinor+1, "")
	assert.ErrorIs(t, err, domain.ErrPaymentAmountNegative)

	_, err = f.svc.ProcessRefund("missing", 100, "")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestHandleGatewayEventCaptured(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)

	_, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)

	event := capturedEvent(ord.ID, "pay_hook")
	require.NoError(t, f.svc.HandleGatewayEvent(event))

	payment, err := f.payments.GetByGatewayPaymentID("pay_hook")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, payment.Status)

	got, err := f.store.Get(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)

	// Повторная доставка того же события состояние не меняет.
	require.NoError(t, f.svc.HandleGatewayEvent(event))
	again, err := f.store.Get(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)
}

func TestHandleGatewayEventFailed(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)

	_, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)

	var event domain.GatewayEvent
	event.Event = "payment.failed"
	event.Payload.Payment.Entity.Notes.OrderID = ord.ID
	require.NoError(t, f.svc.HandleGatewayEvent(event))

	got, err := f.store.Get(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Equal(t, domain.PaymentStateFailed, got.PaymentStatus)
}

func TestHandleGatewayEventRefundProcessed(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 2)

	_, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleGatewayEvent(capturedEvent(ord.ID, "pay_r")))

	var event domain.GatewayEvent
	event.Event = "refund.processed"
	event.Payload.Refund.Entity.ID = "rfnd_gw_1"
	event.Payload.Refund.Entity.PaymentID = "pay_r"
	require.NoError(t, f.svc.HandleGatewayEvent(event))

	payment, err := f.payments.GetByGatewayPaymentID("pay_r")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, payment.Status)
	require.Len(t, f.payments.Refunds(payment.ID), 1)
	assert.Equal(t, "rfnd_gw_1", f.payments.Refunds(payment.ID)[0].GatewayRefundID)

	got, err := f.store.Get(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)

	// Повторная доставка не создаёт второй записи возврата.
	require.NoError(t, f.svc.HandleGatewayEvent(event))
	assert.Len(t, f.payments.Refunds(payment.ID), 1)
}

func TestHandleGatewayEventShipment(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)

	var event domain.GatewayEvent
	event.Event = "shipment.out_for_delivery"
	event.Payload.Shipment.Entity.OrderID = ord.ID
	event.Payload.Shipment.Entity.Status = "out_for_delivery"
	require.NoError(t, f.svc.HandleGatewayEvent(event))

	events, err := f.timeline.List(ord.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "shipment.out_for_delivery", events[len(events)-1].EventType)
}

func TestHandleGatewayEventUnknownIgnored(t *testing.T) {
	f := newFixture(t)

	var event domain.GatewayEvent
	event.Event = "settlement.processed"
	assert.NoError(t, f.svc.HandleGatewayEvent(event))
}

func TestHandleGatewayEventDecodeRoundTrip(t *testing.T) {
	f := newFixture(t)
	ord := f.placeOrder(t, "user-1", 1)

	_, err := f.svc.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)

	raw, err := json.Marshal(map[string]interface{}{
		"id":    "evt_json",
		"event": "payment.captured",
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":    "pay_json",
					"notes": map[string]string{"orderId": ord.ID},
				},
			},
		},
	})
	require.NoError(t, err)

	event, err := domain.DecodeGatewayEvent(raw)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleGatewayEvent(event))

	got, err := f.store.Get(ord.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
}
