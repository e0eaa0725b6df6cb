package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/health"
	"github.com/vladislavdragonenkov/shopcore/internal/service/order"
	"github.com/vladislavdragonenkov/shopcore/internal/service/payment"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
	"github.com/vladislavdragonenkov/shopcore/internal/version"
)

type serverFixture struct {
	deps    *Dependencies
	store   *memory.Store
	gateway *payment.MockGateway
	server  *httptest.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cfg := DefaultConfig()
	logger := log.New().WithField("component", "http-test")

	deps, err := NewDependencies(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	store, ok := deps.Storage.carts.(*memory.Store)
	require.True(t, ok, "memory driver expected in tests")
	gateway, ok := deps.Gateway.(*payment.MockGateway)
	require.True(t, ok, "mock gateway expected in tests")

	server := httptest.NewServer(newPublicMux(deps.API, cfg.WebhookMaxBodyBytes, logger))
	t.Cleanup(server.Close)

	return &serverFixture{deps: deps, store: store, gateway: gateway, server: server}
}

func (f *serverFixture) placePaidIntent(t *testing.T) domain.Order {
	t.Helper()

	f.store.AddProduct(domain.Product{ID: "prod-1", SKU: "SKU-1", Name: "prod-1", PriceMinor: 1000, StockQuantity: 5})
	f.store.AddCartItem(domain.CartItem{UserID: "user-1", ProductID: "prod-1", Qty: 1})

	ord, err := f.deps.Orders.CreateOrder(order.CreateOrderInput{
		UserID:    "user-1",
		AddressID: "addr-1",
		Currency:  "INR",
	})
	require.NoError(t, err)

	_, err = f.deps.Payments.CreatePayment(ord.ID, "user-1")
	require.NoError(t, err)
	return ord
}

func postWebhook(t *testing.T, url string, body []byte, signature string) (*http.Response, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	if signature != "" {
		req.Header.Set("X-Razorpay-Signature", signature)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var envelope map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&envelope)
	return resp, envelope
}

func TestWebhookEndpoint(t *testing.T) {
	f := newServerFixture(t)
	ord := f.placePaidIntent(t)

	body, err := json.Marshal(map[string]interface{}{
		"id":    "evt_http",
		"event": "payment.captured",
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":    "pay_http",
					"notes": map[string]string{"orderId": ord.ID},
				},
			},
		},
	})
	require.NoError(t, err)

	url := f.server.URL + "/webhooks/razorpay"
	resp, envelope := postWebhook(t, url, body, f.gateway.SignWebhook(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, envelope["success"])

	got, err := f.deps.Orders.Get(ord.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)

	// Дубль — снова 200.
	resp, envelope = postWebhook(t, url, body, f.gateway.SignWebhook(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "webhook already processed", envelope["message"])

	// Без подписи — 401.
	resp, _ = postWebhook(t, url, body, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Не тот метод — 405.
	getResp, err := http.Get(url)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestWebhookEndpointHandlerFailure(t *testing.T) {
	f := newServerFixture(t)

	// Событие про неизвестный заказ валит обработчик: шлюз получает 5xx
	// и повторит доставку, запись о падении остаётся в очереди повторов.
	body, err := json.Marshal(map[string]interface{}{
		"id":    "evt_http_fail",
		"event": "payment.captured",
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":    "pay_http_fail",
					"notes": map[string]string{"orderId": "missing-order"},
				},
			},
		},
	})
	require.NoError(t, err)

	resp, envelope := postWebhook(t, f.server.URL+"/webhooks/razorpay", body, f.gateway.SignWebhook(body))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, false, envelope["success"])

	retryable, err := f.deps.Webhooks.PullRetryable(10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, "payment.captured", retryable[0].EventType)
}

func TestWebhookEndpointOversizedBody(t *testing.T) {
	cfg := DefaultConfig()
	logger := log.New().WithField("component", "http-test")

	deps, err := NewDependencies(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	server := httptest.NewServer(newPublicMux(deps.API, 64, logger))
	t.Cleanup(server.Close)

	body := bytes.Repeat([]byte("a"), 256)
	resp, _ := postWebhook(t, server.URL+"/webhooks/razorpay", body, "sig")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestFailedWebhooksEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.server.URL + "/admin/failed-webhooks")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, true, envelope["success"])
}

func TestOpsEndpoints(t *testing.T) {
	f := newServerFixture(t)

	healthHandler := health.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", health.NewCheckFunc("storage", func() error {
		return f.deps.Storage.ping(context.Background())
	}))
	healthHandler.RegisterChecker("stock-ledger", f.deps.Reconciler)

	ops := httptest.NewServer(newOpsMux(healthHandler))
	t.Cleanup(ops.Close)

	for _, path := range []string{"/livez", "/readyz", "/healthz", "/metrics"} {
		resp, err := http.Get(ops.URL + path)
		require.NoError(t, err, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}
