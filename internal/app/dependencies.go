package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/api"
	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/gateway/razorpay"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/inventory"
	"github.com/vladislavdragonenkov/shopcore/internal/service/order"
	"github.com/vladislavdragonenkov/shopcore/internal/service/payment"
	"github.com/vladislavdragonenkov/shopcore/internal/service/webhook"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/memory"
	"github.com/vladislavdragonenkov/shopcore/internal/storage/postgres"
)

// storageSet — набор портов, которые отдаёт выбранный драйвер хранилища.
type storageSet struct {
	carts    domain.CartRepository
	catalog  domain.CatalogRepository
	orders   domain.OrderRepository
	checkout domain.CheckoutStore
	stock    domain.StockRepository
	payments domain.PaymentRepository
	webhooks domain.WebhookRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository

	// ping проверяет доступность хранилища для readiness probe.
	ping func(ctx context.Context) error
	// close освобождает ресурсы драйвера; nil для memory.
	close func() error
}

// Dependencies — собранный граф сервисов приложения.
type Dependencies struct {
	Storage    *storageSet
	Gateway    domain.PaymentGateway
	Orders     order.Service
	Payments   payment.Service
	Ingestor   *webhook.Ingestor
	Webhooks   domain.WebhookRepository
	Reconciler *inventory.Reconciler
	Adjuster   *inventory.Adjuster
	API        *api.API
	Metrics    *metrics.EngineMetrics
	Logger     *log.Entry
}

// initStorage поднимает хранилище по драйверу из конфигурации.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storageSet, error) {
	switch cfg.StorageDriver {
	case StorageMemory:
		store := memory.NewStore()
		return &storageSet{
			carts:    store,
			catalog:  store,
			orders:   store,
			checkout: store,
			stock:    store,
			payments: memory.NewPaymentRepository(),
			webhooks: memory.NewWebhookRepository(),
			outbox:   memory.NewOutboxRepository(),
			timeline: memory.NewTimelineRepository(),
			ping:     func(context.Context) error { return nil },
		}, nil

	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("postgres storage initialized")

		return &storageSet{
			carts:    postgres.NewCartRepository(store),
			catalog:  postgres.NewCatalogRepository(store),
			orders:   postgres.NewOrderRepository(store),
			checkout: postgres.NewCheckoutRepository(store),
			stock:    postgres.NewStockRepository(store),
			payments: postgres.NewPaymentRepository(store),
			webhooks: postgres.NewWebhookRepository(store),
			outbox:   postgres.NewOutboxRepository(store),
			timeline: postgres.NewTimelineRepository(store),
			ping:     store.Ping,
			close:    store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// initGateway выбирает реальный клиент шлюза или мок для dev-режима.
func initGateway(cfg Config, logger *log.Entry) domain.PaymentGateway {
	if cfg.RazorpayKeyID == "" {
		logger.Warn("razorpay keys are not set, using mock gateway")
		return payment.NewMockGateway(cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret)
	}

	return razorpay.NewClient(razorpay.Config{
		BaseURL:       cfg.RazorpayBaseURL,
		KeyID:         cfg.RazorpayKeyID,
		KeySecret:     cfg.RazorpayKeySecret,
		WebhookSecret: cfg.RazorpayWebhookSecret,
	}, logger.WithField("component", "razorpay-client"))
}

// NewDependencies собирает граф сервисов приложения.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	storage, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gateway := initGateway(cfg, logger)
	engineMetrics := metrics.NewEngineMetrics()

	orders := order.NewService(
		storage.carts, storage.catalog, storage.orders, storage.checkout,
		storage.outbox, storage.timeline,
		logger.WithField("component", "order-service"),
	)
	payments := payment.NewService(
		storage.payments, gateway, orders, storage.outbox,
		logger.WithField("component", "payment-service"),
	)
	ingestor := webhook.NewIngestor(
		storage.webhooks, gateway, payments, storage.outbox,
		logger.WithField("component", "webhook-ingestor"),
		webhook.WithMaxPayloadBytes(cfg.WebhookMaxBodyBytes),
		webhook.WithIngestMetrics(engineMetrics),
	)
	reconciler := inventory.NewReconciler(storage.stock, logger.WithField("component", "inventory-reconciler"))
	adjuster := inventory.NewAdjuster(storage.stock, logger.WithField("component", "inventory-adjuster"))
	facade := api.New(orders, payments, ingestor, storage.webhooks, logger.WithField("component", "api"))

	return &Dependencies{
		Storage:    storage,
		Gateway:    gateway,
		Orders:     orders,
		Payments:   payments,
		Ingestor:   ingestor,
		Webhooks:   storage.webhooks,
		Reconciler: reconciler,
		Adjuster:   adjuster,
		API:        facade,
		Metrics:    engineMetrics,
		Logger:     logger,
	}, nil
}

// Close освобождает ресурсы хранилища.
func (d *Dependencies) Close() error {
	if d.Storage != nil && d.Storage.close != nil {
		return d.Storage.close()
	}
	return nil
}
