package app

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/health"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopcore/internal/service/outbox"
	"github.com/vladislavdragonenkov/shopcore/internal/service/webhook"
	"github.com/vladislavdragonenkov/shopcore/internal/version"
)

// healthPingTimeout ограничивает проверку хранилища в readiness probe.
const healthPingTimeout = 2 * time.Second

// Run собирает зависимости, поднимает HTTP-серверы и фоновые воркеры
// и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return err
	}

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	producer := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	var wg sync.WaitGroup

	// Outbox worker публикует события только при настроенной Kafka;
	// без брокера записи копятся в outbox.
	if producer != nil {
		publisher := kafka.NewOutboxPublisher(producer, cfg.OrderTopic, cfg.PaymentTopic)
		dlq := kafka.NewDLQPublisher(producer, cfg.DLQTopic)
		worker := outbox.NewWorker(deps.Storage.outbox, publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	retryWorker := webhook.NewRetryWorker(deps.Storage.webhooks, deps.Payments,
		webhook.WithRetryLogger(logger.WithField("component", "webhook-retry-worker")),
		webhook.WithRetryMetrics(deps.Metrics),
		webhook.WithSweepInterval(cfg.WebhookSweepInterval),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		retryWorker.Run(ctx)
	}()

	healthHandler := health.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", health.NewCheckFunc("storage", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), healthPingTimeout)
		defer cancel()
		return deps.Storage.ping(pingCtx)
	}))
	healthHandler.RegisterChecker("stock-ledger", deps.Reconciler)

	publicSrv := startHTTPServer(ctx, cfg.HTTPAddr,
		newPublicMux(deps.API, cfg.WebhookMaxBodyBytes, logger), "http", logger)
	opsSrv := startHTTPServer(ctx, cfg.MetricsAddr, newOpsMux(healthHandler), "ops", logger)

	<-ctx.Done()
	logger.Info("получен сигнал остановки")

	shutdownHTTP(publicSrv, logger)
	shutdownHTTP(opsSrv, logger)
	wg.Wait()

	return ctx.Err()
}
