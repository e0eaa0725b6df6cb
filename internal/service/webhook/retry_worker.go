package webhook

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/payment"
)

const (
	defaultSweepInterval = 30 * time.Second
	defaultSweepBatch    = 50
)

// RetryWorkerOptions задаёт параметры воркера повторов.
type RetryWorkerOptions struct {
	Logger        *log.Entry
	Metrics       *metrics.EngineMetrics
	SweepInterval time.Duration
	BatchSize     int
}

// RetryOption настраивает RetryWorker.
type RetryOption func(*RetryWorkerOptions)

// WithRetryLogger задаёт logger воркера.
func WithRetryLogger(logger *log.Entry) RetryOption {
	return func(opts *RetryWorkerOptions) {
		opts.Logger = logger
	}
}

// WithRetryMetrics подключает метрики воркера.
func WithRetryMetrics(m *metrics.EngineMetrics) RetryOption {
	return func(opts *RetryWorkerOptions) {
		opts.Metrics = m
	}
}

// WithSweepInterval задаёт частоту обхода очереди повторов.
func WithSweepInterval(interval time.Duration) RetryOption {
	return func(opts *RetryWorkerOptions) {
		opts.SweepInterval = interval
	}
}

// WithSweepBatch задаёт размер батча за один обход.
func WithSweepBatch(batchSize int) RetryOption {
	return func(opts *RetryWorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// RetryWorker периодически перечитывает durable-очередь упавших webhook
// и повторяет их обработку. Исчерпавшие retries записи остаются в хранилище
// для ручного разбора, воркер их не трогает.
type RetryWorker struct {
	repo          domain.WebhookRepository
	payments      payment.Service
	logger        *log.Entry
	metrics       *metrics.EngineMetrics
	sweepInterval time.Duration
	batchSize     int
}

// NewRetryWorker создаёт воркер повторов.
func NewRetryWorker(repo domain.WebhookRepository, payments payment.Service, options ...RetryOption) *RetryWorker {
	opts := RetryWorkerOptions{
		SweepInterval: defaultSweepInterval,
		BatchSize:     defaultSweepBatch,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "webhook-retry-worker")
	}

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatch
	}

	return &RetryWorker{
		repo:          repo,
		payments:      payments,
		logger:        logger,
		metrics:       opts.Metrics,
		sweepInterval: opts.SweepInterval,
		batchSize:     opts.BatchSize,
	}
}

// Run запускает периодический обход очереди до отмены ctx.
func (w *RetryWorker) Run(ctx context.Context) {
	if w.repo == nil || w.payments == nil {
		w.logger.Warn("webhook retry worker is disabled: repo or payment service is nil")
		return
	}

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	w.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce выполняет один обход очереди повторов.
func (w *RetryWorker) SweepOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	failed, err := w.repo.PullRetryable(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull retryable webhooks")
		return
	}

	for _, record := range failed {
		if ctx.Err() != nil {
			return
		}
		w.retryOne(record)
	}
}

// retryOne повторяет обработку одной записи. Payload разбирается заново
// из сохранённого сырого тела: подпись уже была проверена при приёме.
func (w *RetryWorker) retryOne(record domain.FailedWebhook) {
	if w.metrics != nil {
		w.metrics.RecordWebhookRetry()
	}

	event, err := domain.DecodeGatewayEvent(record.Payload)
	if err == nil {
		err = w.payments.HandleGatewayEvent(event)
	}
	if err != nil {
		if recordErr := w.repo.RecordRetry(record.ID, err.Error(), time.Now().UTC()); recordErr != nil {
			w.logger.WithError(recordErr).WithField("failed_webhook_id", record.ID).
				Warn("failed to record webhook retry")
		}
		w.logger.WithError(err).WithFields(log.Fields{
			"failed_webhook_id": record.ID,
			"event_type":        record.EventType,
			"retries":           record.Retries + 1,
		}).Warn("webhook retry failed")
		return
	}

	if err := w.repo.MarkFailedProcessed(record.ID); err != nil {
		w.logger.WithError(err).WithField("failed_webhook_id", record.ID).
			Warn("failed to mark retried webhook as processed")
		return
	}

	if record.EventID != "" {
		if event, err := w.repo.GetEvent(record.EventID); err == nil && !event.Processed {
			if err := w.repo.MarkEventProcessed(event.ID); err != nil {
				w.logger.WithError(err).WithField("event_id", event.ID).
					Warn("failed to mark webhook event processed after retry")
			}
		}
	}

	if w.metrics != nil {
		w.metrics.RecordWebhookProcessed()
	}
	w.logger.WithFields(log.Fields{
		"failed_webhook_id": record.ID,
		"event_type":        record.EventType,
	}).Info("webhook retried successfully")
}
