package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics содержит метрики ядра заказов и платежей.
type EngineMetrics struct {
	// Счётчики оформления заказов
	checkoutStarted   prometheus.Counter
	checkoutCompleted prometheus.Counter
	checkoutFailed    prometheus.Counter
	oversellRejected  prometheus.Counter

	// Счётчики платёжных операций
	paymentsCreated  prometheus.Counter
	paymentsCaptured prometheus.Counter
	paymentsRefunded prometheus.Counter
	signatureReject  prometheus.Counter

	// Счётчики webhook-конвейера
	webhooksProcessed   prometheus.Counter
	webhooksDuplicate   prometheus.Counter
	webhooksRejected    *prometheus.CounterVec
	webhooksFailed      prometheus.Counter
	webhookRetries      prometheus.Counter
	webhookFallbackKeys prometheus.Counter

	// Гистограммы времени выполнения
	checkoutDuration prometheus.Histogram
	webhookDuration  prometheus.Histogram
}

// NewEngineMetrics создаёт метрики с регистрацией в default registerer.
func NewEngineMetrics() *EngineMetrics {
	return newEngineMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newEngineMetricsWithRegisterer(registerer prometheus.Registerer) *EngineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &EngineMetrics{
		checkoutStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_checkout_started_total",
			Help: "Total number of checkout attempts started",
		}),
		checkoutCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_checkout_completed_total",
			Help: "Total number of orders created successfully",
		}),
		checkoutFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_checkout_failed_total",
			Help: "Total number of checkout attempts failed",
		}),
		oversellRejected: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_checkout_oversell_rejected_total",
			Help: "Total number of checkouts rejected due to insufficient stock",
		}),
		paymentsCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_payments_created_total",
			Help: "Total number of payment intents created",
		}),
		paymentsCaptured: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_payments_captured_total",
			Help: "Total number of payments confirmed as paid",
		}),
		paymentsRefunded: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_payments_refunded_total",
			Help: "Total number of payments refunded",
		}),
		signatureReject: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_payment_signature_rejected_total",
			Help: "Total number of payment confirmations rejected by signature check",
		}),
		webhooksProcessed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_webhooks_processed_total",
			Help: "Total number of webhook events processed successfully",
		}),
		webhooksDuplicate: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_webhooks_duplicate_total",
			Help: "Total number of duplicate webhook deliveries short-circuited",
		}),
		webhooksRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shopcore_webhooks_rejected_total",
			Help: "Total number of webhook requests rejected before dispatch",
		}, []string{"reason"}),
		webhooksFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_webhooks_failed_total",
			Help: "Total number of webhook events that failed processing",
		}),
		webhookRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_webhook_retries_total",
			Help: "Total number of failed webhook retry attempts",
		}),
		webhookFallbackKeys: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shopcore_webhook_fallback_key_total",
			Help: "Total number of webhook events deduplicated by the composite fallback key",
		}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shopcore_checkout_duration_seconds",
			Help:    "Duration of checkout transactions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		webhookDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "shopcore_webhook_duration_seconds",
			Help:    "Duration of webhook ingestion in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
	}
}

// RecordCheckoutStarted инкрементирует счётчик начатых оформлений.
func (m *EngineMetrics) RecordCheckoutStarted() { m.checkoutStarted.Inc() }

// RecordCheckoutCompleted инкрементирует счётчик успешных оформлений.
func (m *EngineMetrics) RecordCheckoutCompleted() { m.checkoutCompleted.Inc() }

// RecordCheckoutFailed инкрементирует счётчик неуспешных оформлений.
func (m *EngineMetrics) RecordCheckoutFailed() { m.checkoutFailed.Inc() }

// RecordOversellRejected инкрементирует счётчик отказов из-за нехватки остатков.
func (m *EngineMetrics) RecordOversellRejected() { m.oversellRejected.Inc() }

// RecordPaymentCreated инкрементирует счётчик созданных платёжных намерений.
func (m *EngineMetrics) RecordPaymentCreated() { m.paymentsCreated.Inc() }

// RecordPaymentCaptured инкрементирует счётчик подтверждённых оплат.
func (m *EngineMetrics) RecordPaymentCaptured() { m.paymentsCaptured.Inc() }

// RecordPaymentRefunded инкрементирует счётчик возвратов.
func (m *EngineMetrics) RecordPaymentRefunded() { m.paymentsRefunded.Inc() }

// RecordSignatureRejected инкрементирует счётчик отклонённых подписей.
func (m *EngineMetrics) RecordSignatureRejected() { m.signatureReject.Inc() }

// RecordWebhookProcessed инкрементирует счётчик обработанных webhook.
func (m *EngineMetrics) RecordWebhookProcessed() { m.webhooksProcessed.Inc() }

// RecordWebhookDuplicate инкрементирует счётчик отсечённых дублей.
func (m *EngineMetrics) RecordWebhookDuplicate() { m.webhooksDuplicate.Inc() }

// RecordWebhookRejected инкрементирует счётчик отклонённых запросов по причине.
func (m *EngineMetrics) RecordWebhookRejected(reason string) {
	m.webhooksRejected.WithLabelValues(reason).Inc()
}

// RecordWebhookFailed инкрементирует счётчик упавших обработок.
func (m *EngineMetrics) RecordWebhookFailed() { m.webhooksFailed.Inc() }

// RecordWebhookRetry инкрементирует счётчик retry-попыток.
func (m *EngineMetrics) RecordWebhookRetry() { m.webhookRetries.Inc() }

// RecordWebhookFallbackKey инкрементирует счётчик fallback-ключей идемпотентности.
func (m *EngineMetrics) RecordWebhookFallbackKey() { m.webhookFallbackKeys.Inc() }

// RecordCheckoutDuration записывает длительность оформления заказа.
func (m *EngineMetrics) RecordCheckoutDuration(d time.Duration) {
	m.checkoutDuration.Observe(d.Seconds())
}

// RecordWebhookDuration записывает длительность обработки webhook.
func (m *EngineMetrics) RecordWebhookDuration(d time.Duration) {
	m.webhookDuration.Observe(d.Seconds())
}

// registerCounter регистрирует counter, переиспользуя уже зарегистрированный.
func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	counter := prometheus.NewCounter(opts)
	if err := registerer.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(prometheus.Counter); ok2 {
				return existing
			}
		}
		panic(fmt.Sprintf("register counter %s: %v", opts.Name, err))
	}
	return counter
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*prometheus.CounterVec); ok2 {
				return existing
			}
		}
		panic(fmt.Sprintf("register counter vec %s: %v", opts.Name, err))
	}
	return vec
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	histogram := prometheus.NewHistogram(opts)
	if err := registerer.Register(histogram); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(prometheus.Histogram); ok2 {
				return existing
			}
		}
		panic(fmt.Sprintf("register histogram %s: %v", opts.Name, err))
	}
	return histogram
}
