package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shopcore/internal/metrics"
	"github.com/vladislavdragonenkov/shopcore/internal/service/payment"
)

// DefaultMaxPayloadBytes — потолок размера webhook-тела.
// Реальные события шлюза укладываются в единицы килобайт; большее тело
// означает либо ошибку интеграции, либо попытку злоупотребления.
const DefaultMaxPayloadBytes = 1 << 20

// IngestResult — исход приёма webhook.
type IngestResult struct {
	EventID   string
	Duplicate bool
}

// Ingestor принимает сырые webhook-запросы: проверяет подпись,
// регистрирует событие по ключу идемпотентности и передаёт его
// платёжному сервису.
type Ingestor struct {
	repo            domain.WebhookRepository
	gateway         domain.PaymentGateway
	payments        payment.Service
	outbox          domain.OutboxRepository
	logger          *log.Entry
	metrics         *metrics.EngineMetrics
	maxPayloadBytes int
}

// IngestorOption настраивает Ingestor.
type IngestorOption func(*Ingestor)

// WithMaxPayloadBytes переопределяет потолок размера тела.
func WithMaxPayloadBytes(n int) IngestorOption {
	return func(i *Ingestor) {
		if n > 0 {
			i.maxPayloadBytes = n
		}
	}
}

// WithIngestMetrics подключает метрики пайплайна.
func WithIngestMetrics(m *metrics.EngineMetrics) IngestorOption {
	return func(i *Ingestor) { i.metrics = m }
}

// NewIngestor создаёт пайплайн приёма webhook.
func NewIngestor(
	repo domain.WebhookRepository,
	gateway domain.PaymentGateway,
	payments payment.Service,
	outbox domain.OutboxRepository,
	logger *log.Entry,
	opts ...IngestorOption,
) *Ingestor {
	if logger == nil {
		logger = log.New().WithField("component", "webhook-ingestor")
	}
	ingestor := &Ingestor{
		repo:            repo,
		gateway:         gateway,
		payments:        payments,
		outbox:          outbox,
		logger:          logger,
		maxPayloadBytes: DefaultMaxPayloadBytes,
	}
	for _, opt := range opts {
		opt(ingestor)
	}
	return ingestor
}

// Ingest обрабатывает входящий webhook. Порядок фиксированный: размер,
// подпись над сырым телом, разбор, регистрация по ключу идемпотентности,
// side effects. Ошибка обработчика не теряет событие: оно уходит в очередь
// повторов durable-записью, а шлюз получает ошибку и ретраит доставку.
func (i *Ingestor) Ingest(rawBody []byte, signatureHeader string) (IngestResult, error) {
	start := time.Now()
	if i.metrics != nil {
		defer func() {
			i.metrics.RecordWebhookDuration(time.Since(start))
		}()
	}

	if len(rawBody) > i.maxPayloadBytes {
		i.reject("payload_too_large")
		return IngestResult{}, domain.ErrWebhookPayloadTooLarge
	}
	if signatureHeader == "" {
		i.reject("signature_missing")
		return IngestResult{}, domain.ErrWebhookSignatureMissing
	}

	// Подпись проверяется над сырым телом до разбора JSON.
	if !i.gateway.VerifyWebhookSignature(rawBody, signatureHeader) {
		i.reject("signature_invalid")
		i.logger.Warn("webhook signature rejected")
		return IngestResult{}, domain.ErrWebhookSignatureInvalid
	}

	event, err := domain.DecodeGatewayEvent(rawBody)
	if err != nil {
		i.reject("payload_invalid")
		return IngestResult{}, err
	}

	key, primary := event.IdempotencyKey()
	if !primary {
		// Составной ключ слабее и допускает коллизии при быстрых дублях.
		if i.metrics != nil {
			i.metrics.RecordWebhookFallbackKey()
		}
		i.logger.WithFields(log.Fields{
			"event": event.Event,
			"key":   key,
		}).Warn("gateway event without id, using fallback idempotency key")
	}

	now := time.Now().UTC()
	stored, err := i.repo.CreateEvent(domain.WebhookEvent{
		ID:             uuid.NewString(),
		GatewayEventID: key,
		EventType:      event.Event,
		PaymentID:      event.PaymentEntityID(),
		OrderID:        event.OrderRef(),
		Payload:        rawBody,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if errors.Is(err, domain.ErrWebhookDuplicate) {
		if stored.Processed {
			// Повторная доставка обработанного события подтверждается
			// без side effects.
			if i.metrics != nil {
				i.metrics.RecordWebhookDuplicate()
			}
			return IngestResult{EventID: stored.ID, Duplicate: true}, nil
		}
		// Дубль незавершённой обработки: обработчики идемпотентны,
		// событие прогоняется повторно.
	} else if err != nil {
		return IngestResult{}, fmt.Errorf("register webhook event: %w", err)
	}

	if err := i.dispatch(event); err != nil {
		i.quarantine(rawBody, signatureHeader, stored, event, err)
		// Событие зарегистрировано и будет добито из очереди повторов,
		// но шлюзу отвечаем ошибкой: его повторная доставка безопасна
		// (незавершённый дубль прогоняется заново) и служит вторым
		// каналом восстановления.
		return IngestResult{EventID: stored.ID}, fmt.Errorf("%w: %v", domain.ErrWebhookProcessingFailed, err)
	}

	if err := i.repo.MarkEventProcessed(stored.ID); err != nil {
		i.logger.WithError(err).WithField("event_id", stored.ID).
			Warn("failed to mark webhook event processed")
	}
	if i.metrics != nil {
		i.metrics.RecordWebhookProcessed()
	}
	return IngestResult{EventID: stored.ID}, nil
}

func (i *Ingestor) dispatch(event domain.GatewayEvent) error {
	return i.payments.HandleGatewayEvent(event)
}

// quarantine сохраняет durable-запись об упавшем событии и публикует
// алерт-событие в outbox.
func (i *Ingestor) quarantine(rawBody []byte, signature string, stored domain.WebhookEvent, event domain.GatewayEvent, cause error) {
	if i.metrics != nil {
		i.metrics.RecordWebhookFailed()
	}
	i.logger.WithError(cause).WithFields(log.Fields{
		"event_id":   stored.ID,
		"event_type": event.Event,
	}).Error("webhook handler failed, queued for retry")

	failed, err := i.repo.CreateFailed(domain.FailedWebhook{
		ID:        uuid.NewString(),
		Payload:   rawBody,
		Signature: signature,
		EventID:   stored.GatewayEventID,
		EventType: event.Event,
		Error:     cause.Error(),
	})
	if err != nil {
		i.logger.WithError(err).Error("failed to persist failed webhook record")
		return
	}

	i.enqueueFailureAlert(failed)
}

func (i *Ingestor) enqueueFailureAlert(failed domain.FailedWebhook) {
	if i.outbox == nil {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"failed_webhook_id": failed.ID,
		"event_type":        failed.EventType,
		"error":             failed.Error,
	})
	if err != nil {
		return
	}

	if _, err := i.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "webhook",
		AggregateID:   failed.ID,
		EventType:     string(kafka.EventTypeWebhookFailed),
		Payload:       payload,
	}); err != nil {
		i.logger.WithError(err).Warn("failed to enqueue webhook failure alert")
	}
}

func (i *Ingestor) reject(reason string) {
	if i.metrics != nil {
		i.metrics.RecordWebhookRejected(reason)
	}
}
