package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// webhookRepositoryInMemory — in-memory хранилище webhook-событий и их падений.
type webhookRepositoryInMemory struct {
	mu       sync.RWMutex
	events   map[string]domain.WebhookEvent // по gateway_event_id
	eventIDs map[string]string              // id -> gateway_event_id
	failed   map[string]domain.FailedWebhook
}

// NewWebhookRepository возвращает in-memory реализацию WebhookRepository.
func NewWebhookRepository() *webhookRepositoryInMemory {
	return &webhookRepositoryInMemory{
		events:   make(map[string]domain.WebhookEvent),
		eventIDs: make(map[string]string),
		failed:   make(map[string]domain.FailedWebhook),
	}
}

// CreateEvent регистрирует событие insert-first: при дубле по ключу
// идемпотентности возвращается существующая запись и ErrWebhookDuplicate.
func (r *webhookRepositoryInMemory) CreateEvent(event domain.WebhookEvent) (domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.events[event.GatewayEventID]; ok {
		return existing, domain.ErrWebhookDuplicate
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	r.events[event.GatewayEventID] = event
	r.eventIDs[event.ID] = event.GatewayEventID
	return event, nil
}

// GetEvent возвращает событие по ключу идемпотентности.
func (r *webhookRepositoryInMemory) GetEvent(gatewayEventID string) (domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[gatewayEventID]
	if !ok {
		return domain.WebhookEvent{}, domain.ErrWebhookNotFound
	}
	return event, nil
}

// MarkEventProcessed помечает событие обработанным.
func (r *webhookRepositoryInMemory) MarkEventProcessed(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.eventIDs[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	event := r.events[key]
	event.Processed = true
	event.UpdatedAt = time.Now().UTC()
	r.events[key] = event
	return nil
}

// CreateFailed сохраняет durable-запись об упавшей обработке.
func (r *webhookRepositoryInMemory) CreateFailed(failed domain.FailedWebhook) (domain.FailedWebhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if failed.ID == "" {
		failed.ID = uuid.NewString()
	}
	if failed.MaxRetries <= 0 {
		failed.MaxRetries = domain.DefaultWebhookMaxRetries
	}
	now := time.Now().UTC()
	if failed.CreatedAt.IsZero() {
		failed.CreatedAt = now
	}
	failed.UpdatedAt = now

	r.failed[failed.ID] = failed
	return failed, nil
}

// PullRetryable возвращает необработанные записи с запасом retries.
func (r *webhookRepositoryInMemory) PullRetryable(limit int) ([]domain.FailedWebhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.FailedWebhook, 0, limit)
	for _, fw := range r.failed {
		if fw.Processed || fw.Exhausted() {
			continue
		}
		result = append(result, fw)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// MarkFailedProcessed помечает упавшую запись успешно добитой.
func (r *webhookRepositoryInMemory) MarkFailedProcessed(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fw, ok := r.failed[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	fw.Processed = true
	fw.UpdatedAt = time.Now().UTC()
	r.failed[id] = fw
	return nil
}

// RecordRetry инкрементирует retries и фиксирует последнюю ошибку.
func (r *webhookRepositoryInMemory) RecordRetry(id string, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fw, ok := r.failed[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	fw.Retries++
	fw.Error = errMsg
	fw.LastRetryAt = at
	fw.UpdatedAt = time.Now().UTC()
	r.failed[id] = fw
	return nil
}

// ListExhausted возвращает записи с исчерпанными retries для оператора.
func (r *webhookRepositoryInMemory) ListExhausted(limit int) ([]domain.FailedWebhook, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.FailedWebhook, 0)
	for _, fw := range r.failed {
		if !fw.Processed && fw.Exhausted() {
			result = append(result, fw)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// FailedByID возвращает запись по идентификатору; используется в тестах.
func (r *webhookRepositoryInMemory) FailedByID(id string) (domain.FailedWebhook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fw, ok := r.failed[id]
	return fw, ok
}

var _ domain.WebhookRepository = (*webhookRepositoryInMemory)(nil)
