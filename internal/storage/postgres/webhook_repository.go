package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type webhookRepository struct {
	db *sql.DB
}

// NewWebhookRepository создаёт PostgreSQL-реализацию WebhookRepository.
func NewWebhookRepository(store *Store) domain.WebhookRepository {
	return &webhookRepository{db: store.DB()}
}

// CreateEvent регистрирует событие insert-first: запись вставляется без
// предварительной проверки, а дубль распознаётся по нарушению уникального
// индекса gateway_event_id. При дубле возвращается существующая запись.
func (r *webhookRepository) CreateEvent(event domain.WebhookEvent) (domain.WebhookEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (
			id, gateway_event_id, event_type, payment_id, order_id,
			payload, processed, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		event.ID, event.GatewayEventID, event.EventType, event.PaymentID, event.OrderID,
		event.Payload, event.Processed, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.GetEvent(event.GatewayEventID)
			if getErr != nil {
				return domain.WebhookEvent{}, fmt.Errorf("load duplicate webhook event: %w", getErr)
			}
			return existing, domain.ErrWebhookDuplicate
		}
		return domain.WebhookEvent{}, fmt.Errorf("insert webhook event: %w", err)
	}

	return event, nil
}

func (r *webhookRepository) GetEvent(gatewayEventID string) (domain.WebhookEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var event domain.WebhookEvent
	err := r.db.QueryRowContext(ctx, `
		SELECT id, gateway_event_id, event_type, payment_id, order_id,
		       payload, processed, created_at, updated_at
		FROM webhook_events
		WHERE gateway_event_id = $1
	`, gatewayEventID).Scan(
		&event.ID, &event.GatewayEventID, &event.EventType, &event.PaymentID, &event.OrderID,
		&event.Payload, &event.Processed, &event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WebhookEvent{}, domain.ErrWebhookNotFound
		}
		return domain.WebhookEvent{}, fmt.Errorf("select webhook event: %w", err)
	}

	return event, nil
}

func (r *webhookRepository) MarkEventProcessed(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_events
		SET processed = TRUE,
		    updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWebhookNotFound
	}

	return nil
}

func (r *webhookRepository) CreateFailed(failed domain.FailedWebhook) (domain.FailedWebhook, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

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

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO failed_webhooks (
			id, payload, signature, event_id, event_type, error,
			retries, max_retries, processed, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		failed.ID, failed.Payload, failed.Signature, failed.EventID, failed.EventType,
		failed.Error, failed.Retries, failed.MaxRetries, failed.Processed,
		failed.CreatedAt, failed.UpdatedAt,
	)
	if err != nil {
		return domain.FailedWebhook{}, fmt.Errorf("insert failed webhook: %w", err)
	}

	return failed, nil
}

func (r *webhookRepository) PullRetryable(limit int) ([]domain.FailedWebhook, error) {
	return r.listFailed(`
		WHERE NOT processed
		  AND retries < max_retries
	`, limit)
}

func (r *webhookRepository) ListExhausted(limit int) ([]domain.FailedWebhook, error) {
	return r.listFailed(`
		WHERE NOT processed
		  AND retries >= max_retries
	`, limit)
}

func (r *webhookRepository) listFailed(where string, limit int) ([]domain.FailedWebhook, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payload, signature, event_id, event_type, error,
		       retries, max_retries, last_retry_at, processed, created_at, updated_at
		FROM failed_webhooks
	`+where+`
		ORDER BY created_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed webhooks: %w", err)
	}
	defer rows.Close()

	result := make([]domain.FailedWebhook, 0, limit)
	for rows.Next() {
		var (
			fw          domain.FailedWebhook
			lastRetryAt sql.NullTime
		)
		if err := rows.Scan(
			&fw.ID, &fw.Payload, &fw.Signature, &fw.EventID, &fw.EventType, &fw.Error,
			&fw.Retries, &fw.MaxRetries, &lastRetryAt, &fw.Processed, &fw.CreatedAt, &fw.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan failed webhook: %w", err)
		}
		if lastRetryAt.Valid {
			fw.LastRetryAt = lastRetryAt.Time.UTC()
		}
		result = append(result, fw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed webhooks: %w", err)
	}

	return result, nil
}

func (r *webhookRepository) MarkFailedProcessed(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE failed_webhooks
		SET processed = TRUE,
		    updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark failed webhook processed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWebhookNotFound
	}

	return nil
}

func (r *webhookRepository) RecordRetry(id string, errMsg string, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE failed_webhooks
		SET retries = retries + 1,
		    error = $2,
		    last_retry_at = $3,
		    updated_at = $4
		WHERE id = $1
	`, id, errMsg, at, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record webhook retry: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrWebhookNotFound
	}

	return nil
}

var _ domain.WebhookRepository = (*webhookRepository)(nil)
