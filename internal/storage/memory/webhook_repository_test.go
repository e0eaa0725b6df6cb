package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

func TestWebhookRepositoryCreateEventDeduplicates(t *testing.T) {
	repo := NewWebhookRepository()

	first, err := repo.CreateEvent(domain.WebhookEvent{
		GatewayEventID: "evt_1",
		EventType:      "payment.captured",
		Payload:        []byte(`{"event":"payment.captured"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	// Повторная доставка того же события возвращает существующую запись.
	second, err := repo.CreateEvent(domain.WebhookEvent{
		GatewayEventID: "evt_1",
		EventType:      "payment.captured",
		Payload:        []byte(`{"event":"payment.captured"}`),
	})
	assert.ErrorIs(t, err, domain.ErrWebhookDuplicate)
	assert.Equal(t, first.ID, second.ID)
}

func TestWebhookRepositoryMarkEventProcessed(t *testing.T) {
	repo := NewWebhookRepository()

	event, err := repo.CreateEvent(domain.WebhookEvent{GatewayEventID: "evt_2", EventType: "payment.failed"})
	require.NoError(t, err)

	require.NoError(t, repo.MarkEventProcessed(event.ID))

	stored, err := repo.GetEvent("evt_2")
	require.NoError(t, err)
	assert.True(t, stored.Processed)

	assert.ErrorIs(t, repo.MarkEventProcessed("missing"), domain.ErrWebhookNotFound)
}

func TestWebhookRepositoryRetryLifecycle(t *testing.T) {
	repo := NewWebhookRepository()

	failed, err := repo.CreateFailed(domain.FailedWebhook{
		EventID:   "evt_3",
		EventType: "refund.processed",
		Payload:   []byte(`{}`),
		Error:     "order not found",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(domain.DefaultWebhookMaxRetries), failed.MaxRetries)

	retryable, err := repo.PullRetryable(10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)

	// После max_retries неудач запись выпадает из очереди и видна оператору.
	for i := int32(0); i < failed.MaxRetries; i++ {
		require.NoError(t, repo.RecordRetry(failed.ID, "still failing", time.Now().UTC()))
	}

	retryable, err = repo.PullRetryable(10)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	exhausted, err := repo.ListExhausted(10)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, failed.MaxRetries, exhausted[0].Retries)
	assert.Equal(t, "still failing", exhausted[0].Error)
}

func TestWebhookRepositoryMarkFailedProcessedRemovesFromQueue(t *testing.T) {
	repo := NewWebhookRepository()

	failed, err := repo.CreateFailed(domain.FailedWebhook{EventID: "evt_4", EventType: "payment.captured"})
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailedProcessed(failed.ID))

	retryable, err := repo.PullRetryable(10)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	stored, ok := repo.FailedByID(failed.ID)
	require.True(t, ok)
	assert.True(t, stored.Processed)
}

func TestWebhookRepositoryPullRetryableOldestFirst(t *testing.T) {
	repo := NewWebhookRepository()

	older, err := repo.CreateFailed(domain.FailedWebhook{
		EventID:   "evt_old",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)

	_, err = repo.CreateFailed(domain.FailedWebhook{EventID: "evt_new"})
	require.NoError(t, err)

	retryable, err := repo.PullRetryable(1)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, older.ID, retryable[0].ID)
}
