package domain

import "time"

// TimelineEvent — запись в хронологии заказа. Хронология append-only:
// события не редактируются и не удаляются, порядок задаётся OccurredAt.
type TimelineEvent struct {
	OrderID    string
	EventType  string
	Reason     string
	OccurredAt time.Time
}

// NewTimelineEvent создаёт событие хронологии с текущей меткой времени.
func NewTimelineEvent(orderID, eventType, reason string) TimelineEvent {
	return TimelineEvent{
		OrderID:    orderID,
		EventType:  eventType,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}
