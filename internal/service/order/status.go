package order

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/messaging/kafka"
)

// saveRetries — число повторов при конфликте версий.
// Конкурирующие обновления одного заказа редки, длинный цикл не нужен.
const saveRetries = 3

// UpdateStatus переводит заказ в новый статус. Переход проверяется по таблице
// переходов; отмена дополнительно возвращает списанные остатки компенсирующими
// IN-движениями в одной транзакции с сохранением заказа.
func (s *service) UpdateStatus(orderID string, to domain.OrderStatus, reason string) (domain.Order, error) {
	if !to.Valid() {
		return domain.Order{}, &domain.InvalidTransitionError{To: to}
	}

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		order, err := s.orders.Get(orderID)
		if err != nil {
			return domain.Order{}, err
		}

		// Повторный запрос того же статуса — идемпотентный no-op.
		// Повторная отмена не породит второй волны restock-движений.
		if order.Status == to {
			return order, nil
		}

		if !order.Status.CanTransition(to) {
			return domain.Order{}, &domain.InvalidTransitionError{From: order.Status, To: to}
		}

		prev := order.Status
		order.Status = to
		order.UpdatedAt = time.Now().UTC()

		if to == domain.OrderStatusCancelled {
			err = s.store.Release(order, restockMovements(order))
		} else {
			err = s.orders.Save(order)
		}
		if err != nil {
			if domain.IsVersionConflict(err) {
				lastErr = err
				continue
			}
			return domain.Order{}, err
		}
		order.Version++

		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"from":     string(prev),
			"to":       string(to),
		}).Info("order status changed")

		s.appendTimeline(orderID, "order.status_changed", reason)

		eventType := kafka.EventTypeOrderStatusChanged
		if to == domain.OrderStatusCancelled {
			eventType = kafka.EventTypeOrderCancelled
		}
		s.enqueueOrderEvent(eventType, order, map[string]interface{}{
			"from":   string(prev),
			"reason": reason,
		})

		return order, nil
	}

	return domain.Order{}, lastErr
}

// SetPaymentState обновляет статус оплаты заказа с optimistic-retry.
// Статусная модель заказа здесь не трогается: переходы статусов идут
// только через UpdateStatus.
func (s *service) SetPaymentState(orderID string, state domain.PaymentState) (domain.Order, error) {
	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		order, err := s.orders.Get(orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if order.PaymentStatus == state {
			return order, nil
		}

		order.PaymentStatus = state
		order.UpdatedAt = time.Now().UTC()
		if err := s.orders.Save(order); err != nil {
			if domain.IsVersionConflict(err) {
				lastErr = err
				continue
			}
			return domain.Order{}, err
		}
		order.Version++

		s.appendTimeline(orderID, "order.payment_state", string(state))
		return order, nil
	}

	return domain.Order{}, lastErr
}

// RecordShipmentStatus фиксирует статус курьерской службы в timeline заказа.
// Статусная модель заказа не меняется: внешние статусы доставки информационные.
func (s *service) RecordShipmentStatus(orderID, status, reason string) error {
	if _, err := s.orders.Get(orderID); err != nil {
		return err
	}

	s.appendTimeline(orderID, "shipment."+status, reason)
	return nil
}

// restockMovements строит компенсирующие IN-движения по позициям заказа.
// Ссылка order-cancel отличает возврат резерва от исходного списания.
func restockMovements(order domain.Order) []domain.StockMovement {
	now := time.Now().UTC()
	movements := make([]domain.StockMovement, 0, len(order.Items))
	for _, item := range order.Items {
		movements = append(movements, domain.StockMovement{
			ProductID:     item.ProductID,
			VariantID:     item.VariantID,
			Type:          domain.MovementIn,
			Qty:           item.Qty,
			Reason:        "order cancelled",
			ReferenceType: domain.ReferenceOrderCancel,
			ReferenceID:   order.ID,
			CreatedAt:     now,
		})
	}
	return movements
}
