package domain

import "time"

// MovementType классифицирует записи складской книги.
type MovementType string

const (
	// MovementIn — поступление товара (закупка, восстановление резерва).
	MovementIn MovementType = "in"
	// MovementOut — списание под заказ.
	MovementOut MovementType = "out"
	// MovementAdjustment — ручная корректировка; количество несёт знак само.
	MovementAdjustment MovementType = "adjustment"
	// MovementReturn — возврат товара покупателем.
	MovementReturn MovementType = "return"
	// MovementTransfer — перемещение со склада; уменьшает остаток.
	MovementTransfer MovementType = "transfer"
)

// Valid проверяет тип движения.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjustment, MovementReturn, MovementTransfer:
		return true
	default:
		return false
	}
}

// Типы ссылок движения на породившую его операцию.
const (
	ReferenceOrder       = "order"
	ReferenceOrderCancel = "order-cancel"
	ReferenceAdmin       = "admin"
)

// StockMovement — запись append-only складской книги.
// Записи никогда не обновляются и не удаляются; живой счётчик остатка —
// лишь быстрый кэш, который обязан сходиться с суммой знаковых движений.
type StockMovement struct {
	ID        string
	ProductID string
	// VariantID пустой для движений по товару без вариантов.
	VariantID string
	Type      MovementType
	// Qty положительное для всех типов, кроме adjustment, где знак значим.
	Qty    int32
	Reason string
	// ReferenceID/ReferenceType связывают движение с заказом или действием оператора.
	ReferenceID   string
	ReferenceType string
	CreatedBy     string
	CreatedAt     time.Time
}

// SignedQty возвращает вклад движения в остаток.
func (m *StockMovement) SignedQty() int64 {
	switch m.Type {
	case MovementOut, MovementTransfer:
		return -int64(m.Qty)
	case MovementAdjustment:
		return int64(m.Qty)
	default:
		return int64(m.Qty)
	}
}

// Validate проверяет корректность записи перед добавлением в книгу.
func (m *StockMovement) Validate() []error {
	var errs []error

	if m.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if !m.Type.Valid() {
		errs = append(errs, ErrMovementTypeInvalid)
	}
	if m.Type == MovementAdjustment {
		if m.Qty == 0 {
			errs = append(errs, ErrMovementQtyInvalid)
		}
	} else if m.Qty <= 0 {
		errs = append(errs, ErrMovementQtyInvalid)
	}

	return errs
}

// StockLevel — текущее значение живого счётчика остатка.
type StockLevel struct {
	ProductID string
	VariantID string
	Quantity  int32
}
