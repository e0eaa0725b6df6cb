package inventory

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// AdjustInput — параметры ручной корректировки остатка.
type AdjustInput struct {
	ProductID string
	VariantID string
	// Qty несёт знак: положительное значение увеличивает остаток.
	Qty       int32
	Reason    string
	CreatedBy string
}

// Adjuster применяет ручные корректировки остатков через складскую книгу.
// Прямой правки счётчика нет: каждая корректировка — adjustment-движение,
// поэтому сверка книги со счётчиком продолжает сходиться.
type Adjuster struct {
	stock  domain.StockRepository
	logger *log.Entry
}

// NewAdjuster создаёт сервис корректировок.
func NewAdjuster(stock domain.StockRepository, logger *log.Entry) *Adjuster {
	if logger == nil {
		logger = log.WithField("component", "inventory-adjuster")
	}
	return &Adjuster{stock: stock, logger: logger}
}

// Adjust применяет корректировку и возвращает записанное движение.
func (a *Adjuster) Adjust(input AdjustInput) (domain.StockMovement, error) {
	movement := domain.StockMovement{
		ID:            uuid.NewString(),
		ProductID:     input.ProductID,
		VariantID:     input.VariantID,
		Type:          domain.MovementAdjustment,
		Qty:           input.Qty,
		Reason:        input.Reason,
		ReferenceType: domain.ReferenceAdmin,
		ReferenceID:   input.CreatedBy,
		CreatedBy:     input.CreatedBy,
		CreatedAt:     time.Now().UTC(),
	}
	if errs := movement.Validate(); len(errs) > 0 {
		return domain.StockMovement{}, errs[0]
	}

	if err := a.stock.ApplyMovements([]domain.StockMovement{movement}); err != nil {
		return domain.StockMovement{}, err
	}

	a.logger.WithFields(log.Fields{
		"product_id": input.ProductID,
		"variant_id": input.VariantID,
		"qty":        input.Qty,
	}).Info("stock adjusted")
	return movement, nil
}
