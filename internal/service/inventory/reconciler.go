package inventory

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
	"github.com/vladislavdragonenkov/shopcore/internal/health"
)

// Drift — расхождение между живым счётчиком и суммой движений книги.
type Drift struct {
	ProductID  string
	VariantID  string
	CounterQty int32
	LedgerQty  int64
}

func (d Drift) String() string {
	target := d.ProductID
	if d.VariantID != "" {
		target = d.ProductID + "/" + d.VariantID
	}
	return fmt.Sprintf("%s: counter=%d ledger=%d", target, d.CounterQty, d.LedgerQty)
}

// Reconciler сверяет живые счётчики остатков со складской книгой.
// Книга — источник истины: счётчик обязан равняться сумме знаковых движений.
// Расхождение означает запись мимо транзакции или ручную правку счётчика.
type Reconciler struct {
	stock  domain.StockRepository
	logger *log.Entry
}

// NewReconciler создаёт сверку остатков.
func NewReconciler(stock domain.StockRepository, logger *log.Entry) *Reconciler {
	if logger == nil {
		logger = log.WithField("component", "inventory-reconciler")
	}
	return &Reconciler{stock: stock, logger: logger}
}

// Reconcile пересчитывает суммы книги по всем товарам и вариантам
// и возвращает найденные расхождения.
func (r *Reconciler) Reconcile() ([]Drift, error) {
	levels, err := r.stock.Levels()
	if err != nil {
		return nil, fmt.Errorf("load stock levels: %w", err)
	}

	var drifts []Drift
	for _, level := range levels {
		ledger, err := r.stock.LedgerSum(level.ProductID, level.VariantID)
		if err != nil {
			return nil, fmt.Errorf("ledger sum for %s/%s: %w", level.ProductID, level.VariantID, err)
		}
		if ledger != int64(level.Quantity) {
			drifts = append(drifts, Drift{
				ProductID:  level.ProductID,
				VariantID:  level.VariantID,
				CounterQty: level.Quantity,
				LedgerQty:  ledger,
			})
		}
	}

	if len(drifts) > 0 {
		r.logger.WithField("drifts", len(drifts)).Error("stock ledger does not match live counters")
	}
	return drifts, nil
}

// Check реализует health.Checker поверх сверки.
// Недоступное хранилище — unhealthy; расхождение книги — degraded:
// сервис продолжает принимать трафик, но оператору нужен алерт.
func (r *Reconciler) Check() health.Check {
	start := time.Now()
	check := health.Check{
		Name:   "stock-ledger",
		Status: health.StatusHealthy,
	}

	drifts, err := r.Reconcile()
	check.DurationMs = time.Since(start).Milliseconds()

	switch {
	case err != nil:
		check.Status = health.StatusUnhealthy
		check.Message = err.Error()
	case len(drifts) > 0:
		check.Status = health.StatusDegraded
		check.Message = fmt.Sprintf("%d drift(s), first: %s", len(drifts), drifts[0])
	}
	return check
}

var _ health.Checker = (*Reconciler)(nil)
