package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

// ApplyMovements применяет движения вне checkout-транзакции
// (ручные корректировки оператора) с теми же блокировками строк.
func (r *stockRepository) ApplyMovements(movements []domain.StockMovement) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin movements tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockAndApplyMovements(ctx, tx, movements); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit movements: %w", err)
	}

	return nil
}

// LedgerSum возвращает сумму знаковых движений по паре товар/вариант.
func (r *stockRepository) LedgerSum(productID, variantID string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	// Знак движения восстанавливается из типа: out и transfer уменьшают остаток,
	// adjustment несёт знак в самом количестве.
	var sum int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(
			CASE
				WHEN movement_type IN ('out', 'transfer') THEN -qty
				ELSE qty
			END
		), 0)
		FROM stock_movements
		WHERE product_id = $1
		  AND COALESCE(variant_id::TEXT, '') = $2
	`, productID, variantID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum stock ledger: %w", err)
	}

	return sum, nil
}

// MovementsByReference возвращает движения, порождённые конкретной операцией.
func (r *stockRepository) MovementsByReference(referenceType, referenceID string) ([]domain.StockMovement, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, COALESCE(variant_id::TEXT, ''), movement_type, qty,
		       reason, reference_id, reference_type, created_by, created_at
		FROM stock_movements
		WHERE reference_type = $1
		  AND reference_id = $2
		ORDER BY created_at ASC, id ASC
	`, referenceType, referenceID)
	if err != nil {
		return nil, fmt.Errorf("list movements by reference: %w", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0)
	for rows.Next() {
		var (
			m            domain.StockMovement
			movementType string
		)
		if err := rows.Scan(
			&m.ID, &m.ProductID, &m.VariantID, &movementType, &m.Qty,
			&m.Reason, &m.ReferenceID, &m.ReferenceType, &m.CreatedBy, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stock movement: %w", err)
		}
		m.Type = domain.MovementType(movementType)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock movements: %w", err)
	}

	return movements, nil
}

// Levels возвращает живые счётчики всех товаров и вариантов.
func (r *stockRepository) Levels() ([]domain.StockLevel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, variant_id, stock_quantity
		FROM (
			SELECT id::TEXT AS product_id, '' AS variant_id, stock_quantity FROM products
			UNION ALL
			SELECT product_id::TEXT, id::TEXT AS variant_id, stock_quantity FROM product_variants
		) levels
		ORDER BY product_id, variant_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list stock levels: %w", err)
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0)
	for rows.Next() {
		var level domain.StockLevel
		if err := rows.Scan(&level.ProductID, &level.VariantID, &level.Quantity); err != nil {
			return nil, fmt.Errorf("scan stock level: %w", err)
		}
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock levels: %w", err)
	}

	return levels, nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
