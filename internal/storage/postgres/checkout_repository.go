package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

type checkoutRepository struct {
	db *sql.DB
}

// NewCheckoutRepository создаёт PostgreSQL-реализацию CheckoutStore.
func NewCheckoutRepository(store *Store) domain.CheckoutStore {
	return &checkoutRepository{db: store.DB()}
}

// Checkout выполняет оформление заказа одной транзакцией: блокирует строки
// остатков, повторно проверяет достаточность, списывает количество, пишет
// OUT-движения, сохраняет заказ с позициями и очищает корзину покупателя.
func (r *checkoutRepository) Checkout(order domain.Order, movements []domain.StockMovement) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkout tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = lockAndApplyMovements(ctx, tx, movements); err != nil {
		return err
	}

	if err = insertOrder(ctx, tx, order); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, order.UserID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit checkout: %w", err)
	}

	return nil
}

// Release сохраняет отменённый заказ (с проверкой версии) и применяет
// компенсирующие IN-движения в той же транзакции.
func (r *checkoutRepository) Release(order domain.Order, movements []domain.StockMovement) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin release tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	res, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    notes = $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $5
		  AND version = $6
	`,
		string(order.Status), string(order.PaymentStatus), order.Notes,
		time.Now().UTC(), order.ID, order.Version,
	)
	if err != nil {
		return fmt.Errorf("update released order: %w", err)
	}

	var affected int64
	affected, err = res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		exists, err = orderExistsTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			err = domain.ErrOrderNotFound
			return err
		}
		err = domain.ErrOrderVersionConflict
		return err
	}

	if err = lockAndApplyMovements(ctx, tx, movements); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit release: %w", err)
	}

	return nil
}

// lockAndApplyMovements блокирует строки счётчиков (SELECT ... FOR UPDATE),
// проверяет, что суммарная дельта не уводит остаток в минус, обновляет
// счётчики и добавляет записи в складскую книгу.
func lockAndApplyMovements(ctx context.Context, tx *sql.Tx, movements []domain.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}

	// Дельты агрегируются по цели: несколько движений могут бить в один счётчик.
	type target struct {
		productID string
		variantID string
	}
	deltas := make(map[target]int64)
	for i := range movements {
		m := &movements[i]
		deltas[target{m.ProductID, m.VariantID}] += m.SignedQty()
	}

	// Блокировка в детерминированном порядке исключает deadlock
	// между параллельными checkout-транзакциями.
	targets := make([]target, 0, len(deltas))
	for tgt := range deltas {
		targets = append(targets, tgt)
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].productID != targets[j].productID {
			return targets[i].productID < targets[j].productID
		}
		return targets[i].variantID < targets[j].variantID
	})

	now := time.Now().UTC()
	for _, tgt := range targets {
		var (
			current int32
			err     error
		)
		if tgt.variantID != "" {
			err = tx.QueryRowContext(ctx, `
				SELECT stock_quantity FROM product_variants WHERE id = $1 FOR UPDATE
			`, tgt.variantID).Scan(&current)
		} else {
			err = tx.QueryRowContext(ctx, `
				SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE
			`, tgt.productID).Scan(&current)
		}
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrProductNotFound
			}
			return fmt.Errorf("lock stock row: %w", err)
		}

		delta := deltas[tgt]
		if int64(current)+delta < 0 {
			return &domain.InsufficientStockError{
				ProductID: tgt.productID,
				VariantID: tgt.variantID,
				Requested: int32(-delta),
				Available: current,
			}
		}

		if tgt.variantID != "" {
			_, err = tx.ExecContext(ctx, `
				UPDATE product_variants SET stock_quantity = stock_quantity + $1, updated_at = $2 WHERE id = $3
			`, delta, now, tgt.variantID)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = $2 WHERE id = $3
			`, delta, now, tgt.productID)
		}
		if err != nil {
			return fmt.Errorf("update stock counter: %w", err)
		}
	}

	for _, m := range movements {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_movements (
				id, product_id, variant_id, movement_type, qty, reason,
				reference_id, reference_type, created_by, created_at
			) VALUES ($1,$2,NULLIF($3,'')::uuid,$4,$5,$6,$7,$8,$9,$10)
		`,
			m.ID, m.ProductID, m.VariantID, string(m.Type), m.Qty, m.Reason,
			m.ReferenceID, m.ReferenceType, m.CreatedBy, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert stock movement: %w", err)
		}
	}

	return nil
}

func insertOrder(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, address_id, status, payment_status, payment_method,
			currency, amount_minor, notes, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		order.ID, order.UserID, order.AddressID, string(order.Status),
		string(order.PaymentStatus), string(order.PaymentMethod),
		order.Currency, order.AmountMinor, order.Notes, order.Version,
		order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, product_id, variant_id, qty, price_minor, created_at
			) VALUES ($1,$2,$3,NULLIF($4,'')::uuid,$5,$6,$7)
		`,
			item.ID, order.ID, item.ProductID, item.VariantID, item.Qty, item.PriceMinor, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

var _ domain.CheckoutStore = (*checkoutRepository)(nil)
