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

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

const paymentColumns = `
	id, order_id, gateway, method, gateway_order_id, gateway_payment_id,
	status, amount_minor, currency, signature_verified, created_at, updated_at
`

func (r *paymentRepository) Create(payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		payment.ID, payment.OrderID, payment.Gateway, string(payment.Method),
		payment.GatewayOrderID, payment.GatewayPaymentID, string(payment.Status),
		payment.AmountMinor, payment.Currency, payment.SignatureVerified,
		payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *paymentRepository) Get(id string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payment, err := scanPayment(r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}

	return payment, nil
}

func (r *paymentRepository) GetByGatewayPaymentID(gatewayPaymentID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if gatewayPaymentID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}

	payment, err := scanPayment(r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE gateway_payment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, gatewayPaymentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment by gateway id: %w", err)
	}

	return payment, nil
}

func (r *paymentRepository) ActiveByOrder(orderID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payment, err := scanPayment(r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		  AND status IN ('pending', 'paid')
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select active payment: %w", err)
	}

	return payment, nil
}

func (r *paymentRepository) Save(payment domain.Payment) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET gateway_payment_id = $1,
		    status = $2,
		    signature_verified = $3,
		    updated_at = $4
		WHERE id = $5
	`,
		payment.GatewayPaymentID, string(payment.Status),
		payment.SignatureVerified, time.Now().UTC(), payment.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}

	return nil
}

func (r *paymentRepository) CreateRefund(refund domain.Refund) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if refund.ID == "" {
		refund.ID = uuid.NewString()
	}
	if refund.CreatedAt.IsZero() {
		refund.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refunds (id, payment_id, gateway_refund_id, amount_minor, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`,
		refund.ID, refund.PaymentID, refund.GatewayRefundID,
		refund.AmountMinor, refund.Notes, refund.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}

	return nil
}

func scanPayment(row rowScanner) (domain.Payment, error) {
	var (
		payment domain.Payment
		method  string
		status  string
	)
	if err := row.Scan(
		&payment.ID, &payment.OrderID, &payment.Gateway, &method,
		&payment.GatewayOrderID, &payment.GatewayPaymentID, &status,
		&payment.AmountMinor, &payment.Currency, &payment.SignatureVerified,
		&payment.CreatedAt, &payment.UpdatedAt,
	); err != nil {
		return domain.Payment{}, err
	}
	payment.Method = domain.PaymentMethod(method)
	payment.Status = domain.PaymentStatus(status)
	return payment, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
