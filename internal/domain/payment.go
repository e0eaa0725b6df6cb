package domain

import "time"

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — локальная запись создана, подтверждение от шлюза не получено.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusPaid — оплата подтверждена подписью шлюза или webhook-событием.
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — шлюз отклонил платёж.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusRefunded — средства возвращены покупателю.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentMethod — способ оплаты заказа.
type PaymentMethod string

const (
	// PaymentMethodGateway — оплата через внешний платёжный шлюз.
	PaymentMethodGateway PaymentMethod = "gateway"
	// PaymentMethodCOD — оплата при получении; проверка подписи шлюза не выполняется.
	PaymentMethodCOD PaymentMethod = "cod"
)

// Valid проверяет способ оплаты.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodGateway || m == PaymentMethodCOD
}

// Payment описывает платёж, связанный с заказом.
// У заказа может быть не больше одного активного платежа, но несколько исторических попыток.
type Payment struct {
	ID      string
	OrderID string
	Gateway string
	Method  PaymentMethod
	// GatewayOrderID — идентификатор intent на стороне шлюза.
	GatewayOrderID string
	// GatewayPaymentID пустой до фактического подтверждения оплаты.
	GatewayPaymentID string
	Status           PaymentStatus
	AmountMinor      int64
	Currency         string
	// SignatureVerified фиксирует результат проверки подписи шлюза.
	SignatureVerified bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Active сообщает, считается ли платёж активным для своего заказа.
func (p *Payment) Active() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusPaid
}

// Validate проверяет корректность полей платежа.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.Gateway == "" && p.Method != PaymentMethodCOD {
		errs = append(errs, ErrGatewayRequired)
	}
	if p.AmountMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}
	if p.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if !p.Method.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}

	return errs
}

// Refund описывает возврат средств по платежу.
type Refund struct {
	ID              string
	PaymentID       string
	GatewayRefundID string
	AmountMinor     int64
	Notes           string
	CreatedAt       time.Time
}

// GatewayIntent — результат создания платёжного намерения на стороне шлюза.
type GatewayIntent struct {
	ID          string
	AmountMinor int64
	Currency    string
}

// GatewayRefundResult — результат вызова refund API шлюза.
type GatewayRefundResult struct {
	ID          string
	AmountMinor int64
}
