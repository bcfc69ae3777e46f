package order

import (
	"time"

	"github.com/storefront-labs/checkout/internal/apperr"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodCard         PaymentMethod = "CARD"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// Online reports whether the method settles through the payment gateway.
func (m PaymentMethod) Online() bool {
	return m == MethodCard || m == MethodBankTransfer
}

func (m PaymentMethod) Valid() bool {
	return m == MethodCash || m == MethodCard || m == MethodBankTransfer
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

// Payment is the settlement sub-record, created before the order so the order
// can reference it. Its status tracks the gateway independently of fulfillment.
type Payment struct {
	ID        int64         `json:"id"`
	Status    PaymentStatus `json:"payment_status"`
	Currency  string        `json:"currency"`
	Method    PaymentMethod `json:"payment_method"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// LineItem freezes quantity and unit price at checkout time; later catalog
// price changes never touch it.
type LineItem struct {
	ID          int64  `json:"id"`
	OrderID     int64  `json:"order_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

type Order struct {
	ID              int64         `json:"id"`
	CustomerID      int64         `json:"customer_id"`
	Total           int64         `json:"total"`    // after all discounts
	Discount        int64         `json:"discount"` // point-redemption discount
	Method          PaymentMethod `json:"payment_method"`
	Status          Status        `json:"status"`
	BillCode        int64         `json:"bill_code"` // time-derived, unique
	OrderCode       string        `json:"order_code"`
	ReceiverName    string        `json:"receiver_name"`
	ReceiverPhone   string        `json:"receiver_phone"`
	ShippingAddress string        `json:"shipping_address"`
	Note            string        `json:"note,omitempty"`
	Payment         *Payment      `json:"payment,omitempty"`
	Items           []LineItem    `json:"items,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// TransitionEffects is the set of side writes a fulfillment transition
// requires. The repository executes them inside one transaction.
type TransitionEffects struct {
	StatusChanged  bool
	RestoreStock   bool
	FailPayment    bool // PENDING -> FAILED
	SucceedPayment bool
	CreditPoints   bool // grant the earn credit; ledger dedup keeps it exactly-once
}

// PlanTransition decides what an administrative status write does, based on
// state re-read immediately before the decision. Legal moves are
// PENDING -> {COMPLETED | CANCELLED}; a repeated COMPLETED write backfills a
// missed point credit instead of re-crediting; a repeated CANCELLED write is a
// no-op.
func PlanTransition(o *Order, next Status) (TransitionEffects, error) {
	var fx TransitionEffects

	if next != StatusPending && next != StatusCompleted && next != StatusCancelled {
		return fx, apperr.Validationf("unknown order status %q", next)
	}

	if o.Status == next {
		if next == StatusCompleted && o.Payment != nil && o.Payment.Status == PaymentSuccess {
			// Orders completed before credits existed get a check-and-backfill.
			fx.CreditPoints = true
		}
		return fx, nil
	}

	if o.Status != StatusPending {
		return fx, apperr.Conflictf("cannot move order from %s to %s", o.Status, next)
	}

	switch next {
	case StatusCancelled:
		fx.StatusChanged = true
		fx.RestoreStock = true
		if o.Payment != nil && o.Payment.Status == PaymentPending {
			fx.FailPayment = true
		}
	case StatusCompleted:
		fx.StatusChanged = true
		if o.Method == MethodCash {
			fx.SucceedPayment = true
			fx.CreditPoints = true
		}
	default:
		return fx, apperr.Conflictf("cannot move order from %s to %s", o.Status, next)
	}
	return fx, nil
}

// CanCancel guards self-service cancellation: only the owner, only while the
// payment has not settled and the order is not already cancelled.
func CanCancel(o *Order, userID int64) error {
	if o.CustomerID != userID {
		return apperr.Forbiddenf("order %d does not belong to user %d", o.ID, userID)
	}
	if o.Payment != nil && o.Payment.Status == PaymentSuccess {
		return apperr.Conflictf("cannot cancel a paid order, please contact support")
	}
	if o.Status == StatusCancelled {
		return apperr.Conflictf("order has already been cancelled")
	}
	return nil
}
