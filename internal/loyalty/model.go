package loyalty

import "time"

type TransactionType string

const (
	TxEarn    TransactionType = "EARN"
	TxRedeem  TransactionType = "REDEEM"
	TxExpired TransactionType = "EXPIRED"
)

// Transaction is one row of the append-only point ledger. The cached balance
// on the user row is an optimization; summing EARN-REDEEM over these rows is
// the source of truth.
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Points      int             `json:"points"` // always positive
	Type        TransactionType `json:"transaction_type"`
	Description string          `json:"description,omitempty"`
	OrderID     *int64          `json:"order_id,omitempty"` // set for order-tied EARN rows
	CreatedAt   time.Time       `json:"created_at"`
}
