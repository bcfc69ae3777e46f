package voucher

import "time"

type Type string

const (
	TypePercentage Type = "PERCENTAGE"
	TypeFixed      Type = "FIXED"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusUsed    Status = "USED"
	StatusExpired Status = "EXPIRED"
)

type Voucher struct {
	ID            int64     `json:"id"`
	Code          string    `json:"code"`
	Type          Type      `json:"type"`
	Value         int64     `json:"value"` // VND for FIXED, percent for PERCENTAGE
	MaxDiscount   *int64    `json:"max_discount,omitempty"`
	MinOrderValue int64     `json:"min_order_value"`
	Status        Status    `json:"status"`
	ExpiryDate    time.Time `json:"expiry_date"`
	Description   string    `json:"description,omitempty"`
	UserID        *int64    `json:"user_id,omitempty"` // nil = public voucher
	CreatedAt     time.Time `json:"created_at"`
}
