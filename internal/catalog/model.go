package catalog

import "time"

// Product is an external aggregate from the order core's point of view: the
// only mutation allowed here is the stock counter, via the Ledger contract.
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	UnitPrice   int64     `json:"unit_price"` // VND
	DiscountPct int       `json:"discount_pct,omitempty"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
