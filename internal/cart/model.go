package cart

import "time"

type Cart struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Item struct {
	ID        int64 `json:"id"`
	CartID    int64 `json:"cart_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// SnapshotItem is one cart line joined with the live product data the pricing
// code needs. Prices here are still the catalog's; freezing happens at
// checkout.
type SnapshotItem struct {
	ItemID      int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	BasePrice   int64  `json:"base_price"`
	DiscountPct int    `json:"discount_pct"`
	Stock       int    `json:"stock"`
}
