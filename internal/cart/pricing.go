// Package cart holds the per-user pending cart and the read-only pricing view
// checkout consumes.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/storefront-labs/checkout/internal/apperr"
	"github.com/storefront-labs/checkout/internal/config"
)

type PricedItem struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"` // after product discount, frozen at checkout
	ItemTotal   int64  `json:"item_total"`
}

type PricedCart struct {
	Items     []PricedItem `json:"items"`
	Subtotal  int64        `json:"subtotal"`
	Tax       int64        `json:"tax"`
	Shipping  int64        `json:"shipping"`
	BaseTotal int64        `json:"total"` // before any voucher/point discount
}

// Price turns a cart snapshot into the checkout pricing view. Rejects an
// empty cart and any line whose quantity exceeds current stock, naming the
// offending product. unitPrice = basePrice x (1 - discountPct/100).
func Price(items []SnapshotItem, cfg config.Pricing) (*PricedCart, error) {
	if len(items) == 0 {
		return nil, apperr.Validationf("cart is empty")
	}

	priced := make([]PricedItem, 0, len(items))
	var subtotal int64
	for _, it := range items {
		if it.Quantity > it.Stock {
			return nil, apperr.Conflictf("product %q is out of stock: only %d left", it.ProductName, it.Stock)
		}
		unitPrice := decimal.NewFromInt(it.BasePrice).
			Mul(decimal.NewFromInt(int64(100 - it.DiscountPct))).
			Div(decimal.NewFromInt(100)).
			Round(0).IntPart()
		itemTotal := unitPrice * int64(it.Quantity)
		subtotal += itemTotal
		priced = append(priced, PricedItem{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   unitPrice,
			ItemTotal:   itemTotal,
		})
	}

	tax := decimal.NewFromInt(subtotal).Mul(cfg.VATRate).Round(0).IntPart()
	shipping := cfg.ShippingFee
	if cfg.FreeShipOver > 0 && subtotal > cfg.FreeShipOver {
		shipping = 0
	}

	return &PricedCart{
		Items:     priced,
		Subtotal:  subtotal,
		Tax:       tax,
		Shipping:  shipping,
		BaseTotal: subtotal + tax + shipping,
	}, nil
}
