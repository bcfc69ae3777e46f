// Package catalog exposes the inventory ledger: the stock counter on products
// and the two operations the order core is allowed to perform on it.
package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront-labs/checkout/internal/apperr"
)

var ErrNotFound = errors.New("product not found")

type PGLedger struct{ db *pgxpool.Pool }

func NewPGLedger(db *pgxpool.Pool) *PGLedger { return &PGLedger{db: db} }

func (l *PGLedger) GetByID(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := l.db.QueryRow(ctx, `
		SELECT id, name, unit_price, discount_pct, stock, created_at, updated_at
		FROM products WHERE id=$1
	`, id).Scan(&p.ID, &p.Name, &p.UnitPrice, &p.DiscountPct, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Reserve locks the product row, re-checks availability and decrements stock.
// Runs inside the caller's transaction so a failed checkout rolls the
// decrement back. Concurrent checkouts on the same product serialize on the
// row lock and cannot both succeed past available stock.
func (l *PGLedger) Reserve(ctx context.Context, tx pgx.Tx, productID int64, qty int) error {
	var name string
	var stock int
	err := tx.QueryRow(ctx, `
		SELECT name, stock FROM products WHERE id=$1 FOR UPDATE
	`, productID).Scan(&name, &stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFoundf("product %d not found", productID)
		}
		return err
	}
	if stock < qty {
		return apperr.Conflictf("product %q is out of stock: only %d left", name, stock)
	}
	_, err = tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = NOW() WHERE id = $1
	`, productID, qty)
	return err
}

// Restore adds qty back to the product stock. Used by cancellation paths.
func (l *PGLedger) Restore(ctx context.Context, tx pgx.Tx, productID int64, qty int) error {
	tag, err := tx.Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1
	`, productID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("product %d not found", productID)
	}
	return nil
}
