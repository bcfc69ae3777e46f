package cart

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront-labs/checkout/internal/apperr"
)

type Repository interface {
	FindOrCreate(ctx context.Context, userID int64) (*Cart, error)
	Snapshot(ctx context.Context, userID int64) (int64, []SnapshotItem, error)
	AddItem(ctx context.Context, cartID, productID int64, qty int) error
	UpdateItemQty(ctx context.Context, userID, itemID int64, qty int) error
	RemoveItem(ctx context.Context, userID, itemID int64) error
	Clear(ctx context.Context, cartID int64) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) FindOrCreate(ctx context.Context, userID int64) (*Cart, error) {
	var c Cart
	err := r.db.QueryRow(ctx, `
		INSERT INTO carts (user_id, created_at) VALUES ($1, NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, created_at
	`, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Snapshot joins the user's cart lines with live product data. An empty slice
// (not an error) for an empty or missing cart; pricing rejects it later.
func (r *PGRepo) Snapshot(ctx context.Context, userID int64) (int64, []SnapshotItem, error) {
	var cartID int64
	err := r.db.QueryRow(ctx, `SELECT id FROM carts WHERE user_id=$1`, userID).Scan(&cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, nil
		}
		return 0, nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT ci.id, ci.product_id, p.name, ci.quantity, p.unit_price, p.discount_pct, p.stock
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id
	`, cartID)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var items []SnapshotItem
	for rows.Next() {
		var it SnapshotItem
		if err := rows.Scan(&it.ItemID, &it.ProductID, &it.ProductName, &it.Quantity, &it.BasePrice, &it.DiscountPct, &it.Stock); err != nil {
			return 0, nil, err
		}
		items = append(items, it)
	}
	return cartID, items, rows.Err()
}

// AddItem inserts a cart line or bumps the quantity of an existing one; the
// (cart, product) pairing stays unique.
func (r *PGRepo) AddItem(ctx context.Context, cartID, productID int64, qty int) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
	`, cartID, productID, qty)
	return err
}

func (r *PGRepo) UpdateItemQty(ctx context.Context, userID, itemID int64, qty int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE cart_items ci SET quantity = $3
		FROM carts c
		WHERE ci.id = $2 AND ci.cart_id = c.id AND c.user_id = $1
	`, userID, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("cart item %d not found", itemID)
	}
	return nil
}

func (r *PGRepo) RemoveItem(ctx context.Context, userID, itemID int64) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM cart_items ci
		USING carts c
		WHERE ci.id = $2 AND ci.cart_id = c.id AND c.user_id = $1
	`, userID, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFoundf("cart item %d not found", itemID)
	}
	return nil
}

func (r *PGRepo) Clear(ctx context.Context, cartID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID)
	return err
}

// ClearTx clears the cart inside the checkout transaction so the cart empties
// atomically with order creation.
func (r *PGRepo) ClearTx(ctx context.Context, tx pgx.Tx, cartID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id=$1`, cartID)
	return err
}
