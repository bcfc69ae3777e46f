package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront-labs/checkout/internal/apperr"
	"github.com/storefront-labs/checkout/internal/cart"
	"github.com/storefront-labs/checkout/internal/catalog"
	"github.com/storefront-labs/checkout/internal/loyalty"
)

var ErrNotFound = errors.New("order not found")

// CheckoutUnit is everything checkout persists in one atomic transaction:
// payment first, then the order referencing it, line items, the optional point
// redemption and the cart wipe. Stock is re-checked and decremented under row
// locks inside the same transaction.
type CheckoutUnit struct {
	Order        *Order
	Items        []LineItem
	CartID       int64
	RedeemPoints int
	RedeemDesc   string
}

// TransitionOutcome reports what an administrative status write actually did.
type TransitionOutcome struct {
	Order    *Order
	Effects  TransitionEffects
	Credited bool
}

type Repository interface {
	CreateCheckout(ctx context.Context, unit *CheckoutUnit) error
	GetByID(ctx context.Context, id int64) (*Order, error)
	GetByBillCode(ctx context.Context, billCode int64) (*Order, error)
	Settle(ctx context.Context, orderID int64, points int, desc string) (bool, error)
	CancelByOwner(ctx context.Context, orderID, userID int64) (*Order, error)
	Transition(ctx context.Context, orderID int64, next Status, points int, desc string) (*TransitionOutcome, error)
	List(ctx context.Context, q ListQuery) ([]Order, int64, error)
	FindByIDs(ctx context.Context, ids []int64) ([]Order, error)
	AllForSearch(ctx context.Context) ([]Order, error)
	CountByStatus(ctx context.Context, st Status) (int64, error)
	RevenueByStatus(ctx context.Context, st Status) (int64, error)
	ProfitByStatus(ctx context.Context, st Status) (int64, error)
}

type PGRepo struct {
	db     *pgxpool.Pool
	ledger *catalog.PGLedger
	points *loyalty.PGStore
	carts  *cart.PGRepo
}

func NewPGRepo(db *pgxpool.Pool, ledger *catalog.PGLedger, points *loyalty.PGStore, carts *cart.PGRepo) *PGRepo {
	return &PGRepo{db: db, ledger: ledger, points: points, carts: carts}
}

func (r *PGRepo) CreateCheckout(ctx context.Context, unit *CheckoutUnit) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o := unit.Order

	// Re-check and decrement stock under row locks; all-or-nothing.
	for _, it := range unit.Items {
		if err := r.ledger.Reserve(ctx, tx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}

	p := o.Payment
	if err := tx.QueryRow(ctx, `
		INSERT INTO payments (payment_status, currency, payment_method, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, p.Status, p.Currency, p.Method).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("order: failed to insert payment: %w", err)
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO orders (customer_id, payment_id, total, discount, payment_method, status,
		                    bill_code, order_code, receiver_name, receiver_phone, shipping_address, note,
		                    created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW(),NOW())
		RETURNING id, created_at, updated_at
	`, o.CustomerID, p.ID, o.Total, o.Discount, o.Method, o.Status,
		o.BillCode, o.OrderCode, o.ReceiverName, o.ReceiverPhone, o.ShippingAddress, o.Note).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return fmt.Errorf("order: failed to insert order: %w", err)
	}

	for i := range unit.Items {
		it := &unit.Items[i]
		it.OrderID = o.ID
		if err := tx.QueryRow(ctx, `
			INSERT INTO line_items (order_id, product_id, quantity, unit_price)
			VALUES ($1,$2,$3,$4)
			RETURNING id
		`, it.OrderID, it.ProductID, it.Quantity, it.UnitPrice).Scan(&it.ID); err != nil {
			return fmt.Errorf("order: failed to insert line item for order %d: %w", o.ID, err)
		}
	}

	if unit.RedeemPoints > 0 {
		if err := r.points.Redeem(ctx, tx, o.CustomerID, unit.RedeemPoints, unit.RedeemDesc); err != nil {
			return err
		}
	}

	if unit.CartID != 0 {
		if err := r.carts.ClearTx(ctx, tx, unit.CartID); err != nil {
			return fmt.Errorf("order: failed to clear cart %d: %w", unit.CartID, err)
		}
	}

	return tx.Commit(ctx)
}

const orderCols = `o.id, o.customer_id, o.total, o.discount, o.payment_method, o.status,
	o.bill_code, o.order_code, o.receiver_name, o.receiver_phone, o.shipping_address, o.note,
	o.created_at, o.updated_at,
	p.id, p.payment_status, p.currency, p.payment_method, p.created_at, p.updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var p Payment
	err := row.Scan(&o.ID, &o.CustomerID, &o.Total, &o.Discount, &o.Method, &o.Status,
		&o.BillCode, &o.OrderCode, &o.ReceiverName, &o.ReceiverPhone, &o.ShippingAddress, &o.Note,
		&o.CreatedAt, &o.UpdatedAt,
		&p.ID, &p.Status, &p.Currency, &p.Method, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Payment = &p
	return &o, nil
}

func (r *PGRepo) getBy(ctx context.Context, where string, arg any) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `
		SELECT `+orderCols+`
		FROM orders o JOIN payments p ON p.id = o.payment_id
		WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Wrap(apperr.NotFound, "order not found", ErrNotFound)
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT li.id, li.order_id, li.product_id, pr.name, li.quantity, li.unit_price
		FROM line_items li JOIN products pr ON pr.id = li.product_id
		WHERE li.order_id = $1
		ORDER BY li.id
	`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it LineItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *PGRepo) GetByID(ctx context.Context, id int64) (*Order, error) {
	return r.getBy(ctx, `o.id = $1`, id)
}

func (r *PGRepo) GetByBillCode(ctx context.Context, billCode int64) (*Order, error) {
	return r.getBy(ctx, `o.bill_code = $1`, billCode)
}

// Settle marks the payment SUCCESS and credits points for the order, both
// idempotent, in one transaction. Safe under at-least-once callback delivery:
// a second settle re-writes SUCCESS harmlessly and the ledger dedup refuses a
// second credit.
func (r *PGRepo) Settle(ctx context.Context, orderID int64, points int, desc string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var customerID, paymentID int64
	err = tx.QueryRow(ctx, `
		SELECT o.customer_id, o.payment_id
		FROM orders o WHERE o.id = $1 FOR UPDATE
	`, orderID).Scan(&customerID, &paymentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperr.Wrap(apperr.NotFound, "order not found", ErrNotFound)
		}
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE payments SET payment_status = 'SUCCESS', updated_at = NOW() WHERE id = $1
	`, paymentID); err != nil {
		return false, err
	}

	credited, err := r.points.Credit(ctx, tx, customerID, orderID, points, desc)
	if err != nil {
		return false, err
	}
	return credited, tx.Commit(ctx)
}

// CancelByOwner re-reads the latest state under a row lock before deciding
// eligibility, so a racing payment callback cannot be cancelled over.
func (r *PGRepo) CancelByOwner(ctx context.Context, orderID, userID int64) (*Order, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := r.lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := CanCancel(o, userID); err != nil {
		return nil, err
	}
	if err := r.cancelLocked(ctx, tx, o); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, orderID)
}

// Transition applies an administrative status write. State is re-read inside
// the transaction immediately before the decision.
func (r *PGRepo) Transition(ctx context.Context, orderID int64, next Status, points int, desc string) (*TransitionOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := r.lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	fx, err := PlanTransition(o, next)
	if err != nil {
		return nil, err
	}

	if fx.RestoreStock {
		if err := r.restoreStockLocked(ctx, tx, o.ID); err != nil {
			return nil, err
		}
	}
	if fx.FailPayment {
		if _, err := tx.Exec(ctx, `
			UPDATE payments SET payment_status = 'FAILED', updated_at = NOW()
			WHERE id = $1 AND payment_status = 'PENDING'
		`, o.Payment.ID); err != nil {
			return nil, err
		}
	}
	if fx.SucceedPayment {
		if _, err := tx.Exec(ctx, `
			UPDATE payments SET payment_status = 'SUCCESS', updated_at = NOW() WHERE id = $1
		`, o.Payment.ID); err != nil {
			return nil, err
		}
	}
	if fx.StatusChanged {
		if _, err := tx.Exec(ctx, `
			UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1
		`, o.ID, next); err != nil {
			return nil, err
		}
	}

	credited := false
	if fx.CreditPoints && points > 0 {
		credited, err = r.points.Credit(ctx, tx, o.CustomerID, o.ID, points, desc)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	updated, err := r.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &TransitionOutcome{Order: updated, Effects: fx, Credited: credited}, nil
}

func (r *PGRepo) lockOrder(ctx context.Context, tx pgx.Tx, orderID int64) (*Order, error) {
	var o Order
	var p Payment
	err := tx.QueryRow(ctx, `
		SELECT o.id, o.customer_id, o.total, o.discount, o.payment_method, o.status, o.bill_code, o.payment_id
		FROM orders o WHERE o.id = $1 FOR UPDATE
	`, orderID).Scan(&o.ID, &o.CustomerID, &o.Total, &o.Discount, &o.Method, &o.Status, &o.BillCode, &p.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Wrap(apperr.NotFound, "order not found", ErrNotFound)
		}
		return nil, err
	}
	if err := tx.QueryRow(ctx, `
		SELECT payment_status, currency, payment_method FROM payments WHERE id = $1 FOR UPDATE
	`, p.ID).Scan(&p.Status, &p.Currency, &p.Method); err != nil {
		return nil, err
	}
	o.Payment = &p
	return &o, nil
}

func (r *PGRepo) cancelLocked(ctx context.Context, tx pgx.Tx, o *Order) error {
	if err := r.restoreStockLocked(ctx, tx, o.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'CANCELLED', updated_at = NOW() WHERE id = $1
	`, o.ID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE payments SET payment_status = 'FAILED', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'PENDING'
	`, o.Payment.ID)
	return err
}

func (r *PGRepo) restoreStockLocked(ctx context.Context, tx pgx.Tx, orderID int64) error {
	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity FROM line_items WHERE order_id = $1
	`, orderID)
	if err != nil {
		return err
	}
	type line struct {
		productID int64
		qty       int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.qty); err != nil {
			rows.Close()
			return err
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, l := range lines {
		if err := r.ledger.Restore(ctx, tx, l.productID, l.qty); err != nil {
			return err
		}
	}
	return nil
}

// List is the primary-store fallback: paginated substring filtering over
// receiver fields and codes.
func (r *PGRepo) List(ctx context.Context, q ListQuery) ([]Order, int64, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	page := q.Page
	if page < 1 {
		page = 1
	}

	const where = `
		WHERE ($1 = '' OR o.status = $1)
		  AND ($2::bigint IS NULL OR o.customer_id = $2)
		  AND ($3 = '' OR o.receiver_name ILIKE '%'||$3||'%'
		       OR o.receiver_phone ILIKE '%'||$3||'%'
		       OR o.shipping_address ILIKE '%'||$3||'%'
		       OR o.bill_code::text ILIKE '%'||$3||'%'
		       OR o.order_code ILIKE '%'||$3||'%')`

	var total int64
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders o`+where, string(q.Status), q.CustomerID, q.Search).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+orderCols+`
		FROM orders o JOIN payments p ON p.id = o.payment_id`+where+`
		ORDER BY o.created_at DESC LIMIT $4 OFFSET $5
	`, string(q.Status), q.CustomerID, q.Search, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	// Hydrated with item names: list results feed the search index.
	if err := r.attachItemNames(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// FindByIDs hydrates orders for search hits, preserving the given order.
func (r *PGRepo) FindByIDs(ctx context.Context, ids []int64) ([]Order, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+orderCols+`
		FROM orders o JOIN payments p ON p.id = o.payment_id
		WHERE o.id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Order, len(found))
	for _, o := range found {
		byID[o.ID] = o
	}
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := byID[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *PGRepo) AllForSearch(ctx context.Context) ([]Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderCols+`
		FROM orders o JOIN payments p ON p.id = o.payment_id
		ORDER BY o.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	return orders, r.attachItemNames(ctx, orders)
}

// attachItemNames fills Items with product names for search documents.
func (r *PGRepo) attachItemNames(ctx context.Context, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	idx := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		idx[o.ID] = i
	}
	rows, err := r.db.Query(ctx, `
		SELECT li.order_id, li.id, li.product_id, pr.name, li.quantity, li.unit_price
		FROM line_items li JOIN products pr ON pr.id = li.product_id
		WHERE li.order_id = ANY($1)
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var orderID int64
		var it LineItem
		if err := rows.Scan(&orderID, &it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice); err != nil {
			return err
		}
		it.OrderID = orderID
		i := idx[orderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return rows.Err()
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *PGRepo) CountByStatus(ctx context.Context, st Status) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE status=$1`, st).Scan(&n)
	return n, err
}

func (r *PGRepo) RevenueByStatus(ctx context.Context, st Status) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(total), 0) FROM orders WHERE status=$1
	`, st).Scan(&n)
	return n, err
}

// ProfitByStatus derives margin from line items and product cost, independent
// of the loyalty math on order totals.
func (r *PGRepo) ProfitByStatus(ctx context.Context, st Status) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM((li.unit_price - pr.original_price) * li.quantity), 0)
		FROM line_items li
		JOIN products pr ON pr.id = li.product_id
		JOIN orders o ON o.id = li.order_id
		WHERE o.status = $1
	`, st).Scan(&n)
	return n, err
}
