package voucher

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront-labs/checkout/internal/apperr"
)

type Filter struct {
	Status Status
	Type   Type
	UserID *int64
	Page   int
	Limit  int
}

type Repository interface {
	FindByCode(ctx context.Context, code string) (*Voucher, error)
	Insert(ctx context.Context, v *Voucher) error
	List(ctx context.Context, f Filter) ([]Voucher, int, error)
	FindValid(ctx context.Context, now time.Time) ([]Voucher, error)
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const voucherCols = `id, code, type, value, max_discount, min_order_value, status, expiry_date, description, user_id, created_at`

func scanVoucher(row pgx.Row) (*Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.Code, &v.Type, &v.Value, &v.MaxDiscount, &v.MinOrderValue,
		&v.Status, &v.ExpiryDate, &v.Description, &v.UserID, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// FindByCode returns nil without error when the code is unknown; the engine
// turns that into a validation error.
func (r *PGRepo) FindByCode(ctx context.Context, code string) (*Voucher, error) {
	v, err := scanVoucher(r.db.QueryRow(ctx, `
		SELECT `+voucherCols+` FROM vouchers WHERE code=$1
	`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

// Insert relies on the unique constraint on code for the race two concurrent
// creates can win: the loser gets the same validation error the engine's
// pre-check produces.
func (r *PGRepo) Insert(ctx context.Context, v *Voucher) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO vouchers (code, type, value, max_discount, min_order_value, status, expiry_date, description, user_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		RETURNING id, created_at
	`, v.Code, v.Type, v.Value, v.MaxDiscount, v.MinOrderValue, v.Status, v.ExpiryDate, v.Description, v.UserID).
		Scan(&v.ID, &v.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Validationf("voucher with code %s already exists", v.Code)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PGRepo) List(ctx context.Context, f Filter) ([]Voucher, int, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	page := f.Page
	if page < 1 {
		page = 1
	}

	var total int
	if err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM vouchers
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR type = $2)
		  AND ($3::bigint IS NULL OR user_id = $3)
	`, string(f.Status), string(f.Type), f.UserID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+voucherCols+` FROM vouchers
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR type = $2)
		  AND ($3::bigint IS NULL OR user_id = $3)
		ORDER BY created_at DESC LIMIT $4 OFFSET $5
	`, string(f.Status), string(f.Type), f.UserID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *v)
	}
	return out, total, rows.Err()
}

func (r *PGRepo) FindValid(ctx context.Context, now time.Time) ([]Voucher, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+voucherCols+` FROM vouchers
		WHERE status = 'ACTIVE' AND expiry_date > $1
		ORDER BY min_order_value ASC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (r *PGRepo) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE vouchers SET status = 'EXPIRED'
		WHERE status = 'ACTIVE' AND expiry_date < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
