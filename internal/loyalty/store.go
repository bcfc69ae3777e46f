package loyalty

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storefront-labs/checkout/internal/apperr"
)

// PGStore persists the point ledger. Transactional writes (Redeem, Credit)
// take the caller's pgx.Tx so they commit or roll back with the order work
// they belong to.
type PGStore struct{ db *pgxpool.Pool }

func NewPGStore(db *pgxpool.Pool) *PGStore { return &PGStore{db: db} }

// Balance returns the cached running balance from the user row.
func (s *PGStore) Balance(ctx context.Context, userID int64) (int, error) {
	var balance int
	err := s.db.QueryRow(ctx, `
		SELECT total_loyalty_points FROM users WHERE id=$1
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFoundf("user %d not found", userID)
		}
		return 0, err
	}
	return balance, nil
}

// DerivedBalance recomputes the balance from the ledger itself. Kept separate
// from Balance so a drifted cache can be detected.
func (s *PGStore) DerivedBalance(ctx context.Context, userID int64) (int, error) {
	var balance int
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN transaction_type = 'EARN' THEN points ELSE -points END), 0)
		FROM loyalty_points
		WHERE user_id = $1 AND transaction_type IN ('EARN','REDEEM')
	`, userID).Scan(&balance)
	return balance, err
}

func (s *PGStore) History(ctx context.Context, userID int64, page, limit int) ([]Transaction, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}
	var total int
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM loyalty_points WHERE user_id=$1
	`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, points, transaction_type, description, order_id, created_at
		FROM loyalty_points WHERE user_id=$1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Points, &t.Type, &t.Description, &t.OrderID, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// Redeem debits points from the user inside tx: verifies the cached balance
// under a row lock, appends the REDEEM transaction for the full point count
// and updates the cache. Rejects naming the available amount.
func (s *PGStore) Redeem(ctx context.Context, tx pgx.Tx, userID int64, points int, description string) error {
	if points <= 0 {
		return apperr.Validationf("points to redeem must be positive")
	}
	var available int
	err := tx.QueryRow(ctx, `
		SELECT total_loyalty_points FROM users WHERE id=$1 FOR UPDATE
	`, userID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFoundf("user %d not found", userID)
		}
		return err
	}
	if available < points {
		return apperr.Conflictf("you only have %d points, not enough to redeem %d", available, points)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO loyalty_points (user_id, points, transaction_type, description, created_at)
		VALUES ($1, $2, 'REDEEM', $3, NOW())
	`, userID, points, description); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE users SET total_loyalty_points = total_loyalty_points - $2 WHERE id = $1
	`, userID, points)
	return err
}

// Credit appends an EARN transaction tied to orderID and bumps the cached
// balance. Idempotent: the gateway may retry its callback, so an existing EARN
// row for the same order makes this a no-op. Returns whether points were
// actually granted.
func (s *PGStore) Credit(ctx context.Context, tx pgx.Tx, userID, orderID int64, points int, description string) (bool, error) {
	if points <= 0 {
		return false, nil
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO loyalty_points (user_id, points, transaction_type, description, order_id, created_at)
		SELECT $1, $2, 'EARN', $3, $4, NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM loyalty_points
			WHERE order_id = $4 AND transaction_type = 'EARN'
		)
	`, userID, points, description, orderID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil // already credited for this order
	}
	if _, err := tx.Exec(ctx, `
		UPDATE users SET total_loyalty_points = total_loyalty_points + $2 WHERE id = $1
	`, userID, points); err != nil {
		return false, fmt.Errorf("loyalty: failed to update cached balance: %w", err)
	}
	return true, nil
}

// Credited reports whether an EARN transaction for orderID already exists.
func (s *PGStore) Credited(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM loyalty_points WHERE order_id=$1 AND transaction_type='EARN'
		)
	`, orderID).Scan(&exists)
	return exists, err
}
