// Package voucher validates discount codes against an order value and computes
// the resulting discount. Applying a voucher never mutates it; a separate
// sweep retires expired codes.
package voucher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront-labs/checkout/internal/apperr"
)

// Compute returns the discount v grants for orderValue, or the reason it
// cannot be applied.
func Compute(v *Voucher, orderValue int64, now time.Time) (int64, error) {
	if v.Status != StatusActive {
		return 0, apperr.Validationf("voucher is not available or has expired")
	}
	if v.ExpiryDate.Before(now) {
		return 0, apperr.Validationf("voucher has expired")
	}
	if orderValue < v.MinOrderValue {
		return 0, apperr.Conflictf("order value has not reached the minimum of %d VND", v.MinOrderValue)
	}

	if v.Type == TypeFixed {
		return v.Value, nil
	}

	discount := decimal.NewFromInt(orderValue).
		Mul(decimal.NewFromInt(v.Value)).
		Div(decimal.NewFromInt(100)).
		Round(0).IntPart()
	if v.MaxDiscount != nil && discount > *v.MaxDiscount {
		discount = *v.MaxDiscount
	}
	return discount, nil
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Apply looks a voucher up by code and computes its discount for orderValue.
func (s *Service) Apply(ctx context.Context, code string, orderValue int64) (int64, *Voucher, error) {
	v, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return 0, nil, err
	}
	if v == nil {
		return 0, nil, apperr.Validationf("invalid voucher code")
	}
	discount, err := Compute(v, orderValue, s.now())
	if err != nil {
		return 0, nil, err
	}
	return discount, v, nil
}

// ExpireOutdated transitions every ACTIVE voucher past its expiry to EXPIRED.
func (s *Service) ExpireOutdated(ctx context.Context) (int64, error) {
	return s.repo.ExpireBefore(ctx, s.now())
}

func (s *Service) Create(ctx context.Context, v *Voucher) error {
	existing, err := s.repo.FindByCode(ctx, v.Code)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperr.Validationf("voucher with code %s already exists", v.Code)
	}
	if v.Status == "" {
		v.Status = StatusActive
	}
	return s.repo.Insert(ctx, v)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Voucher, int, error) {
	return s.repo.List(ctx, f)
}

// ValidForClient lists ACTIVE, unexpired vouchers ordered by their floor.
func (s *Service) ValidForClient(ctx context.Context) ([]Voucher, error) {
	return s.repo.FindValid(ctx, s.now())
}
