package usecase

import (
	"context"
	"time"

	"github.com/azizikri/coupon-drop/internal/domain"
	"github.com/azizikri/coupon-drop/internal/repository"
)

type CouponService struct {
	store  repository.Store
	window time.Duration
	now    func() time.Time
}

func NewCouponService(store repository.Store, window time.Duration) *CouponService {
	return &CouponService{
		store:  store,
		window: window,
		now:    time.Now,
	}
}

func (s *CouponService) Window() time.Duration {
	return s.window
}

// ClaimCoupon hands the next coupon in the queue to req.IP and records the claim.
// It returns domain.ErrRateLimited or domain.ErrNoCoupons without mutating the store.
func (s *CouponService) ClaimCoupon(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
	var coupon domain.Coupon
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		now := s.now()
		since := now.Add(-s.window).UnixMilli()

		claims, err := q.ClaimsByIP(ctx, req.IP, since)
		if err != nil {
			return err
		}
		if err := CheckEligibility(claims, req.IP, req.HasCookie, now, s.window); err != nil {
			return err
		}

		coupon, err = q.DequeueCoupon(ctx)
		if err != nil {
			return err
		}

		return q.InsertClaim(ctx, domain.Claim{IP: req.IP, Timestamp: now.UnixMilli()})
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	return coupon, nil
}

func (s *CouponService) Inventory(ctx context.Context) (*domain.Stats, error) {
	inv, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.Stats{
		Remaining: len(inv.Coupons),
		Claims:    len(inv.Claims),
	}, nil
}
