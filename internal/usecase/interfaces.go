package usecase

import (
	"context"

	"github.com/azizikri/coupon-drop/internal/domain"
)

type CouponGateway interface {
	ClaimCoupon(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error)
	Inventory(ctx context.Context) (*domain.Stats, error)
}

var _ CouponGateway = (*CouponService)(nil)
