package kafka

import (
	"context"

	"github.com/azizikri/coupon-drop/internal/domain"
	"github.com/azizikri/coupon-drop/internal/usecase"
)

// DirectGateway calls the service in process when event-driven mode is off.
type DirectGateway struct {
	service *usecase.CouponService
}

func NewDirectGateway(service *usecase.CouponService) usecase.CouponGateway {
	return &DirectGateway{service: service}
}

func (g *DirectGateway) ClaimCoupon(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
	return g.service.ClaimCoupon(ctx, req)
}

func (g *DirectGateway) Inventory(ctx context.Context) (*domain.Stats, error) {
	return g.service.Inventory(ctx)
}
