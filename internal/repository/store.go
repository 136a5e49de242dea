package repository

import (
	"context"

	"github.com/azizikri/coupon-drop/internal/domain"
)

// Store is the persistent inventory accessor. Every claim runs inside ExecTx so
// the read, check, dequeue and append steps are applied as one unit.
type Store interface {
	ExecTx(ctx context.Context, fn func(Querier) error) error
	// Seed initialises a fresh install with codes. An existing store is left as is.
	Seed(ctx context.Context, codes []string) error
	Snapshot(ctx context.Context) (*domain.Inventory, error)
}

type Querier interface {
	// ClaimsByIP returns the claims recorded for ip with a timestamp after since (epoch ms).
	ClaimsByIP(ctx context.Context, ip string, since int64) ([]domain.Claim, error)
	// DequeueCoupon removes the head of the queue. It returns domain.ErrNoCoupons when empty.
	DequeueCoupon(ctx context.Context) (domain.Coupon, error)
	InsertClaim(ctx context.Context, claim domain.Claim) error
}
