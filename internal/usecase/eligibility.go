package usecase

import (
	"time"

	"github.com/azizikri/coupon-drop/internal/domain"
)

// CheckEligibility denies a claim when ip has a claim newer than window or the
// requester still carries the claim cookie. Only the cookie's presence counts;
// its lifetime is enforced by the browser through Max-Age.
func CheckEligibility(claims []domain.Claim, ip string, hasCookie bool, now time.Time, window time.Duration) error {
	if hasCookie {
		return domain.ErrRateLimited
	}

	cutoff := now.Add(-window).UnixMilli()
	for _, c := range claims {
		if c.IP == ip && c.Timestamp > cutoff {
			return domain.ErrRateLimited
		}
	}
	return nil
}
