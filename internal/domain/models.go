package domain

import "errors"

var (
	ErrRateLimited  = errors.New("claim window has not elapsed")
	ErrNoCoupons    = errors.New("no coupons available")
	ErrCorruptStore = errors.New("store document is corrupt")
)

// Messages returned to the browser.
const (
	MsgClaimed     = "🎉 Coupon claimed successfully! Your code: "
	MsgRateLimited = "❌ You can claim another coupon after 1 hour."
	MsgNoCoupons   = "⚠️ No coupons available"
)

type Coupon struct {
	Code string `json:"code"`
}

// Claim records that IP consumed one coupon. Timestamp is epoch milliseconds.
type Claim struct {
	IP        string `json:"ip"`
	Timestamp int64  `json:"timestamp"`
}

// Inventory is the whole persisted document: the coupon queue and the claim log.
type Inventory struct {
	Coupons []Coupon `json:"coupons"`
	Claims  []Claim  `json:"claims"`
}

// Empty returns the document used on a fresh install and when a corrupt store is masked.
func Empty() *Inventory {
	return &Inventory{Coupons: []Coupon{}, Claims: []Claim{}}
}

type ClaimRequest struct {
	IP        string
	HasCookie bool
}

type Stats struct {
	Remaining int `json:"remaining"`
	Claims    int `json:"claims"`
}
