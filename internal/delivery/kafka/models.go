package kafka

import "github.com/azizikri/coupon-drop/internal/domain"

const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

const (
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeNoCoupons      = "NO_COUPONS"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

type RequestPayload struct {
	SchemaVersion int    `json:"schema_version"`
	CorrelationID string `json:"correlation_id"`
	ReplyTo       string `json:"reply_to"`
	IP            string `json:"ip,omitempty"`
	HasCookie     bool   `json:"has_cookie,omitempty"`
}

type ResponsePayload struct {
	SchemaVersion int            `json:"schema_version"`
	CorrelationID string         `json:"correlation_id"`
	Status        string         `json:"status"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Coupon        *domain.Coupon `json:"coupon,omitempty"`
	Stats         *domain.Stats  `json:"stats,omitempty"`
}
