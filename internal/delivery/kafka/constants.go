package kafka

import "time"

const (
	TopicClaimRequest     = "coupon.claim.req"
	TopicInventoryRequest = "coupon.inventory.req"
	TopicReplyPrefix      = "coupon.reply."
	TopicDLQSuffix        = ".dlq"

	RequestTimeout = 3 * time.Second

	ErrorHeaderKey = "x-error"
	SchemaVersion  = 1
)

// RequestTopics are consumed by the claim worker.
var RequestTopics = []string{TopicClaimRequest, TopicInventoryRequest}
