package kafka

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/azizikri/coupon-drop/internal/domain"
	"github.com/azizikri/coupon-drop/internal/usecase"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Consumer runs claim requests from the request topics against the service
// and publishes the result to the requester's reply topic.
type Consumer struct {
	client   *kgo.Client
	producer Producer
	service  usecase.CouponGateway
	log      *zap.Logger
}

func NewConsumer(client *kgo.Client, service usecase.CouponGateway, log *zap.Logger) *Consumer {
	return &Consumer{
		client:   client,
		producer: client,
		service:  service,
		log:      log,
	}
}

func (c *Consumer) Start(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.log.Warn("consumer poll error", zap.String("topic", topic), zap.Int32("partition", partition), zap.Error(err))
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			c.processRecord(ctx, iter.Next())
		}

		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.log.Error("failed to commit records", zap.Error(err))
		}
	}
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	var req RequestPayload
	if err := json.Unmarshal(record.Value, &req); err != nil || req.ReplyTo == "" || req.CorrelationID == "" {
		c.sendError(ctx, record, req, "invalid request payload")
		return
	}

	switch record.Topic {
	case TopicClaimRequest:
		c.handleClaim(ctx, req)
	case TopicInventoryRequest:
		c.handleInventory(ctx, req)
	default:
		c.log.Warn("record on unknown topic", zap.String("topic", record.Topic))
	}
}

func (c *Consumer) handleClaim(ctx context.Context, req RequestPayload) {
	if req.IP == "" {
		c.sendResponse(ctx, req.ReplyTo, errorResponse(req.CorrelationID, ErrCodeInvalidRequest, "missing ip"))
		return
	}

	coupon, err := c.service.ClaimCoupon(ctx, domain.ClaimRequest{IP: req.IP, HasCookie: req.HasCookie})
	var resp *ResponsePayload
	if err != nil {
		code, message := mapServiceError(err)
		if code == ErrCodeInternalError {
			c.log.Error("claim coupon", zap.String("ip", req.IP), zap.Error(err))
		}
		resp = errorResponse(req.CorrelationID, code, message)
	} else {
		resp = successResponse(req.CorrelationID)
		resp.Coupon = &coupon
	}

	c.sendResponse(ctx, req.ReplyTo, resp)
}

func (c *Consumer) handleInventory(ctx context.Context, req RequestPayload) {
	stats, err := c.service.Inventory(ctx)
	var resp *ResponsePayload
	if err != nil {
		code, message := mapServiceError(err)
		resp = errorResponse(req.CorrelationID, code, message)
	} else {
		resp = successResponse(req.CorrelationID)
		resp.Stats = stats
	}

	c.sendResponse(ctx, req.ReplyTo, resp)
}

func (c *Consumer) sendResponse(ctx context.Context, topic string, resp *ResponsePayload) {
	payload, err := json.Marshal(resp)
	if err != nil {
		c.log.Error("encode response", zap.Error(err))
		return
	}
	record := &kgo.Record{
		Topic: topic,
		Value: payload,
	}
	if err := c.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		c.log.Error("failed to send response", zap.String("topic", topic), zap.Error(err))
	}
}

// sendError replies when the requester is known and parks the record on the dead-letter topic.
func (c *Consumer) sendError(ctx context.Context, record *kgo.Record, req RequestPayload, message string) {
	if req.ReplyTo != "" {
		c.sendResponse(ctx, req.ReplyTo, errorResponse(req.CorrelationID, ErrCodeInvalidRequest, message))
	}

	dlqRecord := &kgo.Record{
		Topic: record.Topic + TopicDLQSuffix,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(message)},
		},
	}
	if err := c.producer.ProduceSync(ctx, dlqRecord).FirstErr(); err != nil {
		c.log.Error("failed to dead-letter record", zap.String("topic", dlqRecord.Topic), zap.Error(err))
	}
}

func successResponse(correlationID string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Status:        StatusSuccess,
	}
}

func errorResponse(correlationID, code, message string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Status:        StatusError,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
}

func mapServiceError(err error) (string, string) {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return ErrCodeRateLimited, err.Error()
	case errors.Is(err, domain.ErrNoCoupons):
		return ErrCodeNoCoupons, err.Error()
	default:
		return ErrCodeInternalError, "internal server error"
	}
}
