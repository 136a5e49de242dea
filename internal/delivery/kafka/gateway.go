package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azizikri/coupon-drop/internal/config"
	"github.com/azizikri/coupon-drop/internal/domain"
	"github.com/azizikri/coupon-drop/internal/usecase"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Producer is the subset of *kgo.Client used to publish records.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Gateway forwards claims to the consumer group over Kafka and waits for the
// reply on this instance's reply topic.
type Gateway struct {
	producer    Producer
	cfg         *config.Config
	log         *zap.Logger
	timeout     time.Duration
	pendingResp sync.Map
}

func NewGateway(cfg *config.Config, producer Producer, log *zap.Logger) *Gateway {
	return &Gateway{
		producer: producer,
		cfg:      cfg,
		log:      log,
		timeout:  RequestTimeout,
	}
}

func (g *Gateway) ClaimCoupon(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
	payload := g.newRequest()
	payload.IP = req.IP
	payload.HasCookie = req.HasCookie

	resp, err := g.requestReply(ctx, TopicClaimRequest, []byte(req.IP), payload)
	if err != nil {
		return domain.Coupon{}, err
	}
	if resp.Status == StatusError {
		return domain.Coupon{}, mapError(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Coupon == nil {
		return domain.Coupon{}, errors.New("claim reply without coupon")
	}
	return *resp.Coupon, nil
}

func (g *Gateway) Inventory(ctx context.Context) (*domain.Stats, error) {
	resp, err := g.requestReply(ctx, TopicInventoryRequest, nil, g.newRequest())
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusError {
		return nil, mapError(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Stats == nil {
		return nil, errors.New("inventory reply without stats")
	}
	return resp.Stats, nil
}

func (g *Gateway) newRequest() RequestPayload {
	return RequestPayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: uuid.New().String(),
		ReplyTo:       ReplyTopic(g.cfg),
	}
}

func (g *Gateway) requestReply(ctx context.Context, topic string, key []byte, req RequestPayload) (*ResponsePayload, error) {
	respChan := make(chan *ResponsePayload, 1)
	g.pendingResp.Store(req.CorrelationID, respChan)
	defer g.pendingResp.Delete(req.CorrelationID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}

	if err := g.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return nil, fmt.Errorf("produce %s: %w", topic, err)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.New("timeout waiting for response")
	}
}

// HandleResponse delivers a reply record to the request waiting on its correlation id.
func (g *Gateway) HandleResponse(payload []byte) {
	var resp ResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		g.log.Warn("failed to decode response payload", zap.Error(err))
		return
	}

	if ch, ok := g.pendingResp.Load(resp.CorrelationID); ok {
		select {
		case ch.(chan *ResponsePayload) <- &resp:
		default:
		}
		return
	}

	g.log.Debug("no pending response", zap.String("correlation_id", resp.CorrelationID))
}

func mapError(code, message string) error {
	switch code {
	case ErrCodeRateLimited:
		return domain.ErrRateLimited
	case ErrCodeNoCoupons:
		return domain.ErrNoCoupons
	default:
		return errors.New(message)
	}
}

var _ usecase.CouponGateway = (*Gateway)(nil)
