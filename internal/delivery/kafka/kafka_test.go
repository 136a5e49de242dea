package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/azizikri/coupon-drop/internal/config"
	"github.com/azizikri/coupon-drop/internal/domain"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
	onSend  func(*kgo.Record)
}

func (p *fakeProducer) ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.mu.Lock()
	p.records = append(p.records, rs...)
	p.mu.Unlock()

	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
		if p.err == nil && p.onSend != nil {
			p.onSend(r)
		}
	}
	return results
}

func (p *fakeProducer) sent() []*kgo.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*kgo.Record(nil), p.records...)
}

type stubService struct {
	claimFn     func(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error)
	inventoryFn func(ctx context.Context) (*domain.Stats, error)
}

func (s *stubService) ClaimCoupon(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
	return s.claimFn(ctx, req)
}

func (s *stubService) Inventory(ctx context.Context) (*domain.Stats, error) {
	return s.inventoryFn(ctx)
}

func newTestConsumer(service *stubService, producer *fakeProducer) *Consumer {
	return &Consumer{
		producer: producer,
		service:  service,
		log:      zap.NewNop(),
	}
}

func decodeResponse(t *testing.T, r *kgo.Record) ResponsePayload {
	t.Helper()
	var resp ResponsePayload
	if err := json.Unmarshal(r.Value, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func claimRecord(t *testing.T, req RequestPayload) *kgo.Record {
	t.Helper()
	value, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	return &kgo.Record{Topic: TopicClaimRequest, Value: value}
}

func TestConsumer_ClaimSuccess(t *testing.T) {
	producer := &fakeProducer{}
	service := &stubService{
		claimFn: func(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
			if req.IP != "1.2.3.4" || !req.HasCookie {
				t.Errorf("unexpected request %+v", req)
			}
			return domain.Coupon{Code: "COUPON1"}, nil
		},
	}

	c := newTestConsumer(service, producer)
	c.processRecord(context.Background(), claimRecord(t, RequestPayload{
		SchemaVersion: SchemaVersion, CorrelationID: "abc", ReplyTo: "coupon.reply.a",
		IP: "1.2.3.4", HasCookie: true,
	}))

	sent := producer.sent()
	if len(sent) != 1 || sent[0].Topic != "coupon.reply.a" {
		t.Fatalf("expected one reply, got %+v", sent)
	}
	resp := decodeResponse(t, sent[0])
	if resp.Status != StatusSuccess || resp.CorrelationID != "abc" || resp.Coupon == nil || resp.Coupon.Code != "COUPON1" {
		t.Fatalf("unexpected reply %+v", resp)
	}
}

func TestConsumer_ClaimErrors(t *testing.T) {
	tests := []struct {
		err      error
		wantCode string
	}{
		{domain.ErrRateLimited, ErrCodeRateLimited},
		{domain.ErrNoCoupons, ErrCodeNoCoupons},
		{errors.New("disk full"), ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			producer := &fakeProducer{}
			service := &stubService{
				claimFn: func(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
					return domain.Coupon{}, tt.err
				},
			}

			newTestConsumer(service, producer).processRecord(context.Background(), claimRecord(t, RequestPayload{
				CorrelationID: "c1", ReplyTo: "coupon.reply.a", IP: "1.2.3.4",
			}))

			resp := decodeResponse(t, producer.sent()[0])
			if resp.Status != StatusError || resp.ErrorCode != tt.wantCode {
				t.Fatalf("expected %s, got %s (%s)", tt.wantCode, resp.Status, resp.ErrorCode)
			}
		})
	}
}

func TestConsumer_InvalidPayloadDeadLettered(t *testing.T) {
	producer := &fakeProducer{}
	c := newTestConsumer(&stubService{}, producer)

	c.processRecord(context.Background(), &kgo.Record{Topic: TopicClaimRequest, Value: []byte("{oops")})

	sent := producer.sent()
	if len(sent) != 1 {
		t.Fatalf("expected only a dead-letter record, got %d records", len(sent))
	}
	if sent[0].Topic != TopicClaimRequest+TopicDLQSuffix {
		t.Fatalf("expected dlq topic, got %s", sent[0].Topic)
	}
	if len(sent[0].Headers) != 1 || sent[0].Headers[0].Key != ErrorHeaderKey {
		t.Fatalf("expected error header, got %+v", sent[0].Headers)
	}
}

func TestConsumer_Inventory(t *testing.T) {
	producer := &fakeProducer{}
	service := &stubService{
		inventoryFn: func(ctx context.Context) (*domain.Stats, error) {
			return &domain.Stats{Remaining: 2, Claims: 1}, nil
		},
	}
	value, _ := json.Marshal(RequestPayload{CorrelationID: "inv", ReplyTo: "coupon.reply.a"})

	newTestConsumer(service, producer).processRecord(context.Background(), &kgo.Record{Topic: TopicInventoryRequest, Value: value})

	resp := decodeResponse(t, producer.sent()[0])
	if resp.Status != StatusSuccess || resp.Stats == nil || resp.Stats.Remaining != 2 {
		t.Fatalf("unexpected reply %+v", resp)
	}
}

func newTestGateway(producer *fakeProducer) *Gateway {
	g := NewGateway(&config.Config{KafkaInstanceID: "test-instance"}, producer, zap.NewNop())
	g.timeout = 200 * time.Millisecond
	return g
}

func TestGateway_ClaimRoundTrip(t *testing.T) {
	producer := &fakeProducer{}
	g := newTestGateway(producer)

	// loop the request straight through a consumer backed by a stub service
	service := &stubService{
		claimFn: func(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
			return domain.Coupon{Code: "COUPON2"}, nil
		},
	}
	c := newTestConsumer(service, &fakeProducer{onSend: func(r *kgo.Record) {
		go g.HandleResponse(r.Value)
	}})
	producer.onSend = func(r *kgo.Record) {
		if r.Topic == TopicClaimRequest {
			go c.processRecord(context.Background(), r)
		}
	}

	coupon, err := g.ClaimCoupon(context.Background(), domain.ClaimRequest{IP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if coupon.Code != "COUPON2" {
		t.Fatalf("expected COUPON2, got %s", coupon.Code)
	}

	sent := producer.sent()
	var req RequestPayload
	if err := json.Unmarshal(sent[0].Value, &req); err != nil {
		t.Fatal(err)
	}
	if req.ReplyTo != "coupon.reply.test-instance" || req.CorrelationID == "" || string(sent[0].Key) != "1.2.3.4" {
		t.Fatalf("unexpected request %+v key=%s", req, sent[0].Key)
	}
}

func TestGateway_MapsErrorReply(t *testing.T) {
	producer := &fakeProducer{}
	g := newTestGateway(producer)
	producer.onSend = func(r *kgo.Record) {
		var req RequestPayload
		_ = json.Unmarshal(r.Value, &req)
		reply, _ := json.Marshal(errorResponse(req.CorrelationID, ErrCodeNoCoupons, "no coupons available"))
		go g.HandleResponse(reply)
	}

	_, err := g.ClaimCoupon(context.Background(), domain.ClaimRequest{IP: "1.2.3.4"})
	if !errors.Is(err, domain.ErrNoCoupons) {
		t.Fatalf("expected ErrNoCoupons, got %v", err)
	}
}

func TestGateway_Timeout(t *testing.T) {
	g := newTestGateway(&fakeProducer{})

	_, err := g.Inventory(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestGateway_ProduceError(t *testing.T) {
	g := newTestGateway(&fakeProducer{err: errors.New("broker down")})

	_, err := g.ClaimCoupon(context.Background(), domain.ClaimRequest{IP: "1.2.3.4"})
	if err == nil {
		t.Fatal("expected produce error")
	}
}

func TestTopics(t *testing.T) {
	topics := Topics(&config.Config{KafkaInstanceID: "node-1"})
	want := map[string]bool{
		"coupon.claim.req":         true,
		"coupon.claim.req.dlq":     true,
		"coupon.inventory.req":     true,
		"coupon.inventory.req.dlq": true,
		"coupon.reply.node-1":      true,
	}
	if len(topics) != len(want) {
		t.Fatalf("expected %d topics, got %v", len(want), topics)
	}
	for _, topic := range topics {
		if !want[topic] {
			t.Fatalf("unexpected topic %s", topic)
		}
	}
}
