package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/azizikri/coupon-drop/internal/domain"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 10

var ErrTxConflict = errors.New("too many concurrent claims, transaction not applied")

// RedisStore keeps the coupon queue and claim log in Redis lists. Claims are
// applied with WATCH on the queue key; any concurrent claim changes the queue
// and forces a retry.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	claimTTL time.Duration
}

// NewRedisStore returns a store using keys under prefix. The last-claim marker
// for each IP expires after claimTTL.
func NewRedisStore(client *redis.Client, prefix string, claimTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, claimTTL: claimTTL}
}

func (s *RedisStore) couponsKey() string { return s.prefix + "coupons" }
func (s *RedisStore) claimsKey() string { return s.prefix + "claims" }
func (s *RedisStore) ipKey(ip string) string { return s.prefix + "ip:" + ip }

func (s *RedisStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			q := &redisQuerier{store: s, tx: tx}
			if err := fn(q); err != nil {
				return err
			}
			if len(q.ops) == 0 {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				for _, op := range q.ops {
					op(p)
				}
				return nil
			})
			return err
		}, s.couponsKey())

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrTxConflict
}

func (s *RedisStore) Seed(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	values := make([]any, len(codes))
	for i, code := range codes {
		values[i] = code
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		coupons, err := tx.LLen(ctx, s.couponsKey()).Result()
		if err != nil {
			return fmt.Errorf("count coupons: %w", err)
		}
		claims, err := tx.LLen(ctx, s.claimsKey()).Result()
		if err != nil {
			return fmt.Errorf("count claims: %w", err)
		}
		if coupons+claims > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.RPush(ctx, s.couponsKey(), values...)
			return nil
		})
		return err
	}, s.couponsKey(), s.claimsKey())

	if errors.Is(err, redis.TxFailedErr) {
		// another instance seeded concurrently
		return nil
	}
	return err
}

func (s *RedisStore) Snapshot(ctx context.Context) (*domain.Inventory, error) {
	inv := domain.Empty()

	codes, err := s.client.LRange(ctx, s.couponsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	for _, code := range codes {
		inv.Coupons = append(inv.Coupons, domain.Coupon{Code: code})
	}

	raw, err := s.client.LRange(ctx, s.claimsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	for _, item := range raw {
		var c domain.Claim
		if err := json.Unmarshal([]byte(item), &c); err != nil {
			return nil, fmt.Errorf("%w: claim %q: %v", domain.ErrCorruptStore, item, err)
		}
		inv.Claims = append(inv.Claims, c)
	}
	return inv, nil
}

// redisQuerier reads through the watched connection and buffers writes until
// the transaction function returns.
type redisQuerier struct {
	store  *RedisStore
	tx     *redis.Tx
	ops    []func(redis.Pipeliner)
	popped int64
}

func (q *redisQuerier) ClaimsByIP(ctx context.Context, ip string, since int64) ([]domain.Claim, error) {
	val, err := q.tx.Get(ctx, q.store.ipKey(ip)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last claim: %w", err)
	}
	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: last claim for %s: %v", domain.ErrCorruptStore, ip, err)
	}
	if ts <= since {
		return nil, nil
	}
	return []domain.Claim{{IP: ip, Timestamp: ts}}, nil
}

func (q *redisQuerier) DequeueCoupon(ctx context.Context) (domain.Coupon, error) {
	// pops are only queued, so skip the ones already taken in this tx
	code, err := q.tx.LIndex(ctx, q.store.couponsKey(), q.popped).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Coupon{}, domain.ErrNoCoupons
	}
	if err != nil {
		return domain.Coupon{}, fmt.Errorf("peek coupon: %w", err)
	}
	q.popped++
	q.ops = append(q.ops, func(p redis.Pipeliner) {
		p.LPop(ctx, q.store.couponsKey())
	})
	return domain.Coupon{Code: code}, nil
}

func (q *redisQuerier) InsertClaim(ctx context.Context, claim domain.Claim) error {
	raw, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("encode claim: %w", err)
	}
	q.ops = append(q.ops, func(p redis.Pipeliner) {
		p.RPush(ctx, q.store.claimsKey(), raw)
		p.Set(ctx, q.store.ipKey(claim.IP), claim.Timestamp, q.store.claimTTL)
	})
	return nil
}

