package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/azizikri/coupon-drop/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const seedLockKey = 7263001

const (
	claimsByIPQuery = `SELECT ip, claimed_at FROM claims WHERE ip = $1 AND claimed_at > $2 ORDER BY claimed_at`

	// SKIP LOCKED lets concurrent claims take the next code instead of queueing on the head row.
	dequeueCouponQuery = `DELETE FROM coupons
WHERE id = (SELECT id FROM coupons ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED)
RETURNING code`

	insertClaimQuery = `INSERT INTO claims (ip, claimed_at) VALUES ($1, $2)`
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&pgQuerier{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("tx err: %v, rollback err: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Seed(ctx context.Context, codes []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, seedLockKey); err != nil {
		return fmt.Errorf("seed lock: %w", err)
	}

	var existing int64
	err = tx.QueryRow(ctx, `SELECT (SELECT count(*) FROM coupons) + (SELECT count(*) FROM claims)`).Scan(&existing)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	if existing > 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, code := range codes {
		batch.Queue(`INSERT INTO coupons (code) VALUES ($1) ON CONFLICT (code) DO NOTHING`, code)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert seed coupons: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) (*domain.Inventory, error) {
	inv := domain.Empty()

	rows, err := s.pool.Query(ctx, `SELECT code FROM coupons ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	coupons, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Coupon, error) {
		var c domain.Coupon
		err := row.Scan(&c.Code)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan coupons: %w", err)
	}
	inv.Coupons = append(inv.Coupons, coupons...)

	rows, err = s.pool.Query(ctx, `SELECT ip, claimed_at FROM claims ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	claims, err := pgx.CollectRows(rows, scanClaim)
	if err != nil {
		return nil, fmt.Errorf("scan claims: %w", err)
	}
	inv.Claims = append(inv.Claims, claims...)

	return inv, nil
}

type pgQuerier struct {
	db dbtx
}

// ClaimsByIP also takes a transaction-scoped advisory lock on ip, so two claims
// from the same address cannot both pass the window check.
func (q *pgQuerier) ClaimsByIP(ctx context.Context, ip string, since int64) ([]domain.Claim, error) {
	if _, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ip); err != nil {
		return nil, fmt.Errorf("lock ip: %w", err)
	}

	rows, err := q.db.Query(ctx, claimsByIPQuery, ip, since)
	if err != nil {
		return nil, fmt.Errorf("query claims: %w", err)
	}
	claims, err := pgx.CollectRows(rows, scanClaim)
	if err != nil {
		return nil, fmt.Errorf("scan claims: %w", err)
	}
	return claims, nil
}

func (q *pgQuerier) DequeueCoupon(ctx context.Context) (domain.Coupon, error) {
	var c domain.Coupon
	if err := q.db.QueryRow(ctx, dequeueCouponQuery).Scan(&c.Code); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Coupon{}, domain.ErrNoCoupons
		}
		return domain.Coupon{}, fmt.Errorf("dequeue coupon: %w", err)
	}
	return c, nil
}

func (q *pgQuerier) InsertClaim(ctx context.Context, claim domain.Claim) error {
	if _, err := q.db.Exec(ctx, insertClaimQuery, claim.IP, claim.Timestamp); err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func scanClaim(row pgx.CollectableRow) (domain.Claim, error) {
	var c domain.Claim
	err := row.Scan(&c.IP, &c.Timestamp)
	return c, err
}
