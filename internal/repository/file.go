package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/azizikri/coupon-drop/internal/domain"
	"go.uber.org/zap"
)

// FileStore keeps the inventory as a single JSON document on disk. All access
// goes through one mutex, and writes replace the file by rename.
type FileStore struct {
	mu     sync.Mutex
	path   string
	strict bool
	log    *zap.Logger
}

// NewFileStore returns a store backed by path. When strict is false a document
// that cannot be read or parsed is logged and treated as the empty store.
func NewFileStore(path string, strict bool, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{path: path, strict: strict, log: log}
}

func (s *FileStore) Seed(ctx context.Context, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat store: %w", err)
	}

	inv := domain.Empty()
	for _, code := range codes {
		inv.Coupons = append(inv.Coupons, domain.Coupon{Code: code})
	}
	if err := s.save(inv); err != nil {
		return err
	}
	s.log.Info("seeded coupon store", zap.String("path", s.path), zap.Int("coupons", len(codes)))
	return nil
}

func (s *FileStore) Snapshot(ctx context.Context) (*domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	inv, err := s.load()
	if err != nil {
		return err
	}

	q := &fileQuerier{inv: inv}
	if err := fn(q); err != nil {
		return err
	}
	if !q.dirty {
		return nil
	}
	return s.save(inv)
}

// Check reports whether the document on disk can be loaded. A missing file is fine.
func (s *FileStore) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read store: %w", err)
	}
	_, err = decode(raw)
	return err
}

func (s *FileStore) load() (*domain.Inventory, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Empty(), nil
		}
		return s.mask(fmt.Errorf("read store: %w", err))
	}

	inv, err := decode(raw)
	if err != nil {
		return s.mask(err)
	}
	return inv, nil
}

func (s *FileStore) mask(err error) (*domain.Inventory, error) {
	if s.strict {
		return nil, err
	}
	s.log.Warn("coupon store unreadable, treating as empty", zap.String("path", s.path), zap.Error(err))
	return domain.Empty(), nil
}

func (s *FileStore) save(inv *domain.Inventory) error {
	raw, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

func decode(raw []byte) (*domain.Inventory, error) {
	var inv domain.Inventory
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptStore, err)
	}
	if inv.Coupons == nil {
		inv.Coupons = []domain.Coupon{}
	}
	if inv.Claims == nil {
		inv.Claims = []domain.Claim{}
	}
	return &inv, nil
}

type fileQuerier struct {
	inv   *domain.Inventory
	dirty bool
}

func (q *fileQuerier) ClaimsByIP(ctx context.Context, ip string, since int64) ([]domain.Claim, error) {
	var out []domain.Claim
	for _, c := range q.inv.Claims {
		if c.IP == ip && c.Timestamp > since {
			out = append(out, c)
		}
	}
	return out, nil
}

func (q *fileQuerier) DequeueCoupon(ctx context.Context) (domain.Coupon, error) {
	if len(q.inv.Coupons) == 0 {
		return domain.Coupon{}, domain.ErrNoCoupons
	}
	head := q.inv.Coupons[0]
	q.inv.Coupons = q.inv.Coupons[1:]
	q.dirty = true
	return head, nil
}

func (q *fileQuerier) InsertClaim(ctx context.Context, claim domain.Claim) error {
	q.inv.Claims = append(q.inv.Claims, claim)
	q.dirty = true
	return nil
}
