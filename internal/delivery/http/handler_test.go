package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/azizikri/coupon-drop/internal/domain"
	"github.com/azizikri/coupon-drop/internal/repository"
	"github.com/azizikri/coupon-drop/internal/usecase"
)

type stubGateway struct {
	claimFn     func(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error)
	inventoryFn func(ctx context.Context) (*domain.Stats, error)
}

func (g *stubGateway) ClaimCoupon(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
	return g.claimFn(ctx, req)
}

func (g *stubGateway) Inventory(ctx context.Context) (*domain.Stats, error) {
	return g.inventoryFn(ctx)
}

func newRouter(gateway usecase.CouponGateway, publicDir string) http.Handler {
	return NewRouter(NewHandler(gateway, time.Hour, nil), publicDir, nil)
}

func newFileRouter(t *testing.T, strict bool, codes ...string) (http.Handler, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.json")
	store := repository.NewFileStore(path, strict, nil)
	if err := store.Seed(context.Background(), codes); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return newRouter(usecase.NewCouponService(store, time.Hour), ""), path
}

func claim(t *testing.T, h http.Handler, ip string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, MessageResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/claim", nil)
	req.Header.Set("X-Forwarded-For", ip)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body MessageResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, body
}

func TestClaimCoupon_Success(t *testing.T) {
	h, _ := newFileRouter(t, false, "COUPON1", "COUPON2", "COUPON3")

	rec, body := claim(t, h, "1.2.3.4")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body.Message != "🎉 Coupon claimed successfully! Your code: COUPON1" {
		t.Fatalf("unexpected message %q", body.Message)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != ClaimCookieName || cookies[0].Value != "true" {
		t.Fatalf("expected claimed=true cookie, got %+v", cookies)
	}
	if cookies[0].MaxAge != 3600 {
		t.Fatalf("expected Max-Age 3600, got %d", cookies[0].MaxAge)
	}
}

func TestClaimCoupon_SameIPRejected(t *testing.T) {
	h, _ := newFileRouter(t, false, "COUPON1", "COUPON2")

	claim(t, h, "1.2.3.4")
	rec, body := claim(t, h, "1.2.3.4")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if body.Message != "❌ You can claim another coupon after 1 hour." {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestClaimCoupon_CookieRejected(t *testing.T) {
	h, _ := newFileRouter(t, false, "COUPON1")

	rec, _ := claim(t, h, "5.5.5.5", &http.Cookie{Name: ClaimCookieName, Value: "true"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("rejected claim must not set a cookie")
	}
}

func TestClaimCoupon_Exhausted(t *testing.T) {
	h, _ := newFileRouter(t, false, "COUPON1", "COUPON2", "COUPON3")

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		if rec, _ := claim(t, h, ip); rec.Code != http.StatusOK {
			t.Fatalf("claim from %s: expected 200, got %d", ip, rec.Code)
		}
	}

	rec, body := claim(t, h, "4.4.4.4")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body.Message != "⚠️ No coupons available" {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestClaimCoupon_MalformedStoreBehavesEmpty(t *testing.T) {
	h, path := newFileRouter(t, false)
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, _ := claim(t, h, "1.2.3.4")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for masked corrupt store, got %d", rec.Code)
	}
}

func TestClaimCoupon_MalformedStoreStrict(t *testing.T) {
	h, path := newFileRouter(t, true)
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, body := claim(t, h, "1.2.3.4")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if body.Message != "internal server error" {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestClaimCoupon_UsesForwardedIP(t *testing.T) {
	var gotIP string
	gateway := &stubGateway{
		claimFn: func(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
			gotIP = req.IP
			return domain.Coupon{Code: "X"}, nil
		},
	}

	claim(t, newRouter(gateway, ""), "203.0.113.7")
	if gotIP != "203.0.113.7" {
		t.Fatalf("expected forwarded ip, got %q", gotIP)
	}
}

func TestClaimCoupon_RemoteAddrWithoutProxy(t *testing.T) {
	var gotIP string
	gateway := &stubGateway{
		claimFn: func(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
			gotIP = req.IP
			return domain.Coupon{Code: "X"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/claim", nil)
	req.RemoteAddr = "198.51.100.2:51234"
	newRouter(gateway, "").ServeHTTP(httptest.NewRecorder(), req)

	if gotIP != "198.51.100.2" {
		t.Fatalf("expected host without port, got %q", gotIP)
	}
}

func TestClaimCoupon_EmptyCookieIgnored(t *testing.T) {
	var gotCookie bool
	gateway := &stubGateway{
		claimFn: func(ctx context.Context, req domain.ClaimRequest) (domain.Coupon, error) {
			gotCookie = req.HasCookie
			return domain.Coupon{Code: "X"}, nil
		},
	}

	claim(t, newRouter(gateway, ""), "1.2.3.4", &http.Cookie{Name: ClaimCookieName, Value: ""})
	if gotCookie {
		t.Fatal("empty cookie value should not count as claimed")
	}
}

func TestGetInventory(t *testing.T) {
	h, _ := newFileRouter(t, false, "A", "B", "C")
	claim(t, h, "1.2.3.4")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/inventory", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body InventoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Remaining != 2 || body.Claims != 1 {
		t.Fatalf("unexpected inventory %+v", body)
	}
}

func TestGetInventory_Error(t *testing.T) {
	gateway := &stubGateway{
		inventoryFn: func(ctx context.Context) (*domain.Stats, error) {
			return nil, errors.New("down")
		},
	}

	rec := httptest.NewRecorder()
	newRouter(gateway, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/inventory", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestStaticRoutes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>coupons</h1>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := newRouter(&stubGateway{}, dir)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "coupons") {
		t.Fatalf("expected index page, got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "console.log(1)" {
		t.Fatalf("expected asset, got %d %q", rec.Code, rec.Body.String())
	}
}
