package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/azizikri/coupon-drop/internal/domain"
	"github.com/azizikri/coupon-drop/internal/usecase"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const ClaimCookieName = "claimed"

type MessageResponse struct {
	Message string `json:"message"`
}

type InventoryResponse struct {
	Remaining int `json:"remaining"`
	Claims    int `json:"claims"`
}

type Handler struct {
	gateway usecase.CouponGateway
	window  time.Duration
	log     *zap.Logger
}

// NewHandler serves claims through gateway. window is the Max-Age of the claim cookie.
func NewHandler(gateway usecase.CouponGateway, window time.Duration, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{gateway: gateway, window: window, log: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/claim", h.ClaimCoupon)
	r.Route("/api", func(r chi.Router) {
		r.Get("/inventory", h.GetInventory)
	})
}

func (h *Handler) ClaimCoupon(w http.ResponseWriter, r *http.Request) {
	req := domain.ClaimRequest{
		IP:        clientIP(r),
		HasCookie: hasClaimCookie(r),
	}

	coupon, err := h.gateway.ClaimCoupon(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRateLimited):
			writeMessage(w, http.StatusTooManyRequests, domain.MsgRateLimited)
		case errors.Is(err, domain.ErrNoCoupons):
			writeMessage(w, http.StatusBadRequest, domain.MsgNoCoupons)
		default:
			h.log.Error("claim coupon", zap.String("ip", req.IP), zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:    ClaimCookieName,
		Value:   "true",
		Path:    "/",
		MaxAge:  int(h.window / time.Second),
		Expires: time.Now().Add(h.window),
	})
	h.log.Info("coupon claimed", zap.String("ip", req.IP), zap.String("code", coupon.Code))
	writeMessage(w, http.StatusOK, domain.MsgClaimed+coupon.Code)
}

func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	stats, err := h.gateway.Inventory(r.Context())
	if err != nil {
		h.log.Error("inventory", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, InventoryResponse{
		Remaining: stats.Remaining,
		Claims:    stats.Claims,
	})
}

// clientIP expects RealIP to have already applied any proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func hasClaimCookie(r *http.Request) bool {
	c, err := r.Cookie(ClaimCookieName)
	return err == nil && c.Value != ""
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
