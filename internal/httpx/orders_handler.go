package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/catalog"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/checkout"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/inventory"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/logging"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/payment"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"net/http"
	"strings"
	"time"
)

// HeaderUserID is set by the auth layer in front of this service.
const HeaderUserID = "X-User-Id"

type OrdersHandler struct {
	Orch    *checkout.Orchestrator
	Catalog catalog.Catalog
	Redis   *redis.Client       // optional: checkout replay fast-path
	Cache   *redisx.StatusCache // optional
	Service string
}

type CheckoutLineReq struct {
	BookID   int64 `json:"bookId"`
	Quantity int   `json:"quantity"`
}

type CheckoutReq struct {
	ShippingAddress string            `json:"shippingAddress"`
	Lines           []CheckoutLineReq `json:"lines"`
}

type CheckoutResp struct {
	OrderID      string `json:"orderId,omitempty"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	PaymentToken string `json:"paymentToken,omitempty"`
	TotalCents   int64  `json:"totalCents,omitempty"`
	Idempotent   bool   `json:"idempotent,omitempty"`
}

type CaptureReq struct {
	OrderID      string `json:"orderId"`
	PaymentToken string `json:"paymentToken"`
}

type CaptureResp struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type OrderLineResp struct {
	BookID         int64 `json:"bookId"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unitPriceCents"`
}

type OrderResp struct {
	OrderID         string          `json:"orderId"`
	Status          string          `json:"status"`
	TotalCents      int64           `json:"totalCents"`
	ShippingAddress string          `json:"shippingAddress"`
	Lines           []OrderLineResp `json:"lines"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Post("/capture", h.capture)
	r.Post("/orders/{id}/capture", h.capture)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Get("/books", h.listBooks)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func principal(w http.ResponseWriter, r *http.Request) (checkout.Principal, bool) {
	uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if uid == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderUserID})
		return checkout.Principal{}, false
	}
	return checkout.Principal{UserID: uid}, true
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) int {
	var gwErr *payment.GatewayError
	switch {
	case orders.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, checkout.ErrNoPayment),
		errors.Is(err, checkout.ErrCapturedAfterFailure):
		return http.StatusConflict
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	}
	if _, ok := orders.IsStale(err); ok {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis; the order store stays the source of truth
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	idemKey := fmt.Sprintf(redisx.KeyIdemCheckout, p.UserID, key)
	if key != "" && h.Redis != nil {
		if body, ok, _ := redisx.Lookup(ctx, h.Redis, idemKey); ok {
			var resp CheckoutResp
			if json.Unmarshal([]byte(body), &resp) == nil {
				resp.Idempotent = true
				writeJSON(w, http.StatusOK, resp)
				return
			}
		}
	}

	in := checkout.Request{ShippingAddress: strings.TrimSpace(req.ShippingAddress), IdempotencyKey: key}
	for _, l := range req.Lines {
		in.Lines = append(in.Lines, checkout.LineRequest{BookID: l.BookID, Quantity: l.Quantity})
	}

	res, err := h.Orch.Checkout(ctx, p, in)
	resp := CheckoutResp{
		OrderID:      res.OrderID,
		Status:       res.State.External(),
		Reason:       res.Reason,
		PaymentToken: res.PaymentToken,
		TotalCents:   res.TotalCents,
		Idempotent:   res.Replayed,
	}
	if err != nil {
		if res.State == checkout.StateRejected {
			writeJSON(w, statusFor(err), resp)
			return
		}
		logging.Err(logging.Fields{Service: h.Service, Step: "checkout", Status: "error"}, err)
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}

	code := http.StatusCreated
	switch {
	case res.Replayed:
		code = http.StatusOK
	case res.State == checkout.StateStockReserved:
		code = http.StatusAccepted // no payment intent yet
	}
	if key != "" && h.Redis != nil && res.State == checkout.StatePaymentPending {
		resp.Idempotent = false
		b, _ := json.Marshal(resp)
		_ = h.Redis.Set(ctx, idemKey, b, redisx.TTLIdempotency).Err()
	}
	if !res.Replayed {
		// a replayed order may already be settled; its cache entry is owned by
		// the transition that settled it
		h.Cache.Set(ctx, res.OrderID, p.UserID, string(orders.StatusPending))
	}
	writeJSON(w, code, resp)
}

func (h *OrdersHandler) capture(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req CaptureReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		if req.OrderID != "" && req.OrderID != id {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "orderId does not match path"})
			return
		}
		req.OrderID = id
	}
	if req.OrderID == "" || req.PaymentToken == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	// gateway retries plus backoff need more room than the other routes
	ctx, cancel := context.WithTimeout(r.Context(), 12*time.Second)
	defer cancel()

	res, err := h.Orch.Capture(ctx, p, req.OrderID, req.PaymentToken)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	code := http.StatusOK
	if !res.State.Terminal() {
		code = http.StatusAccepted
	}
	writeJSON(w, code, CaptureResp{OrderID: res.OrderID, Status: res.State.External(), Reason: res.Reason})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orch.Order(ctx, p, chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	resp := OrderResp{
		OrderID:         o.ID,
		Status:          string(o.Status),
		TotalCents:      o.TotalCents,
		ShippingAddress: o.ShippingAddress,
		Lines:           make([]OrderLineResp, 0, len(o.Lines)),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, l := range o.Lines {
		resp.Lines = append(resp.Lines, OrderLineResp{BookID: l.BookID, Quantity: l.Qty, UnitPriceCents: l.UnitPriceCents})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	if cs, ok := h.Cache.Get(ctx, orderID); ok && cs.UserID == p.UserID {
		writeJSON(w, http.StatusOK, cs)
		return
	}

	// 2) fallback store
	o, err := h.Orch.Order(ctx, p, orderID)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	h.Cache.Set(ctx, o.ID, o.UserID, string(o.Status))
	writeJSON(w, http.StatusOK, redisx.CachedStatus{OrderID: o.ID, UserID: o.UserID, Status: string(o.Status)})
}

func (h *OrdersHandler) listBooks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	bs, err := h.Catalog.ListBooks(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, bs)
}
