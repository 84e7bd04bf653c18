package gatewaysandbox

import (
	"encoding/json"
	"errors"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/logging"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"net/http"
	"strings"
	"time"
)

type Handler struct {
	Store *Store
	// CaptureDelay holds the capture response after the capture is applied,
	// so clients with a shorter timeout see an ambiguous outcome.
	CaptureDelay time.Duration
	Service      string
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Route("/v1/payments", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/{token}", h.get)
		r.Post("/{token}/capture", h.capture)
		r.Post("/{token}/void", h.void)
	})
	return r
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "Idempotency-Key header required")
		return
	}
	var req payment.IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	cents := payment.CentsFromAmount(req.Amount)
	if cents <= 0 || req.Currency == "" || req.Metadata.OrderID == "" {
		writeError(w, http.StatusBadRequest, "amount, currency and metadata.order_id required")
		return
	}

	p, created, err := h.Store.Create(key, cents, strings.ToUpper(req.Currency), req.Metadata.OrderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
		logging.Log(logging.Fields{Service: h.Service, OrderID: p.OrderID, Step: "create_intent", Status: p.Status})
	}
	writeJSON(w, status, toResponse(p))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.Get(chi.URLParam(r, "token"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.Capture(chi.URLParam(r, "token"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	logging.Log(logging.Fields{Service: h.Service, OrderID: p.OrderID, Step: "capture", Status: p.Status, Message: p.FailureReason})

	if h.CaptureDelay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(h.CaptureDelay):
		}
	}
	writeJSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.Void(chi.URLParam(r, "token"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	logging.Log(logging.Fields{Service: h.Service, OrderID: p.OrderID, Step: "void", Status: p.Status})
	writeJSON(w, http.StatusOK, toResponse(p))
}

func toResponse(p Payment) payment.PaymentResponse {
	return payment.PaymentResponse{
		ID:            p.ID,
		Token:         p.Token,
		Status:        p.Status,
		Amount:        payment.AmountFromCents(p.AmountCents),
		Currency:      p.Currency,
		Metadata:      payment.Metadata{OrderID: p.OrderID},
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, payment.ErrorResponse{Error: msg})
}
