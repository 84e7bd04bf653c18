package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/catalog"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/checkout"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/gatewaysandbox"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/httpx"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/inventory"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/metrics"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/orders"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/payment"
	"github.com/YesWoolley/OnlineBookstore-sub002/internal/redisx"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type testAPI struct {
	srv    *httptest.Server
	ledger *inventory.MemoryLedger
	books  *catalog.MemoryCatalog
}

// newTestAPI wires the API against memory stores and a sandbox gateway that
// declines anything above declineOver cents.
func newTestAPI(t *testing.T, declineOver int64) *testAPI {
	t.Helper()
	return buildTestAPI(t, declineOver, nil)
}

// buildTestAPI also wires the order status cache when rdb is set.
func buildTestAPI(t *testing.T, declineOver int64, rdb *redis.Client) *testAPI {
	t.Helper()

	st, err := gatewaysandbox.Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}
	st.DeclineOverCents = declineOver
	gw := httptest.NewServer((&gatewaysandbox.Handler{Store: st, Service: "sandbox-test"}).Router())

	ledger := inventory.NewMemoryLedger()
	books := catalog.NewMemoryCatalog(ledger)
	m := metrics.New(prometheus.NewRegistry(), "api_test")

	client := payment.NewClient(gw.URL, time.Second, 2, time.Millisecond)
	client.Observe = m.ObserveGateway

	orch := &checkout.Orchestrator{
		Ledger:            ledger,
		Orders:            orders.NewMemoryStore(),
		Payments:          payment.NewMemoryStore(),
		Gateway:           client,
		Catalog:           books,
		Metrics:           m,
		Service:           "api-test",
		Currency:          "USD",
		ReconcileAttempts: 2,
		ReconcileBackoff:  time.Millisecond,
	}

	oh := &httpx.OrdersHandler{Orch: orch, Catalog: books, Service: "api-test"}
	if rdb != nil {
		oh.Cache = &redisx.StatusCache{RDB: rdb}
		orch.Cache = oh.Cache
	}
	router := httpx.NewRouter(m)
	oh.Register(router)
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		gw.Close()
		st.Close()
	})
	return &testAPI{srv: srv, ledger: ledger, books: books}
}

func (a *testAPI) seed(id int64, qty int, price int64) {
	a.ledger.SetStock(id, qty)
	a.books.Put(id, "book", price)
}

func (a *testAPI) do(t *testing.T, method, path, user string, body any, headers ...string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, a.srv.URL+path, rd)
	if user != "" {
		req.Header.Set(httpx.HeaderUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

func checkoutBody(bookID int64, qty int) httpx.CheckoutReq {
	return httpx.CheckoutReq{ShippingAddress: "1 Library Lane", Lines: []httpx.CheckoutLineReq{{BookID: bookID, Quantity: qty}}}
}

func TestCheckoutAndCaptureOverHTTP(t *testing.T) {
	api := newTestAPI(t, 0)
	api.seed(5, 10, 1250)

	resp, body := api.do(t, http.MethodPost, "/checkout", "alice", checkoutBody(5, 2))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout status %d: %s", resp.StatusCode, body)
	}
	co := decode[httpx.CheckoutResp](t, body)
	if co.Status != "Pending" || co.OrderID == "" || co.PaymentToken == "" || co.TotalCents != 2500 {
		t.Fatalf("checkout = %+v", co)
	}

	resp, body = api.do(t, http.MethodPost, "/orders/"+co.OrderID+"/capture", "alice", httpx.CaptureReq{PaymentToken: co.PaymentToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capture status %d: %s", resp.StatusCode, body)
	}
	if cr := decode[httpx.CaptureResp](t, body); cr.Status != "Paid" {
		t.Fatalf("capture = %+v", cr)
	}

	resp, body = api.do(t, http.MethodGet, "/orders/"+co.OrderID, "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", resp.StatusCode, body)
	}
	o := decode[httpx.OrderResp](t, body)
	if o.Status != string(orders.StatusPaid) || len(o.Lines) != 1 || o.Lines[0].UnitPriceCents != 1250 {
		t.Fatalf("order = %+v", o)
	}

	resp, body = api.do(t, http.MethodGet, "/books", "", nil)
	books := decode[[]catalog.Book](t, body)
	if resp.StatusCode != http.StatusOK || len(books) != 1 || books[0].AvailableQty != 8 {
		t.Fatalf("books %d: %s", resp.StatusCode, body)
	}
}

func TestCaptureDeclinedOverHTTP(t *testing.T) {
	api := newTestAPI(t, 1000)
	api.seed(5, 10, 1250)

	_, body := api.do(t, http.MethodPost, "/checkout", "alice", checkoutBody(5, 2))
	co := decode[httpx.CheckoutResp](t, body)

	// body-addressed variant of the capture route
	resp, body := api.do(t, http.MethodPost, "/capture", "alice", httpx.CaptureReq{OrderID: co.OrderID, PaymentToken: co.PaymentToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capture status %d: %s", resp.StatusCode, body)
	}
	cr := decode[httpx.CaptureResp](t, body)
	if cr.Status != "Failed" || cr.Reason != gatewaysandbox.ReasonDeclined {
		t.Fatalf("capture = %+v", cr)
	}
	if n, _ := api.ledger.Available(context.Background(), 5); n != 10 {
		t.Fatalf("available = %d, want 10", n)
	}
}

func TestCheckoutErrorsOverHTTP(t *testing.T) {
	api := newTestAPI(t, 0)
	api.seed(1, 1, 100)

	cases := []struct {
		name   string
		user   string
		body   any
		status int
	}{
		{"no user", "", checkoutBody(1, 1), http.StatusUnauthorized},
		{"bad json", "alice", "not an object", http.StatusBadRequest},
		{"zero quantity", "alice", checkoutBody(1, 0), http.StatusBadRequest},
		{"no lines", "alice", httpx.CheckoutReq{ShippingAddress: "x"}, http.StatusBadRequest},
		{"unknown book", "alice", checkoutBody(42, 1), http.StatusBadRequest},
		{"not enough stock", "alice", checkoutBody(1, 2), http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := api.do(t, http.MethodPost, "/checkout", tc.user, tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tc.status, body)
			}
			if tc.status == http.StatusConflict {
				if co := decode[httpx.CheckoutResp](t, body); co.Status != "Rejected" || !strings.Contains(co.Reason, "insufficient stock") {
					t.Fatalf("rejection = %+v", co)
				}
			}
		})
	}
}

func TestCheckoutIdempotencyKeyOverHTTP(t *testing.T) {
	api := newTestAPI(t, 0)
	api.seed(1, 5, 100)

	_, body := api.do(t, http.MethodPost, "/checkout", "alice", checkoutBody(1, 2), "Idempotency-Key", "cart-1")
	first := decode[httpx.CheckoutResp](t, body)

	resp, body := api.do(t, http.MethodPost, "/checkout", "alice", checkoutBody(1, 2), "Idempotency-Key", "cart-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay status %d: %s", resp.StatusCode, body)
	}
	again := decode[httpx.CheckoutResp](t, body)
	if !again.Idempotent || again.OrderID != first.OrderID {
		t.Fatalf("replay = %+v, first = %+v", again, first)
	}
	if n, _ := api.ledger.Available(context.Background(), 1); n != 3 {
		t.Fatalf("available = %d, want 3", n)
	}
}

func TestOrderAccessIsScopedToOwner(t *testing.T) {
	api := newTestAPI(t, 0)
	api.seed(1, 5, 100)

	_, body := api.do(t, http.MethodPost, "/checkout", "alice", checkoutBody(1, 1))
	co := decode[httpx.CheckoutResp](t, body)

	if resp, _ := api.do(t, http.MethodGet, "/orders/"+co.OrderID, "bob", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("bob read alice's order: %d", resp.StatusCode)
	}
	if resp, _ := api.do(t, http.MethodPost, "/orders/"+co.OrderID+"/capture", "bob", httpx.CaptureReq{PaymentToken: co.PaymentToken}); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("bob captured alice's order: %d", resp.StatusCode)
	}
	if resp, _ := api.do(t, http.MethodPost, "/orders/"+co.OrderID+"/capture", "alice", httpx.CaptureReq{PaymentToken: "tok_wrong"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong token: %d", resp.StatusCode)
	}
	if resp, _ := api.do(t, http.MethodPost, "/orders/"+co.OrderID+"/capture", "alice", httpx.CaptureReq{OrderID: "other", PaymentToken: co.PaymentToken}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("mismatched ids: %d", resp.StatusCode)
	}

	resp, body := api.do(t, http.MethodGet, "/orders/"+co.OrderID+"/status", "alice", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"PENDING"`) {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t, 0)

	if resp, body := api.do(t, http.MethodGet, "/healthz", "", nil); resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz %d: %s", resp.StatusCode, body)
	}
	resp, body := api.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "bookstore_api_test_http_requests_total") {
		t.Fatalf("metrics %d: %s", resp.StatusCode, body)
	}
}

func TestStatusCacheFollowsSettledOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	api := buildTestAPI(t, 0, rdb)
	api.seed(5, 10, 1250)

	_, body := api.do(t, http.MethodPost, "/checkout", "alice", checkoutBody(5, 2), "Idempotency-Key", "cart-7")
	co := decode[httpx.CheckoutResp](t, body)

	resp, body := api.do(t, http.MethodGet, "/orders/"+co.OrderID+"/status", "alice", nil)
	if st := decode[redisx.CachedStatus](t, body); resp.StatusCode != http.StatusOK || st.Status != string(orders.StatusPending) {
		t.Fatalf("status before capture %d: %s", resp.StatusCode, body)
	}

	if resp, body := api.do(t, http.MethodPost, "/orders/"+co.OrderID+"/capture", "alice", httpx.CaptureReq{PaymentToken: co.PaymentToken}); resp.StatusCode != http.StatusOK {
		t.Fatalf("capture %d: %s", resp.StatusCode, body)
	}

	// the replay is served by the order store and must not re-cache PENDING
	resp, body = api.do(t, http.MethodPost, "/checkout", "alice", checkoutBody(5, 2), "Idempotency-Key", "cart-7")
	if again := decode[httpx.CheckoutResp](t, body); resp.StatusCode != http.StatusOK || !again.Idempotent || again.Status != "Paid" {
		t.Fatalf("replay %d: %s", resp.StatusCode, body)
	}

	resp, body = api.do(t, http.MethodGet, "/orders/"+co.OrderID+"/status", "alice", nil)
	if st := decode[redisx.CachedStatus](t, body); resp.StatusCode != http.StatusOK || st.Status != string(orders.StatusPaid) {
		t.Fatalf("status after replay %d: %s", resp.StatusCode, body)
	}
}
