package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/lock"
	"shopledger/backend/internal/metrics"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded("shop-demo")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := service.New(repo, nil, lock.NewLocalLocker(), m, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*", m, reg, nil)
}

func login(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

// call sends an authenticated request with a fresh CSRF token.
func call(t *testing.T, api *API, method, path, token string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{
		"username": "owner",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_FiltersInventory(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	rec := call(t, api, http.MethodGet, "/api/v1/products?stock_status=low_stock", token, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Products []domain.InventoryItem `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Products) != 1 || body.Products[0].ID != "prd-sula-750" {
		t.Fatalf("expected only Sula Shiraz to be low on stock, got %+v", body.Products)
	}
}

func TestStaffCannotCreateProduct(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	rec := call(t, api, http.MethodPost, "/api/v1/products", token, map[string]any{
		"name":       "Blenders Pride",
		"brand":      "Pernod Ricard",
		"category":   "WHISKY",
		"size":       "ML_750",
		"mrp":        "1250",
		"cost_price": "1000",
	}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSellAndReplayWithIdempotencyKey(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")
	body := map[string]any{
		"items":        []map[string]any{{"product_id": "prd-old-monk-375", "quantity": 2}},
		"payment_mode": "CASH",
	}
	headers := map[string]string{"Idempotency-Key": "counter-1-0001"}

	first := call(t, api, http.MethodPost, "/api/v1/sales", token, body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", first.Code, first.Body.String())
	}
	var created domain.SaleResponse
	if err := json.NewDecoder(first.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if created.Duplicate || !created.Sale.Total.Equal(created.Sale.Subtotal) {
		t.Fatalf("unexpected first sale %+v", created)
	}

	replay := call(t, api, http.MethodPost, "/api/v1/sales", token, body, headers)
	if replay.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d (body: %s)", replay.Code, replay.Body.String())
	}
	var replayed domain.SaleResponse
	if err := json.NewDecoder(replay.Body).Decode(&replayed); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if !replayed.Duplicate || replayed.Sale.ID != created.Sale.ID {
		t.Fatalf("expected replay of %s, got %+v", created.Sale.ID, replayed)
	}

	lookup := call(t, api, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, token, nil, nil)
	if lookup.Code != http.StatusOK {
		t.Fatalf("expected 200 on lookup, got %d", lookup.Code)
	}
}

func TestSellInsufficientStockReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	rec := call(t, api, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"items":        []map[string]any{{"product_id": "prd-sula-750", "quantity": 6}},
		"payment_mode": "UPI",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "available: 5") {
		t.Fatalf("expected available count in error, got %s", rec.Body.String())
	}
}

func TestSaleFromAnotherShopIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	staffToken := login(t, api, "staff", "staff123")

	rec := call(t, api, http.MethodPost, "/api/v1/sales", staffToken, map[string]any{
		"items":        []map[string]any{{"product_id": "prd-kingfisher-650", "quantity": 1}},
		"payment_mode": "CASH",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created domain.SaleResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}

	if _, err := api.auth.CreateStaff(context.Background(), "shop-other", domain.StaffCreateRequest{
		Username: "otherstaff",
		Password: "other123",
	}); err != nil {
		t.Fatalf("create staff: %v", err)
	}
	otherToken := login(t, api, "otherstaff", "other123")

	lookup := call(t, api, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, otherToken, nil, nil)
	if lookup.Code != http.StatusNotFound {
		t.Fatalf("expected 404 across shops, got %d", lookup.Code)
	}
}

func TestTransferAndCountFlow(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	transfer := call(t, api, http.MethodPost, "/api/v1/inventory/transfers", token, domain.TransferRequest{
		ProductID: "prd-royal-stag-750",
		Cases:     1,
	}, nil)
	if transfer.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", transfer.Code, transfer.Body.String())
	}
	var moved domain.TransferResponse
	if err := json.NewDecoder(transfer.Body).Decode(&moved); err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	if moved.BottlesGenerated != 12 || moved.Product.ShopBottles != 32 {
		t.Fatalf("unexpected transfer result %+v", moved)
	}

	tooMany := call(t, api, http.MethodPost, "/api/v1/inventory/transfers", token, domain.TransferRequest{
		ProductID: "prd-royal-stag-750",
		Cases:     50,
	}, nil)
	if tooMany.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", tooMany.Code)
	}

	count := call(t, api, http.MethodPost, "/api/v1/inventory/counts", token, domain.StockCountRequest{
		Entries: []domain.StockCountEntry{{ProductID: "prd-royal-stag-750", WarehouseCases: 9, ShopBottles: 30}},
	}, nil)
	if count.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", count.Code, count.Body.String())
	}

	history := call(t, api, http.MethodGet, "/api/v1/inventory/counts?product_id=prd-royal-stag-750", token, nil, nil)
	if history.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", history.Code)
	}
	var logs struct {
		Counts []domain.StockCountLog `json:"counts"`
	}
	if err := json.NewDecoder(history.Body).Decode(&logs); err != nil {
		t.Fatalf("decode counts: %v", err)
	}
	if len(logs.Counts) != 1 || logs.Counts[0].HasBaseline {
		t.Fatalf("expected one first-count log, got %+v", logs.Counts)
	}
}

func TestCustomerPaymentRoutes(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "staff", "staff123")

	sale := call(t, api, http.MethodPost, "/api/v1/sales", token, map[string]any{
		"items":        []map[string]any{{"product_id": "prd-old-monk-375", "quantity": 1}},
		"payment_mode": "CREDIT",
		"customer_id":  "cus-ramesh",
	}, nil)
	if sale.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", sale.Code, sale.Body.String())
	}

	queue := call(t, api, http.MethodGet, "/api/v1/customers/collections", token, nil, nil)
	if queue.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", queue.Code)
	}
	var q domain.CollectionQueue
	if err := json.NewDecoder(queue.Body).Decode(&q); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if len(q.Customers) != 1 || q.TotalOutstanding.String() != "320" {
		t.Fatalf("unexpected queue %+v", q)
	}

	over := call(t, api, http.MethodPost, "/api/v1/customers/cus-ramesh/payments", token, map[string]any{"amount": "500"}, nil)
	if over.Code != http.StatusConflict {
		t.Fatalf("expected 409 on overpayment, got %d", over.Code)
	}

	paid := call(t, api, http.MethodPost, "/api/v1/customers/cus-ramesh/payments", token, map[string]any{"amount": "320"}, nil)
	if paid.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", paid.Code, paid.Body.String())
	}

	unknown := call(t, api, http.MethodPost, "/api/v1/customers/cus-ramesh/refunds", token, map[string]any{"amount": "1"}, nil)
	if unknown.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", unknown.Code)
	}
}

func TestDeactivateProductRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "owner", "owner123")

	denied := call(t, api, http.MethodDelete, "/api/v1/products/prd-sula-750", token, nil, map[string]string{"X-Manager-PIN": "000000"})
	if denied.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong pin, got %d", denied.Code)
	}

	ok := call(t, api, http.MethodDelete, "/api/v1/products/prd-sula-750", token, nil, map[string]string{"X-Manager-PIN": "123456"})
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", ok.Code, ok.Body.String())
	}

	again := call(t, api, http.MethodDelete, "/api/v1/products/prd-sula-750", token, nil, map[string]string{"X-Manager-PIN": "123456"})
	if again.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for inactive product, got %d", again.Code)
	}
}

func TestStaffRoutesAreOwnerOnly(t *testing.T) {
	api := newTestAPI(t)
	staffToken := login(t, api, "staff", "staff123")
	ownerToken := login(t, api, "owner", "owner123")

	if rec := call(t, api, http.MethodGet, "/api/v1/users/staff", staffToken, nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rec.Code)
	}

	created := call(t, api, http.MethodPost, "/api/v1/users/staff", ownerToken, domain.StaffCreateRequest{
		Username: "counter2",
		Password: "pass1234",
		Role:     domain.RoleManager,
	}, nil)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", created.Code, created.Body.String())
	}

	dup := call(t, api, http.MethodPost, "/api/v1/users/staff", ownerToken, domain.StaffCreateRequest{
		Username: "counter2",
		Password: "pass1234",
	}, nil)
	if dup.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", dup.Code)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `shopledger_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz request counter, got:\n%s", rec.Body.String())
	}
}

func TestGSTSummaryRoute(t *testing.T) {
	api := newTestAPI(t)
	staff := login(t, api, "staff", "staff123")
	owner := login(t, api, "owner", "owner123")

	sale := call(t, api, http.MethodPost, "/api/v1/sales", staff, map[string]any{
		"items":        []map[string]any{{"product_id": "prd-old-monk-375", "quantity": 2}},
		"payment_mode": "UPI",
	}, nil)
	if sale.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", sale.Code, sale.Body.String())
	}

	if rec := call(t, api, http.MethodGet, "/api/v1/gst/summary", staff, nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected staff to get 403, got %d", rec.Code)
	}

	rec := call(t, api, http.MethodGet, "/api/v1/gst/summary", owner, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var summary domain.GSTSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.Months) != 1 || summary.OutputCGST.String() != "48.81" || summary.NetPayable.String() != "97.62" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	if rec := call(t, api, http.MethodGet, "/api/v1/gst/summary?from=2026/03/01", owner, nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.Invalid("items", "is required"), http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{service.ErrForbidden, http.StatusForbidden},
		{&store.StockError{ProductName: "Old Monk", Available: 1}, http.StatusConflict},
		{fmt.Errorf("count: %w", lock.ErrLocked), http.StatusConflict},
		{store.ErrDuplicateInvoice, http.StatusConflict},
		{fmt.Errorf("%w: concurrent update, retry the request", store.ErrConflict), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
