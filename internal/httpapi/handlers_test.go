package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"smartpos/backend/internal/domain"
	"smartpos/backend/internal/service"
	"smartpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.New()
	svc := service.New(repo, nil, nil, zap.NewNop())
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", zap.NewNop())
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

// doJSON issues an authenticated JSON request with a fresh CSRF token.
func doJSON(t *testing.T, handler http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrfToken(t, handler))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

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
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

// TestTicketFlowOverHTTP drives a sale end to end through the API:
// product creation, stock adjustment, ticket creation, stock readback.
func TestTicketFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	adminToken := loginAs(t, handler, "admin", "admin123")
	cashierToken := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", adminToken, domain.ProductCreateRequest{
		Code:               "HTTP-1",
		Name:               "Flow Widget",
		PurchasePriceCents: 500,
		SalePriceCents:     1000,
		TaxRatePercent:     10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var productResp struct {
		Product domain.Product `json:"product"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&productResp); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	productID := productResp.Product.ID

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/stock/adjustments", adminToken, domain.BulkAdjustmentRequest{
		Adjustments: []domain.StockAdjustment{{ProductID: productID, Delta: 5}},
		Reason:      "initial stock",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("adjust stock: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/tickets", cashierToken, domain.CreateTicketRequest{
		Type:  domain.TicketTypeSale,
		Lines: []domain.TicketLineRequest{{ProductID: productID, Quantity: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create ticket: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var ticketResp struct {
		Ticket domain.Ticket `json:"ticket"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&ticketResp); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticketResp.Ticket.TotalCents != 2200 {
		t.Fatalf("expected total 2200, got %d", ticketResp.Ticket.TotalCents)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/products/%s/stock", productID), nil)
	req.Header.Set("Authorization", "Bearer "+cashierToken)
	stockRec := httptest.NewRecorder()
	handler.ServeHTTP(stockRec, req)
	if stockRec.Code != http.StatusOK {
		t.Fatalf("stock readback: expected 200, got %d", stockRec.Code)
	}
	var stockResp struct {
		Stock int `json:"stock"`
	}
	if err := json.NewDecoder(stockRec.Body).Decode(&stockResp); err != nil {
		t.Fatalf("decode stock: %v", err)
	}
	if stockResp.Stock != 3 {
		t.Fatalf("expected stock 3 after sale, got %d", stockResp.Stock)
	}
}

func TestCreateTicket_UnknownProductIs404(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	cashierToken := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/tickets", cashierToken, domain.CreateTicketRequest{
		Type:  domain.TicketTypeSale,
		Lines: []domain.TicketLineRequest{{ProductID: "prd_missing", Quantity: 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCreateTicket_EmptyLinesIs400(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	cashierToken := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/tickets", cashierToken, domain.CreateTicketRequest{
		Type: domain.TicketTypeSale,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestSessionOpenTwiceIsConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	cashierToken := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/cash-sessions/open", cashierToken, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cash-sessions/open", cashierToken, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second open: expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
