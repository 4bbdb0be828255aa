package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"smartpos/backend/internal/domain"
	"smartpos/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestMutatingRequestWithoutCSRFTokenIsRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "cashier", "cashier123")

	payload, _ := json.Marshal(domain.CreateTicketRequest{
		Type:  domain.TicketTypeSale,
		Lines: []domain.TicketLineRequest{{ProductID: "prd_x", Quantity: 1}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestCashierCannotCreateProducts(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/products", token, domain.ProductCreateRequest{
		Code:           "NOPE-1",
		Name:           "Forbidden",
		SalePriceCents: 100,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier product create, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCashierCannotReachAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/stock/adjustments", token, domain.BulkAdjustmentRequest{
		Adjustments: []domain.StockAdjustment{{ProductID: "prd_x", Delta: 1}},
		Reason:      "test",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier on admin route, got %d", rec.Code)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", store.ErrNotFound, http.StatusNotFound},
		{"validation", store.ErrValidation, http.StatusBadRequest},
		{"forbidden kind", fmt.Errorf("%w: admin role required", store.ErrForbidden), http.StatusForbidden},
		{"insufficient stock", store.ErrInsufficientStock, http.StatusConflict},
		{"wrapped conflict", store.ErrSessionAlreadyOpen, http.StatusConflict},
		{"driver failure", errors.New("driver: bad connection"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusForError(tc.err); got != tc.want {
				t.Fatalf("expected %d for %v, got %d", tc.want, tc.err, got)
			}
		})
	}
}

func TestDependencyFailuresGetGenericBody(t *testing.T) {
	err := errors.New("pq: deadlock detected on relation current_stock")
	rec := httptest.NewRecorder()
	writeError(rec, statusForError(err), err)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for a dependency failure, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "deadlock") {
		t.Fatalf("driver detail leaked to the client: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Fatalf("expected generic error body, got %s", rec.Body.String())
	}
}

func TestGarbageBearerTokenIsUnauthorized(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestUnknownFieldsInPayloadAreRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/tickets", token, map[string]any{
		"type":      domain.TicketTypeSale,
		"lines":     []map[string]any{{"product_id": "prd_x", "quantity": 1}},
		"surprise":  "field",
		"evil_flag": true,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown fields, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
