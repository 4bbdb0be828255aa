package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"smartpos/backend/internal/domain"
)

func TestCancelTicketRestocksInventory(t *testing.T) {
	databaseURL := os.Getenv("SMARTPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SMARTPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	code := fmt.Sprintf("CODE-CANCEL-IT-%d", stamp)

	product, err := s.CreateProduct(ctx, domain.Product{
		Code:               code,
		Name:               "Cancel IT Widget",
		PurchasePriceCents: 6000,
		SalePriceCents:     12000,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ticket_lines WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
	})

	at := time.Now().UTC()
	seed, err := s.CreateAdjustmentTicket(ctx, fmt.Sprintf("TICKET-SEED-%d", stamp), domain.BulkAdjustmentRequest{
		Adjustments: []domain.StockAdjustment{{ProductID: product.ID, Delta: 10}},
		Reason:      "integration seed",
	}, at)
	if err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = $1`, seed.ID)
	})

	sale, err := s.CreateTicket(ctx, domain.TicketDraft{
		Number:    fmt.Sprintf("TICKET-CANCEL-IT-%d", stamp),
		Type:      domain.TicketTypeSale,
		Lines:     []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 2}},
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = $1`, sale.ID)
	})

	stock, err := s.GetStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("stock after sale: %v", err)
	}
	if stock != 8 {
		t.Fatalf("expected stock 8 after sale, got %d", stock)
	}

	cancelled, err := s.CancelTicket(ctx, sale.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("cancel ticket: %v", err)
	}
	if cancelled.Status != domain.TicketStatusCancelled {
		t.Fatalf("expected status %s, got %s", domain.TicketStatusCancelled, cancelled.Status)
	}

	stock, err = s.GetStock(ctx, product.ID)
	if err != nil {
		t.Fatalf("stock after cancel: %v", err)
	}
	if stock != 10 {
		t.Fatalf("expected stock 10 after cancel restock, got %d", stock)
	}
}
