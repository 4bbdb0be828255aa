package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartpos/backend/internal/domain"
	"smartpos/backend/internal/notify"
	"smartpos/backend/internal/store"
	"smartpos/backend/internal/store/memory"
)

type recordingNotifier struct {
	sales chan notify.SaleSummary
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sales: make(chan notify.SaleSummary, 8)}
}

func (n *recordingNotifier) NotifySale(_ context.Context, sale notify.SaleSummary) error {
	n.sales <- sale
	return nil
}

func newTestService(t *testing.T) (*Service, *recordingNotifier) {
	t.Helper()
	notifier := newRecordingNotifier()
	svc := New(memory.New(), nil, notifier, zap.NewNop())
	return svc, notifier
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func seedProduct(t *testing.T, svc *Service, code string, salePriceCents int64, taxRate float64, stock int) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Code:               code,
		Name:               "Product " + code,
		PurchasePriceCents: salePriceCents / 2,
		SalePriceCents:     salePriceCents,
		TaxRatePercent:     taxRate,
	})
	require.NoError(t, err)

	if stock > 0 {
		_, err = svc.BulkAdjustment(adminCtx(), domain.BulkAdjustmentRequest{
			Adjustments: []domain.StockAdjustment{{ProductID: product.ID, Delta: stock}},
			Reason:      "initial stock",
		})
		require.NoError(t, err)
	}
	return product
}

func TestSaleTicketPricesAndDecrementsStock(t *testing.T) {
	svc, notifier := newTestService(t)
	product := seedProduct(t, svc, "SKU-1", 1000, 10, 5)

	ticket, err := svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:  domain.TicketTypeSale,
		Lines: []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusCompleted, ticket.Status)
	assert.Equal(t, int64(2000), ticket.SubtotalCents)
	assert.Equal(t, int64(200), ticket.TaxCents)
	assert.Equal(t, int64(2200), ticket.TotalCents)
	require.Len(t, ticket.Lines, 1)
	assert.Equal(t, int64(1000), ticket.Lines[0].UnitPriceCents)

	stock, err := svc.GetStock(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stock)

	select {
	case sale := <-notifier.sales:
		assert.Equal(t, ticket.Number, sale.TicketNumber)
		assert.Equal(t, int64(2200), sale.TotalCents)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sale notification")
	}
}

func TestDefectiveReturnLeavesStockUntouched(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-2", 1000, 0, 4)

	ticket, err := svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:  domain.TicketTypeReturn,
		Lines: []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 2, IsDefective: true}},
	})
	require.NoError(t, err)

	stock, err := svc.GetStock(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stock)

	movements, err := svc.ListMovementsByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.True(t, movements[0].IsDefective)
	assert.Equal(t, 2, movements[0].Quantity)
	assert.Equal(t, 0, movements[0].QuantityChange)
}

func TestNonDefectiveReturnRestocks(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-3", 1000, 0, 1)

	_, err := svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:  domain.TicketTypeReturn,
		Lines: []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 3}},
	})
	require.NoError(t, err)

	stock, err := svc.GetStock(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stock)
}

func TestSaleRejectsDefectiveLines(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-4", 1000, 0, 4)

	_, err := svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:  domain.TicketTypeSale,
		Lines: []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 1, IsDefective: true}},
	})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestCouponDiscountClampsTotalAtZero(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-5", 500, 0, 10)

	now := time.Now().UTC()
	_, err := svc.CreateCoupon(adminCtx(), domain.CouponCreateRequest{
		Code:         "BIGOFF",
		DiscountType: domain.DiscountTypeFixedAmount,
		AmountCents:  10000,
		ValidFrom:    now.Add(-time.Hour),
		ValidUntil:   now.Add(time.Hour),
	})
	require.NoError(t, err)

	ticket, err := svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:       domain.TicketTypeSale,
		CouponCode: "bigoff",
		Lines:      []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(10000), ticket.DiscountCents)
	assert.Equal(t, int64(0), ticket.TotalCents)
}

func TestCouponUsageIncrementsOnlyOnSuccess(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-6", 2000, 0, 10)

	now := time.Now().UTC()
	_, err := svc.CreateCoupon(adminCtx(), domain.CouponCreateRequest{
		Code:             "TEN",
		DiscountType:     domain.DiscountTypePercentage,
		DiscountPercent:  10,
		MinPurchaseCents: 5000,
		ValidFrom:        now.Add(-time.Hour),
		ValidUntil:       now.Add(time.Hour),
	})
	require.NoError(t, err)

	// Below the minimum purchase: the whole ticket fails and usage stays.
	_, err = svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:       domain.TicketTypeSale,
		CouponCode: "TEN",
		Lines:      []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	coupon, err := svc.GetCouponByCode(context.Background(), "TEN")
	require.NoError(t, err)
	assert.Equal(t, 0, coupon.CurrentUsageCount)

	ticket, err := svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:       domain.TicketTypeSale,
		CouponCode: "TEN",
		Lines:      []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(600), ticket.DiscountCents)

	coupon, err = svc.GetCouponByCode(context.Background(), "TEN")
	require.NoError(t, err)
	assert.Equal(t, 1, coupon.CurrentUsageCount)
}

func TestBulkAdjustmentAbortsOnNegativeStock(t *testing.T) {
	svc, _ := newTestService(t)
	first := seedProduct(t, svc, "SKU-7", 1000, 0, 5)
	second := seedProduct(t, svc, "SKU-8", 1000, 0, 1)

	_, err := svc.BulkAdjustment(adminCtx(), domain.BulkAdjustmentRequest{
		Adjustments: []domain.StockAdjustment{
			{ProductID: first.ID, Delta: -2},
			{ProductID: second.ID, Delta: -3},
		},
		Reason: "shrinkage count",
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	stock, err := svc.GetStock(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
	stock, err = svc.GetStock(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stock)
}

func TestBulkAdjustmentChecksCombinedDeltaPerProduct(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-27", 1000, 0, 5)

	_, err := svc.BulkAdjustment(adminCtx(), domain.BulkAdjustmentRequest{
		Adjustments: []domain.StockAdjustment{
			{ProductID: product.ID, Delta: -3},
			{ProductID: product.ID, Delta: -3},
		},
		Reason: "double count",
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	stock, err := svc.GetStock(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)

	_, err = svc.BulkAdjustment(adminCtx(), domain.BulkAdjustmentRequest{
		Adjustments: []domain.StockAdjustment{
			{ProductID: product.ID, Delta: -3},
			{ProductID: product.ID, Delta: -2},
		},
		Reason: "double count",
	})
	require.NoError(t, err)

	stock, err = svc.GetStock(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stock)
}

func TestBulkAdjustmentRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-9", 1000, 0, 5)

	_, err := svc.BulkAdjustment(cashierCtx(), domain.BulkAdjustmentRequest{
		Adjustments: []domain.StockAdjustment{{ProductID: product.ID, Delta: -1}},
		Reason:      "test",
	})
	assert.ErrorIs(t, err, store.ErrForbidden)
}

func TestCancelTicketReversesStockOnce(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-10", 1000, 0, 5)

	ticket, err := svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:  domain.TicketTypeSale,
		Lines: []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	cancelled, err := svc.CancelTicket(cashierCtx(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCancelled, cancelled.Status)

	stock, err := svc.GetStock(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)

	_, err = svc.CancelTicket(cashierCtx(), ticket.ID)
	assert.ErrorIs(t, err, store.ErrTicketCancelled)

	stock, err = svc.GetStock(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
}

func TestCashSessionLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-11", 1000, 0, 10)

	session, err := svc.OpenCashSession(cashierCtx())
	require.NoError(t, err)

	_, err = svc.OpenCashSession(cashierCtx())
	assert.ErrorIs(t, err, store.ErrSessionAlreadyOpen)

	sale, err := svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:  domain.TicketTypeSale,
		Lines: []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, session.ID, sale.CashSessionID)

	ret, err := svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:  domain.TicketTypeReturn,
		Lines: []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	closed, err := svc.CloseCashSession(cashierCtx(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.TotalCents, closed.TotalSalesCents)
	assert.Equal(t, ret.TotalCents, closed.TotalReturnsCents)
	assert.Equal(t, sale.TotalCents-ret.TotalCents, closed.NetAmountCents)
	require.NotNil(t, closed.ClosedAt)

	_, err = svc.ReconcileCashSession(cashierCtx(), session.ID)
	assert.Error(t, err)

	reconciled, err := svc.ReconcileCashSession(adminCtx(), session.ID)
	require.NoError(t, err)
	assert.True(t, reconciled.Reconciled)

	_, err = svc.ReconcileCashSession(adminCtx(), session.ID)
	assert.ErrorIs(t, err, store.ErrSessionReconciled)
}

func TestProductCRUDGuardsAndValidation(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{
		Code: "X", Name: "X", SalePriceCents: 100,
	})
	assert.Error(t, err)

	_, err = svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Code: "X", Name: "X", PurchasePriceCents: 200, SalePriceCents: 100,
	})
	assert.ErrorIs(t, err, store.ErrValidation)

	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Code: "crd-1", Name: "Widget", PurchasePriceCents: 100, SalePriceCents: 300, TaxRatePercent: 16,
	})
	require.NoError(t, err)
	assert.Equal(t, "CRD-1", product.Code)

	newPrice := int64(50)
	_, err = svc.UpdateProduct(adminCtx(), product.ID, domain.ProductUpdateRequest{SalePriceCents: &newPrice})
	assert.ErrorIs(t, err, store.ErrValidation)

	name := "Widget Pro"
	updated, err := svc.UpdateProduct(adminCtx(), product.ID, domain.ProductUpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Widget Pro", updated.Name)

	require.NoError(t, svc.DeleteProduct(adminCtx(), product.ID))
	_, err = svc.GetProduct(context.Background(), product.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPurchaseOrderReceiveIncreasesStock(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-12", 1000, 0, 0)

	supplier, err := svc.CreateSupplier(adminCtx(), domain.SupplierCreateRequest{Name: "Acme"})
	require.NoError(t, err)

	po, err := svc.CreatePurchaseOrder(adminCtx(), domain.PurchaseOrderCreateRequest{
		SupplierID: supplier.ID,
		Lines:      []domain.PurchaseOrderLine{{ProductID: product.ID, QuantityOrdered: 7, UnitCostCents: 400}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseOrderStatusOrdered, po.Status)

	received, err := svc.ReceivePurchaseOrder(adminCtx(), po.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseOrderStatusReceived, received.Status)

	stock, err := svc.GetStock(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stock)

	_, err = svc.ReceivePurchaseOrder(adminCtx(), po.ID)
	assert.ErrorIs(t, err, store.ErrAlreadyReceived)
}

func TestDiscountRequiresCustomer(t *testing.T) {
	svc, _ := newTestService(t)
	product := seedProduct(t, svc, "SKU-13", 2000, 0, 10)

	now := time.Now().UTC()
	discount, err := svc.CreateDiscount(adminCtx(), domain.DiscountCreateRequest{
		Name:             "Members",
		DiscountType:     domain.DiscountTypePercentage,
		DiscountPercent:  5,
		ApplicableOn:     domain.ApplicableOnTotal,
		RequiresCustomer: true,
		ValidFrom:        now.Add(-time.Hour),
		ValidUntil:       now.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:       domain.TicketTypeSale,
		DiscountID: discount.ID,
		Lines:      []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, store.ErrCustomerRequired)

	customer, err := svc.CreateCustomer(cashierCtx(), domain.CustomerCreateRequest{FirstName: "Ada", LastName: "Lovelace"})
	require.NoError(t, err)

	ticket, err := svc.CreateTicket(cashierCtx(), domain.CreateTicketRequest{
		Type:       domain.TicketTypeSale,
		CustomerID: customer.ID,
		DiscountID: discount.ID,
		Lines:      []domain.TicketLineRequest{{ProductID: product.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), ticket.DiscountCents)
}
