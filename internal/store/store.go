package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"smartpos/backend/internal/domain"
)

// Error kinds. Specific sentinels below wrap one of these, so callers
// can match either the exact condition or the kind with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("state conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrForbidden         = errors.New("forbidden")
)

var (
	ErrCouponInactive     = fmt.Errorf("%w: coupon inactive", ErrConflict)
	ErrCouponExpired      = fmt.Errorf("%w: coupon outside validity window", ErrConflict)
	ErrCouponExhausted    = fmt.Errorf("%w: coupon usage cap reached", ErrConflict)
	ErrMinimumPurchase    = fmt.Errorf("%w: minimum purchase not met", ErrConflict)
	ErrDiscountInactive   = fmt.Errorf("%w: discount inactive", ErrConflict)
	ErrDiscountExpired    = fmt.Errorf("%w: discount outside validity window", ErrConflict)
	ErrCustomerRequired   = fmt.Errorf("%w: discount requires a customer", ErrConflict)
	ErrSessionAlreadyOpen = fmt.Errorf("%w: a cash session is already open", ErrConflict)
	ErrSessionClosed      = fmt.Errorf("%w: cash session is closed", ErrConflict)
	ErrSessionNotClosed   = fmt.Errorf("%w: cash session is not closed", ErrConflict)
	ErrSessionReconciled  = fmt.Errorf("%w: cash session already reconciled", ErrConflict)
	ErrTicketCancelled    = fmt.Errorf("%w: ticket already cancelled", ErrConflict)
	ErrAlreadyReceived    = fmt.Errorf("%w: purchase order already received", ErrConflict)
)

type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
	ListCoupons(ctx context.Context, activeOnly bool) ([]domain.Coupon, error)
	UpdateCouponActive(ctx context.Context, id string, active bool) (*domain.Coupon, error)
	DeleteCoupon(ctx context.Context, id string) error

	CreateDiscount(ctx context.Context, discount domain.Discount) (*domain.Discount, error)
	GetDiscountByID(ctx context.Context, id string) (*domain.Discount, error)
	ListDiscounts(ctx context.Context, activeOnly bool) ([]domain.Discount, error)
	UpdateDiscountActive(ctx context.Context, id string, active bool) (*domain.Discount, error)
	DeleteDiscount(ctx context.Context, id string) error

	GetStock(ctx context.Context, productID string) (int, error)
	ListMovementsByTicket(ctx context.Context, ticketID string) ([]domain.StockMovement, error)
	ListMovementsByProduct(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	// CreateTicket prices the draft lines, validates promotions, applies
	// stock effects and records movements, all in one atomic unit.
	CreateTicket(ctx context.Context, draft domain.TicketDraft) (*domain.Ticket, error)
	CancelTicket(ctx context.Context, ticketID string, at time.Time) (*domain.Ticket, error)
	CreateAdjustmentTicket(ctx context.Context, number string, req domain.BulkAdjustmentRequest, at time.Time) (*domain.Ticket, error)
	GetTicketByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetTicketByNumber(ctx context.Context, number string) (*domain.Ticket, error)
	ListRecentTickets(ctx context.Context, limit int) ([]domain.Ticket, error)
	ListTicketsByCustomer(ctx context.Context, customerID string) ([]domain.Ticket, error)

	OpenCashSession(ctx context.Context, at time.Time) (*domain.CashSession, error)
	CurrentOpenSession(ctx context.Context) (*domain.CashSession, error)
	CloseCashSession(ctx context.Context, sessionID string, at time.Time) (*domain.CashSession, error)
	ReconcileCashSession(ctx context.Context, sessionID string) (*domain.CashSession, error)
	ListPendingCashSessions(ctx context.Context) ([]domain.CashSession, error)
	GetCashSessionByID(ctx context.Context, id string) (*domain.CashSession, error)

	CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrderByID(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error)
	ReceivePurchaseOrder(ctx context.Context, id string, at time.Time) (*domain.PurchaseOrder, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}
