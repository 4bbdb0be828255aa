package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"smartpos/backend/internal/cache"
	"smartpos/backend/internal/domain"
	"smartpos/backend/internal/notify"
	"smartpos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const productCacheTTL = 5 * time.Minute

type Service struct {
	repo     store.Repository
	products cache.ProductCache
	notifier notify.Notifier
	logger   *zap.Logger
}

func New(repo store.Repository, products cache.ProductCache, notifier notify.Notifier, logger *zap.Logger) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		products: products,
		notifier: notifier,
		logger:   logger,
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("%w: admin role required", store.ErrForbidden)
	}
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Name = strings.TrimSpace(req.Name)
	if req.Code == "" || req.Name == "" {
		return domain.Product{}, store.ErrValidation
	}
	if req.SalePriceCents < 1 || req.PurchasePriceCents < 0 {
		return domain.Product{}, store.ErrValidation
	}
	if req.SalePriceCents < req.PurchasePriceCents {
		return domain.Product{}, fmt.Errorf("%w: sale price below purchase price", store.ErrValidation)
	}
	if req.TaxRatePercent < 0 || req.TaxRatePercent > 100 {
		return domain.Product{}, store.ErrValidation
	}
	if req.SupplierID != "" {
		if _, err := s.repo.GetSupplierByID(ctx, req.SupplierID); err != nil {
			return domain.Product{}, err
		}
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Code:               req.Code,
		Name:               req.Name,
		Description:        strings.TrimSpace(req.Description),
		Category:           strings.TrimSpace(req.Category),
		SupplierID:         req.SupplierID,
		PurchasePriceCents: req.PurchasePriceCents,
		SalePriceCents:     req.SalePriceCents,
		TaxRatePercent:     req.TaxRatePercent,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if cached, ok, err := s.products.Get(ctx, id); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.logger.Warn("product cache read failed", zap.String("product_id", id), zap.Error(err))
	}

	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.products.Set(ctx, product, productCacheTTL); err != nil {
		s.logger.Warn("product cache write failed", zap.String("product_id", id), zap.Error(err))
	}
	return *product, nil
}

func (s *Service) GetProductByCode(ctx context.Context, code string) (domain.Product, error) {
	product, err := s.repo.GetProductByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrValidation
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.PurchasePriceCents != nil {
		if *req.PurchasePriceCents < 0 {
			return domain.Product{}, store.ErrValidation
		}
		updated.PurchasePriceCents = *req.PurchasePriceCents
	}
	if req.SalePriceCents != nil {
		if *req.SalePriceCents < 1 {
			return domain.Product{}, store.ErrValidation
		}
		updated.SalePriceCents = *req.SalePriceCents
	}
	if req.TaxRatePercent != nil {
		if *req.TaxRatePercent < 0 || *req.TaxRatePercent > 100 {
			return domain.Product{}, store.ErrValidation
		}
		updated.TaxRatePercent = *req.TaxRatePercent
	}
	if updated.SalePriceCents < updated.PurchasePriceCents {
		return domain.Product{}, fmt.Errorf("%w: sale price below purchase price", store.ErrValidation)
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.products.Invalidate(ctx, saved.ID); err != nil {
		s.logger.Warn("product cache invalidate failed", zap.String("product_id", saved.ID), zap.Error(err))
	}
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	if err := s.products.Invalidate(ctx, id); err != nil {
		s.logger.Warn("product cache invalidate failed", zap.String("product_id", id), zap.Error(err))
	}
	return nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	if first == "" && last == "" {
		return domain.Customer{}, store.ErrValidation
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		FirstName: first,
		LastName:  last,
		Email:     strings.TrimSpace(req.Email),
		Phone:     strings.TrimSpace(req.Phone),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteCustomer(ctx, id)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Supplier{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Supplier{}, store.ErrValidation
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:  name,
		Phone: strings.TrimSpace(req.Phone),
		Email: strings.TrimSpace(req.Email),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	return *created, nil
}

func (s *Service) GetSupplier(ctx context.Context, id string) (domain.Supplier, error) {
	supplier, err := s.repo.GetSupplierByID(ctx, id)
	if err != nil {
		return domain.Supplier{}, err
	}
	return *supplier, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) CreateCoupon(ctx context.Context, req domain.CouponCreateRequest) (domain.Coupon, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Coupon{}, err
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return domain.Coupon{}, store.ErrValidation
	}
	if err := validateDiscountValue(req.DiscountType, req.DiscountPercent, req.AmountCents); err != nil {
		return domain.Coupon{}, err
	}
	if !req.ValidUntil.After(req.ValidFrom) {
		return domain.Coupon{}, fmt.Errorf("%w: validity window is empty", store.ErrValidation)
	}
	if req.MinPurchaseCents < 0 || req.MaxDiscountCents < 0 || req.MaxUsageCount < 0 {
		return domain.Coupon{}, store.ErrValidation
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	created, err := s.repo.CreateCoupon(ctx, domain.Coupon{
		Code:             code,
		Description:      strings.TrimSpace(req.Description),
		DiscountType:     req.DiscountType,
		DiscountPercent:  req.DiscountPercent,
		AmountCents:      req.AmountCents,
		MinPurchaseCents: req.MinPurchaseCents,
		MaxDiscountCents: req.MaxDiscountCents,
		ValidFrom:        req.ValidFrom,
		ValidUntil:       req.ValidUntil,
		Active:           active,
		MaxUsageCount:    req.MaxUsageCount,
	})
	if err != nil {
		return domain.Coupon{}, err
	}
	return *created, nil
}

func (s *Service) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	coupon, err := s.repo.GetCouponByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return domain.Coupon{}, err
	}
	return *coupon, nil
}

func (s *Service) ListCoupons(ctx context.Context, activeOnly bool) ([]domain.Coupon, error) {
	return s.repo.ListCoupons(ctx, activeOnly)
}

func (s *Service) SetCouponActive(ctx context.Context, id string, active bool) (domain.Coupon, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Coupon{}, err
	}
	coupon, err := s.repo.UpdateCouponActive(ctx, id, active)
	if err != nil {
		return domain.Coupon{}, err
	}
	return *coupon, nil
}

func (s *Service) DeleteCoupon(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteCoupon(ctx, id)
}

func (s *Service) CreateDiscount(ctx context.Context, req domain.DiscountCreateRequest) (domain.Discount, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Discount{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Discount{}, store.ErrValidation
	}
	if err := validateDiscountValue(req.DiscountType, req.DiscountPercent, req.AmountCents); err != nil {
		return domain.Discount{}, err
	}
	switch req.ApplicableOn {
	case domain.ApplicableOnTotal, domain.ApplicableOnProductCategory:
	case domain.ApplicableOnSpecificProduct:
		if req.ApplicableProductID == "" {
			return domain.Discount{}, fmt.Errorf("%w: specific-product discount needs a product", store.ErrValidation)
		}
	default:
		return domain.Discount{}, store.ErrValidation
	}
	if !req.ValidUntil.After(req.ValidFrom) {
		return domain.Discount{}, fmt.Errorf("%w: validity window is empty", store.ErrValidation)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	created, err := s.repo.CreateDiscount(ctx, domain.Discount{
		Name:                name,
		Description:         strings.TrimSpace(req.Description),
		DiscountType:        req.DiscountType,
		DiscountPercent:     req.DiscountPercent,
		AmountCents:         req.AmountCents,
		ApplicableOn:        req.ApplicableOn,
		ApplicableProductID: req.ApplicableProductID,
		MinPurchaseCents:    req.MinPurchaseCents,
		MaxDiscountCents:    req.MaxDiscountCents,
		ValidFrom:           req.ValidFrom,
		ValidUntil:          req.ValidUntil,
		Active:              active,
		RequiresCustomer:    req.RequiresCustomer,
	})
	if err != nil {
		return domain.Discount{}, err
	}
	return *created, nil
}

func (s *Service) GetDiscount(ctx context.Context, id string) (domain.Discount, error) {
	discount, err := s.repo.GetDiscountByID(ctx, id)
	if err != nil {
		return domain.Discount{}, err
	}
	return *discount, nil
}

func (s *Service) ListDiscounts(ctx context.Context, activeOnly bool) ([]domain.Discount, error) {
	return s.repo.ListDiscounts(ctx, activeOnly)
}

func (s *Service) SetDiscountActive(ctx context.Context, id string, active bool) (domain.Discount, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Discount{}, err
	}
	discount, err := s.repo.UpdateDiscountActive(ctx, id, active)
	if err != nil {
		return domain.Discount{}, err
	}
	return *discount, nil
}

func (s *Service) DeleteDiscount(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.DeleteDiscount(ctx, id)
}

func validateDiscountValue(discountType string, percent float64, amountCents int64) error {
	switch discountType {
	case domain.DiscountTypePercentage:
		if percent <= 0 || percent > 100 {
			return fmt.Errorf("%w: percentage out of range", store.ErrValidation)
		}
	case domain.DiscountTypeFixedAmount:
		if amountCents < 1 {
			return fmt.Errorf("%w: fixed amount must be positive", store.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown discount type", store.ErrValidation)
	}
	return nil
}

// CreateTicket validates the request, hands the store one atomic draft
// and, for completed sales, fires the notification after commit.
func (s *Service) CreateTicket(ctx context.Context, req domain.CreateTicketRequest) (domain.Ticket, error) {
	if req.Type != domain.TicketTypeSale && req.Type != domain.TicketTypeReturn {
		return domain.Ticket{}, fmt.Errorf("%w: unknown ticket type", store.ErrValidation)
	}
	if len(req.Lines) == 0 {
		return domain.Ticket{}, fmt.Errorf("%w: ticket needs at least one line", store.ErrValidation)
	}
	for _, line := range req.Lines {
		if line.ProductID == "" || line.Quantity < 1 {
			return domain.Ticket{}, store.ErrValidation
		}
		if line.IsDefective && req.Type != domain.TicketTypeReturn {
			return domain.Ticket{}, fmt.Errorf("%w: defective flag only applies to returns", store.ErrValidation)
		}
	}

	customerName := ""
	if req.CustomerID != "" {
		customer, err := s.repo.GetCustomerByID(ctx, req.CustomerID)
		if err != nil {
			return domain.Ticket{}, err
		}
		customerName = customer.DisplayName()
	}

	now := time.Now().UTC()
	draft := domain.TicketDraft{
		Number:     ticketNumber(now),
		Type:       req.Type,
		CustomerID: req.CustomerID,
		CouponCode: strings.ToUpper(strings.TrimSpace(req.CouponCode)),
		DiscountID: req.DiscountID,
		Lines:      req.Lines,
		CreatedAt:  now,
	}

	ticket, err := s.repo.CreateTicket(ctx, draft)
	if err != nil {
		return domain.Ticket{}, err
	}

	if ticket.Type == domain.TicketTypeSale {
		s.notifySale(*ticket, customerName)
	}
	return *ticket, nil
}

// notifySale runs detached from the request: the ticket is already
// committed and must not be failed by the sink.
func (s *Service) notifySale(ticket domain.Ticket, customerName string) {
	summary := notify.SaleSummary{
		TicketNumber: ticket.Number,
		TotalCents:   ticket.TotalCents,
		LineCount:    len(ticket.Lines),
		CustomerName: customerName,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.NotifySale(ctx, summary); err != nil {
			s.logger.Warn("sale notification failed",
				zap.String("ticket_number", summary.TicketNumber),
				zap.Error(err))
		}
	}()
}

func (s *Service) CancelTicket(ctx context.Context, id string) (domain.Ticket, error) {
	ticket, err := s.repo.CancelTicket(ctx, id, time.Now().UTC())
	if err != nil {
		return domain.Ticket{}, err
	}
	return *ticket, nil
}

func (s *Service) BulkAdjustment(ctx context.Context, req domain.BulkAdjustmentRequest) (domain.Ticket, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Ticket{}, err
	}
	if len(req.Adjustments) == 0 {
		return domain.Ticket{}, fmt.Errorf("%w: no adjustments given", store.ErrValidation)
	}
	if strings.TrimSpace(req.Reason) == "" {
		return domain.Ticket{}, fmt.Errorf("%w: adjustment reason required", store.ErrValidation)
	}
	for _, adj := range req.Adjustments {
		if adj.ProductID == "" || adj.Delta == 0 {
			return domain.Ticket{}, store.ErrValidation
		}
	}

	now := time.Now().UTC()
	ticket, err := s.repo.CreateAdjustmentTicket(ctx, ticketNumber(now), req, now)
	if err != nil {
		return domain.Ticket{}, err
	}
	s.logger.Info("bulk adjustment applied",
		zap.String("ticket_number", ticket.Number),
		zap.Int("entries", len(req.Adjustments)),
		zap.String("reason", strings.TrimSpace(req.Reason)))
	return *ticket, nil
}

func (s *Service) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	ticket, err := s.repo.GetTicketByID(ctx, id)
	if err != nil {
		return domain.Ticket{}, err
	}
	return *ticket, nil
}

func (s *Service) GetTicketByNumber(ctx context.Context, number string) (domain.Ticket, error) {
	ticket, err := s.repo.GetTicketByNumber(ctx, number)
	if err != nil {
		return domain.Ticket{}, err
	}
	return *ticket, nil
}

func (s *Service) ListRecentTickets(ctx context.Context, limit int) ([]domain.Ticket, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListRecentTickets(ctx, limit)
}

func (s *Service) ListTicketsByCustomer(ctx context.Context, customerID string) ([]domain.Ticket, error) {
	return s.repo.ListTicketsByCustomer(ctx, customerID)
}

func (s *Service) GetStock(ctx context.Context, productID string) (int, error) {
	return s.repo.GetStock(ctx, productID)
}

func (s *Service) ListMovementsByTicket(ctx context.Context, ticketID string) ([]domain.StockMovement, error) {
	return s.repo.ListMovementsByTicket(ctx, ticketID)
}

func (s *Service) ListMovementsByProduct(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListMovementsByProduct(ctx, productID, limit)
}

func (s *Service) OpenCashSession(ctx context.Context) (domain.CashSession, error) {
	session, err := s.repo.OpenCashSession(ctx, time.Now().UTC())
	if err != nil {
		return domain.CashSession{}, err
	}
	s.logger.Info("cash session opened", zap.String("session_id", session.ID))
	return *session, nil
}

func (s *Service) CurrentOpenSession(ctx context.Context) (domain.CashSession, error) {
	session, err := s.repo.CurrentOpenSession(ctx)
	if err != nil {
		return domain.CashSession{}, err
	}
	return *session, nil
}

func (s *Service) CloseCashSession(ctx context.Context, id string) (domain.CashSession, error) {
	session, err := s.repo.CloseCashSession(ctx, id, time.Now().UTC())
	if err != nil {
		return domain.CashSession{}, err
	}
	s.logger.Info("cash session closed",
		zap.String("session_id", session.ID),
		zap.Int64("net_cents", session.NetAmountCents))
	return *session, nil
}

func (s *Service) ReconcileCashSession(ctx context.Context, id string) (domain.CashSession, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CashSession{}, err
	}
	session, err := s.repo.ReconcileCashSession(ctx, id)
	if err != nil {
		return domain.CashSession{}, err
	}
	s.logger.Info("cash session reconciled", zap.String("session_id", session.ID))
	return *session, nil
}

func (s *Service) ListPendingCashSessions(ctx context.Context) ([]domain.CashSession, error) {
	return s.repo.ListPendingCashSessions(ctx)
}

func (s *Service) GetCashSession(ctx context.Context, id string) (domain.CashSession, error) {
	session, err := s.repo.GetCashSessionByID(ctx, id)
	if err != nil {
		return domain.CashSession{}, err
	}
	return *session, nil
}

func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (domain.PurchaseOrder, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if req.SupplierID == "" || len(req.Lines) == 0 {
		return domain.PurchaseOrder{}, store.ErrValidation
	}
	for _, line := range req.Lines {
		if line.ProductID == "" || line.QuantityOrdered < 1 || line.UnitCostCents < 0 {
			return domain.PurchaseOrder{}, store.ErrValidation
		}
	}
	if _, err := s.repo.GetSupplierByID(ctx, req.SupplierID); err != nil {
		return domain.PurchaseOrder{}, err
	}

	now := time.Now().UTC()
	created, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		Number:     purchaseOrderNumber(now),
		SupplierID: req.SupplierID,
		CreatedAt:  now,
		Lines:      req.Lines,
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *created, nil
}

func (s *Service) ReceivePurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrder{}, err
	}
	po, err := s.repo.ReceivePurchaseOrder(ctx, id, time.Now().UTC())
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	s.logger.Info("purchase order received",
		zap.String("po_number", po.Number),
		zap.Int("lines", len(po.Lines)))
	return *po, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	po, err := s.repo.GetPurchaseOrderByID(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *po, nil
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListPurchaseOrders(ctx, status, limit)
}

// ticketNumber derives the human-readable number from the creation
// time in milliseconds, keeping the trailing digits that change
// between tickets.
func ticketNumber(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 5 {
		ms = ms[5:]
	}
	return "TICKET-" + ms
}

func purchaseOrderNumber(now time.Time) string {
	return "PO-" + strconv.FormatInt(now.UnixMilli(), 10)
}
