package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"smartpos/backend/internal/domain"
	"smartpos/backend/internal/ledger"
	"smartpos/backend/internal/pricing"
	"smartpos/backend/internal/promotion"
	"smartpos/backend/internal/store"
	"smartpos/backend/internal/xid"
)

// Store is the in-memory Repository used for tests and dev mode. One
// RWMutex over the whole store serializes every multi-row mutation,
// which gives the same atomicity the Postgres store gets from
// serializable transactions.
type Store struct {
	mu                 sync.RWMutex
	productsByID       map[string]domain.Product
	productIDByCode    map[string]string
	customersByID      map[string]domain.Customer
	suppliersByID      map[string]domain.Supplier
	couponsByID        map[string]domain.Coupon
	couponIDByCode     map[string]string
	discountsByID      map[string]domain.Discount
	stock              map[string]int
	movements          []domain.StockMovement
	ticketsByID        map[string]domain.Ticket
	ticketIDByNumber   map[string]string
	sessionsByID       map[string]domain.CashSession
	purchaseOrdersByID map[string]domain.PurchaseOrder
	usersByUsername    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		productsByID:       make(map[string]domain.Product),
		productIDByCode:    make(map[string]string),
		customersByID:      make(map[string]domain.Customer),
		suppliersByID:      make(map[string]domain.Supplier),
		couponsByID:        make(map[string]domain.Coupon),
		couponIDByCode:     make(map[string]string),
		discountsByID:      make(map[string]domain.Discount),
		stock:              make(map[string]int),
		movements:          make([]domain.StockMovement, 0, 128),
		ticketsByID:        make(map[string]domain.Ticket),
		ticketIDByNumber:   make(map[string]string),
		sessionsByID:       make(map[string]domain.CashSession),
		purchaseOrdersByID: make(map[string]domain.PurchaseOrder),
		usersByUsername:    seedUsers(),
	}
}

// seedUsers builds the initial user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// hardcoded dev defaults apply when unset, with a warning. Production
// runs against PostgreSQL and never reaches this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Code == "" || product.Name == "" || product.SalePriceCents < 1 {
		return nil, store.ErrValidation
	}
	if _, exists := s.productIDByCode[product.Code]; exists {
		return nil, store.ErrConflict
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	s.productsByID[product.ID] = product
	s.productIDByCode[product.Code] = product.ID
	s.stock[product.ID] = 0
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) GetProductByCode(_ context.Context, code string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.productIDByCode[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := s.productsByID[id]
	return &copyProduct, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.productsByID[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.SalePriceCents < 1 {
		return nil, store.ErrValidation
	}

	product.Code = current.Code
	product.CreatedAt = current.CreatedAt
	s.productsByID[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.productsByID[id]
	if !exists {
		return store.ErrNotFound
	}
	delete(s.productsByID, id)
	delete(s.productIDByCode, product.Code)
	delete(s.stock, id)
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.FirstName == "" && customer.LastName == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cst")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.LastName+a.FirstName, b.LastName+b.FirstName)
	})
	return customers, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customersByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.customersByID, id)
	return nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.Name == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliersByID[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplierByID(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, exists := s.suppliersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySupplier := supplier
	return &copySupplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, sp := range s.suppliersByID {
		suppliers = append(suppliers, sp)
	}
	slices.SortFunc(suppliers, func(a, b domain.Supplier) int {
		return cmpString(a.Name, b.Name)
	})
	return suppliers, nil
}

func (s *Store) CreateCoupon(_ context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if coupon.Code == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.couponIDByCode[coupon.Code]; exists {
		return nil, store.ErrConflict
	}
	if coupon.ID == "" {
		coupon.ID = xid.New("cpn")
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}
	s.couponsByID[coupon.ID] = coupon
	s.couponIDByCode[coupon.Code] = coupon.ID
	created := coupon
	return &created, nil
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.couponIDByCode[code]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCoupon := s.couponsByID[id]
	return &copyCoupon, nil
}

func (s *Store) ListCoupons(_ context.Context, activeOnly bool) ([]domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coupons := make([]domain.Coupon, 0, len(s.couponsByID))
	for _, c := range s.couponsByID {
		if activeOnly && !c.Active {
			continue
		}
		coupons = append(coupons, c)
	}
	slices.SortFunc(coupons, func(a, b domain.Coupon) int {
		return cmpString(a.Code, b.Code)
	})
	return coupons, nil
}

func (s *Store) UpdateCouponActive(_ context.Context, id string, active bool) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupon, exists := s.couponsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	coupon.Active = active
	s.couponsByID[id] = coupon
	updated := coupon
	return &updated, nil
}

func (s *Store) DeleteCoupon(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupon, exists := s.couponsByID[id]
	if !exists {
		return store.ErrNotFound
	}
	delete(s.couponsByID, id)
	delete(s.couponIDByCode, coupon.Code)
	return nil
}

func (s *Store) CreateDiscount(_ context.Context, discount domain.Discount) (*domain.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if discount.Name == "" {
		return nil, store.ErrValidation
	}
	if discount.ID == "" {
		discount.ID = xid.New("dsc")
	}
	if discount.CreatedAt.IsZero() {
		discount.CreatedAt = time.Now().UTC()
	}
	s.discountsByID[discount.ID] = discount
	created := discount
	return &created, nil
}

func (s *Store) GetDiscountByID(_ context.Context, id string) (*domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	discount, exists := s.discountsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyDiscount := discount
	return &copyDiscount, nil
}

func (s *Store) ListDiscounts(_ context.Context, activeOnly bool) ([]domain.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	discounts := make([]domain.Discount, 0, len(s.discountsByID))
	for _, d := range s.discountsByID {
		if activeOnly && !d.Active {
			continue
		}
		discounts = append(discounts, d)
	}
	slices.SortFunc(discounts, func(a, b domain.Discount) int {
		return cmpString(a.Name, b.Name)
	})
	return discounts, nil
}

func (s *Store) UpdateDiscountActive(_ context.Context, id string, active bool) (*domain.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	discount, exists := s.discountsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	discount.Active = active
	s.discountsByID[id] = discount
	updated := discount
	return &updated, nil
}

func (s *Store) DeleteDiscount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.discountsByID[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.discountsByID, id)
	return nil
}

func (s *Store) GetStock(_ context.Context, productID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.productsByID[productID]; !exists {
		return 0, store.ErrNotFound
	}
	return s.stock[productID], nil
}

func (s *Store) ListMovementsByTicket(_ context.Context, ticketID string) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 8)
	for _, m := range s.movements {
		if m.TicketID == ticketID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *Store) ListMovementsByProduct(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, 16)
	for _, m := range s.movements {
		if m.ProductID == productID {
			result = append(result, m)
		}
	}
	slices.SortFunc(result, func(a, b domain.StockMovement) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CreateTicket executes the whole ticket unit of work under one write
// lock. Validation and pricing run first against unmodified state, so
// any failure returns before a single row changes.
func (s *Store) CreateTicket(_ context.Context, draft domain.TicketDraft) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := draft.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	products := make(map[string]domain.Product, len(draft.Lines))
	for _, line := range draft.Lines {
		p, exists := s.productsByID[line.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		products[line.ProductID] = p
	}

	sessionID := ""
	if session := s.openSessionLocked(); session != nil {
		if session.Reconciled {
			return nil, store.ErrSessionReconciled
		}
		sessionID = session.ID
	}

	ticketID := xid.New("tkt")
	lines := make([]domain.TicketLine, 0, len(draft.Lines))
	for _, lr := range draft.Lines {
		p := products[lr.ProductID]
		priced := pricing.PriceLine(p, lr.Quantity, draft.Type)
		lines = append(lines, domain.TicketLine{
			ID:             xid.New("tkl"),
			TicketID:       ticketID,
			ProductID:      p.ID,
			ProductName:    p.Name,
			Quantity:       lr.Quantity,
			UnitPriceCents: priced.UnitPriceCents,
			TaxRatePercent: p.TaxRatePercent,
			SubtotalCents:  priced.SubtotalCents,
			TaxCents:       priced.TaxCents,
			IsDefective:    lr.IsDefective,
		})
	}
	subtotal, tax := pricing.Aggregate(lines)

	var totalDiscount int64
	var appliedCouponID string
	if draft.CouponCode != "" {
		couponID, exists := s.couponIDByCode[draft.CouponCode]
		if !exists {
			return nil, store.ErrNotFound
		}
		amount, err := promotion.CouponDiscount(s.couponsByID[couponID], subtotal, now)
		if err != nil {
			return nil, err
		}
		totalDiscount += amount
		appliedCouponID = couponID
	}
	if draft.DiscountID != "" {
		discount, exists := s.discountsByID[draft.DiscountID]
		if !exists {
			return nil, store.ErrNotFound
		}
		amount, err := promotion.DiscountAmount(discount, subtotal, draft.CustomerID != "", now)
		if err != nil {
			return nil, err
		}
		totalDiscount += amount
	}

	// Mutation phase: everything below must succeed.
	for _, line := range lines {
		m := ledger.NewMovement(xid.New("mvt"), ticketID, line.ProductID, line.Quantity, draft.Type, line.IsDefective, now)
		s.movements = append(s.movements, m)
		s.stock[line.ProductID] += m.QuantityChange
	}
	if appliedCouponID != "" {
		coupon := s.couponsByID[appliedCouponID]
		coupon.CurrentUsageCount++
		s.couponsByID[appliedCouponID] = coupon
	}

	ticket := domain.Ticket{
		ID:            ticketID,
		Number:        draft.Number,
		Type:          draft.Type,
		Status:        domain.TicketStatusCompleted,
		SubtotalCents: subtotal,
		TaxCents:      tax,
		DiscountCents: totalDiscount,
		TotalCents:    pricing.Total(subtotal, tax, totalDiscount),
		CustomerID:    draft.CustomerID,
		CashSessionID: sessionID,
		CouponCode:    draft.CouponCode,
		CreatedAt:     now,
		Lines:         lines,
	}
	s.ticketsByID[ticketID] = ticket
	s.ticketIDByNumber[ticket.Number] = ticketID
	return cloneTicket(ticket), nil
}

func (s *Store) CancelTicket(_ context.Context, ticketID string, at time.Time) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, exists := s.ticketsByID[ticketID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if ticket.Status == domain.TicketStatusCancelled {
		return nil, store.ErrTicketCancelled
	}

	// Counterbalance with new movements; originals stay untouched.
	reversals := make([]domain.StockMovement, 0, 4)
	for _, m := range s.movements {
		if m.TicketID != ticketID || m.Type == domain.MovementAdjustment {
			continue
		}
		delta := ledger.Reversal(m)
		if delta == 0 {
			continue
		}
		reversals = append(reversals, ledger.NewMovement(xid.New("mvt"), ticketID, m.ProductID, delta, domain.MovementAdjustment, false, at))
	}
	for _, r := range reversals {
		s.movements = append(s.movements, r)
		s.stock[r.ProductID] += r.QuantityChange
	}

	ticket.Status = domain.TicketStatusCancelled
	s.ticketsByID[ticketID] = ticket
	return cloneTicket(ticket), nil
}

func (s *Store) CreateAdjustmentTicket(_ context.Context, number string, req domain.BulkAdjustmentRequest, at time.Time) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at.IsZero() {
		at = time.Now().UTC()
	}

	// The same product may appear in several entries; the guard holds
	// for the folded delta, not each entry in isolation.
	folded := make(map[string]int, len(req.Adjustments))
	for _, adj := range req.Adjustments {
		if _, exists := s.productsByID[adj.ProductID]; !exists {
			return nil, store.ErrNotFound
		}
		folded[adj.ProductID] += adj.Delta
	}
	for productID, delta := range folded {
		if s.stock[productID]+delta < 0 {
			return nil, store.ErrInsufficientStock
		}
	}

	ticketID := xid.New("tkt")
	lines := make([]domain.TicketLine, 0, len(req.Adjustments))
	for _, adj := range req.Adjustments {
		p := s.productsByID[adj.ProductID]
		m := ledger.NewMovement(xid.New("mvt"), ticketID, adj.ProductID, adj.Delta, domain.MovementAdjustment, false, at)
		s.movements = append(s.movements, m)
		s.stock[adj.ProductID] += m.QuantityChange
		lines = append(lines, domain.TicketLine{
			ID:             xid.New("tkl"),
			TicketID:       ticketID,
			ProductID:      p.ID,
			ProductName:    p.Name,
			Quantity:       m.Quantity,
			UnitPriceCents: p.PurchasePriceCents,
			TaxRatePercent: 0,
		})
	}

	ticket := domain.Ticket{
		ID:        ticketID,
		Number:    number,
		Type:      domain.TicketTypeReturn,
		Status:    domain.TicketStatusCompleted,
		CreatedAt: at,
		Lines:     lines,
	}
	s.ticketsByID[ticketID] = ticket
	s.ticketIDByNumber[number] = ticketID
	return cloneTicket(ticket), nil
}

func (s *Store) GetTicketByID(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticket, exists := s.ticketsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneTicket(ticket), nil
}

func (s *Store) GetTicketByNumber(_ context.Context, number string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.ticketIDByNumber[number]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneTicket(s.ticketsByID[id]), nil
}

func (s *Store) ListRecentTickets(_ context.Context, limit int) ([]domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tickets := make([]domain.Ticket, 0, len(s.ticketsByID))
	for _, t := range s.ticketsByID {
		tickets = append(tickets, *cloneTicket(t))
	}
	slices.SortFunc(tickets, func(a, b domain.Ticket) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}
	return tickets, nil
}

func (s *Store) ListTicketsByCustomer(_ context.Context, customerID string) ([]domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tickets := make([]domain.Ticket, 0, 8)
	for _, t := range s.ticketsByID {
		if t.CustomerID == customerID {
			tickets = append(tickets, *cloneTicket(t))
		}
	}
	slices.SortFunc(tickets, func(a, b domain.Ticket) int {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return tickets, nil
}

func (s *Store) OpenCashSession(_ context.Context, at time.Time) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if open := s.openSessionLocked(); open != nil && !open.Reconciled {
		return nil, store.ErrSessionAlreadyOpen
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	session := domain.CashSession{
		ID:       xid.New("css"),
		OpenedAt: at,
	}
	s.sessionsByID[session.ID] = session
	created := session
	return &created, nil
}

func (s *Store) CurrentOpenSession(_ context.Context) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session := s.openSessionLocked()
	if session == nil {
		return nil, store.ErrNotFound
	}
	return session, nil
}

// openSessionLocked returns the open session with the earliest
// openedAt, reconciled or not. Caller holds the lock.
func (s *Store) openSessionLocked() *domain.CashSession {
	var open *domain.CashSession
	for _, session := range s.sessionsByID {
		if session.ClosedAt != nil {
			continue
		}
		if open == nil || session.OpenedAt.Before(open.OpenedAt) {
			copySession := session
			open = &copySession
		}
	}
	return open
}

func (s *Store) CloseCashSession(_ context.Context, sessionID string, at time.Time) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if session.ClosedAt != nil {
		return nil, store.ErrSessionClosed
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var sales, returns int64
	for _, t := range s.ticketsByID {
		if t.CashSessionID != sessionID || t.Status != domain.TicketStatusCompleted {
			continue
		}
		switch t.Type {
		case domain.TicketTypeSale:
			sales += t.TotalCents
		case domain.TicketTypeReturn:
			returns += t.TotalCents
		}
	}

	session.ClosedAt = &at
	session.TotalSalesCents = sales
	session.TotalReturnsCents = returns
	session.NetAmountCents = sales - returns
	s.sessionsByID[sessionID] = session
	closed := session
	return &closed, nil
}

func (s *Store) ReconcileCashSession(_ context.Context, sessionID string) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if session.ClosedAt == nil {
		return nil, store.ErrSessionNotClosed
	}
	if session.Reconciled {
		return nil, store.ErrSessionReconciled
	}
	session.Reconciled = true
	s.sessionsByID[sessionID] = session
	reconciled := session
	return &reconciled, nil
}

func (s *Store) ListPendingCashSessions(_ context.Context) ([]domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]domain.CashSession, 0, 4)
	for _, session := range s.sessionsByID {
		if session.ClosedAt != nil && !session.Reconciled {
			pending = append(pending, session)
		}
	}
	slices.SortFunc(pending, func(a, b domain.CashSession) int {
		if a.ClosedAt.After(*b.ClosedAt) {
			return -1
		}
		return 1
	})
	return pending, nil
}

func (s *Store) GetCashSessionByID(_ context.Context, id string) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if po.SupplierID == "" || len(po.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.suppliersByID[po.SupplierID]; !exists {
		return nil, store.ErrNotFound
	}
	for _, line := range po.Lines {
		if _, exists := s.productsByID[line.ProductID]; !exists {
			return nil, store.ErrNotFound
		}
		if line.QuantityOrdered < 1 {
			return nil, store.ErrValidation
		}
	}
	if po.ID == "" {
		po.ID = xid.New("pur")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	po.Status = domain.PurchaseOrderStatusOrdered
	s.purchaseOrdersByID[po.ID] = po
	return clonePurchaseOrder(po), nil
}

func (s *Store) GetPurchaseOrderByID(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	po, exists := s.purchaseOrdersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return clonePurchaseOrder(po), nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.PurchaseOrder, 0, len(s.purchaseOrdersByID))
	for _, po := range s.purchaseOrdersByID {
		if status != "" && po.Status != status {
			continue
		}
		orders = append(orders, *clonePurchaseOrder(po))
	}
	slices.SortFunc(orders, func(a, b domain.PurchaseOrder) int {
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, id string, at time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, exists := s.purchaseOrdersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if po.Status == domain.PurchaseOrderStatusReceived {
		return nil, store.ErrAlreadyReceived
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	for _, line := range po.Lines {
		s.stock[line.ProductID] += line.QuantityOrdered
	}
	po.Status = domain.PurchaseOrderStatusReceived
	po.ReceivedAt = &at
	s.purchaseOrdersByID[id] = po
	return clonePurchaseOrder(po), nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func cloneTicket(t domain.Ticket) *domain.Ticket {
	copyTicket := t
	copyTicket.Lines = make([]domain.TicketLine, len(t.Lines))
	copy(copyTicket.Lines, t.Lines)
	return &copyTicket
}

func clonePurchaseOrder(po domain.PurchaseOrder) *domain.PurchaseOrder {
	copyPO := po
	copyPO.Lines = make([]domain.PurchaseOrderLine, len(po.Lines))
	copy(copyPO.Lines, po.Lines)
	return &copyPO
}

func cmpString(a, b string) int {
	return strings.Compare(a, b)
}
