package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"smartpos/backend/internal/domain"
	"smartpos/backend/internal/ledger"
	"smartpos/backend/internal/pricing"
	"smartpos/backend/internal/promotion"
	"smartpos/backend/internal/store"
	"smartpos/backend/internal/xid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry re-runs fn when the enclosed serializable transaction was
// the loser of a serialization conflict or deadlock.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}
		break
	}
	return err
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Code == "" || product.Name == "" || product.SalePriceCents < 1 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, code, name, description, category, supplier_id,
			purchase_price_cents, sale_price_cents, tax_rate_percent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.Code, product.Name, product.Description, product.Category,
		nullIfEmpty(product.SupplierID), product.PurchasePriceCents, product.SalePriceCents,
		product.TaxRatePercent, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	// Every product starts with a stock row at zero.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO current_stock (product_id, quantity, updated_at)
		VALUES ($1, 0, now())
	`, product.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := product
	return &created, nil
}

const productColumns = `id, code, name, description, category, COALESCE(supplier_id,''),
	purchase_price_cents, sale_price_cents, tax_rate_percent, created_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.Category, &p.SupplierID,
		&p.PurchasePriceCents, &p.SalePriceCents, &p.TaxRatePercent, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE code = $1`, code)
	return scanProduct(row)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SalePriceCents < 1 {
		return nil, store.ErrValidation
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, category = $4,
			purchase_price_cents = $5, sale_price_cents = $6, tax_rate_percent = $7
		WHERE id = $1
		RETURNING `+productColumns+`
	`, product.ID, product.Name, product.Description, product.Category,
		product.PurchasePriceCents, product.SalePriceCents, product.TaxRatePercent)
	return scanProduct(row)
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.FirstName == "" && customer.LastName == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cst")
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, first_name, last_name, email, phone, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, customer.ID, customer.FirstName, customer.LastName, customer.Email, customer.Phone, customer.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, phone, created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, first_name, last_name, email, phone, created_at
		FROM customers
		ORDER BY last_name, first_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.Name == "" {
		return nil, store.ErrValidation
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.Email, supplier.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := supplier
	return &created, nil
}

func (s *Store) GetSupplierByID(ctx context.Context, id string) (*domain.Supplier, error) {
	var sp domain.Supplier
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM suppliers
		WHERE id = $1
	`, id).Scan(&sp.ID, &sp.Name, &sp.Phone, &sp.Email, &sp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sp.CreatedAt = sp.CreatedAt.UTC()
	return &sp, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM suppliers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var sp domain.Supplier
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.Phone, &sp.Email, &sp.CreatedAt); err != nil {
			return nil, err
		}
		sp.CreatedAt = sp.CreatedAt.UTC()
		suppliers = append(suppliers, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return suppliers, nil
}

const couponColumns = `id, code, description, discount_type, discount_percent, amount_cents,
	min_purchase_cents, max_discount_cents, valid_from, valid_until, active,
	max_usage_count, current_usage_count, created_at`

func scanCoupon(row interface{ Scan(...any) error }) (*domain.Coupon, error) {
	var c domain.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.Description, &c.DiscountType, &c.DiscountPercent,
		&c.AmountCents, &c.MinPurchaseCents, &c.MaxDiscountCents, &c.ValidFrom, &c.ValidUntil,
		&c.Active, &c.MaxUsageCount, &c.CurrentUsageCount, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.ValidFrom = c.ValidFrom.UTC()
	c.ValidUntil = c.ValidUntil.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	if coupon.Code == "" {
		return nil, store.ErrValidation
	}
	if coupon.ID == "" {
		coupon.ID = xid.New("cpn")
	}
	if coupon.CreatedAt.IsZero() {
		coupon.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupons (id, code, description, discount_type, discount_percent, amount_cents,
			min_purchase_cents, max_discount_cents, valid_from, valid_until, active,
			max_usage_count, current_usage_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, coupon.ID, coupon.Code, coupon.Description, coupon.DiscountType, coupon.DiscountPercent,
		coupon.AmountCents, coupon.MinPurchaseCents, coupon.MaxDiscountCents, coupon.ValidFrom,
		coupon.ValidUntil, coupon.Active, coupon.MaxUsageCount, coupon.CurrentUsageCount, coupon.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := coupon
	return &created, nil
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code)
	return scanCoupon(row)
}

func (s *Store) ListCoupons(ctx context.Context, activeOnly bool) ([]domain.Coupon, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE ($1 = false OR active = true)
		ORDER BY code
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coupons := make([]domain.Coupon, 0, 32)
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return coupons, nil
}

func (s *Store) UpdateCouponActive(ctx context.Context, id string, active bool) (*domain.Coupon, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE coupons SET active = $2 WHERE id = $1
		RETURNING `+couponColumns+`
	`, id, active)
	return scanCoupon(row)
}

func (s *Store) DeleteCoupon(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM coupons WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const discountColumns = `id, name, description, discount_type, discount_percent, amount_cents,
	applicable_on, COALESCE(applicable_product_id,''), min_purchase_cents, max_discount_cents,
	valid_from, valid_until, active, requires_customer, created_at`

func scanDiscount(row interface{ Scan(...any) error }) (*domain.Discount, error) {
	var d domain.Discount
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.DiscountType, &d.DiscountPercent,
		&d.AmountCents, &d.ApplicableOn, &d.ApplicableProductID, &d.MinPurchaseCents,
		&d.MaxDiscountCents, &d.ValidFrom, &d.ValidUntil, &d.Active, &d.RequiresCustomer, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	d.ValidFrom = d.ValidFrom.UTC()
	d.ValidUntil = d.ValidUntil.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func (s *Store) CreateDiscount(ctx context.Context, discount domain.Discount) (*domain.Discount, error) {
	if discount.Name == "" {
		return nil, store.ErrValidation
	}
	if discount.ID == "" {
		discount.ID = xid.New("dsc")
	}
	if discount.CreatedAt.IsZero() {
		discount.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discounts (id, name, description, discount_type, discount_percent, amount_cents,
			applicable_on, applicable_product_id, min_purchase_cents, max_discount_cents,
			valid_from, valid_until, active, requires_customer, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, discount.ID, discount.Name, discount.Description, discount.DiscountType, discount.DiscountPercent,
		discount.AmountCents, discount.ApplicableOn, nullIfEmpty(discount.ApplicableProductID),
		discount.MinPurchaseCents, discount.MaxDiscountCents, discount.ValidFrom, discount.ValidUntil,
		discount.Active, discount.RequiresCustomer, discount.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := discount
	return &created, nil
}

func (s *Store) GetDiscountByID(ctx context.Context, id string) (*domain.Discount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1`, id)
	return scanDiscount(row)
}

func (s *Store) ListDiscounts(ctx context.Context, activeOnly bool) ([]domain.Discount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+discountColumns+`
		FROM discounts
		WHERE ($1 = false OR active = true)
		ORDER BY name
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	discounts := make([]domain.Discount, 0, 32)
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		discounts = append(discounts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return discounts, nil
}

func (s *Store) UpdateDiscountActive(ctx context.Context, id string, active bool) (*domain.Discount, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE discounts SET active = $2 WHERE id = $1
		RETURNING `+discountColumns+`
	`, id, active)
	return scanDiscount(row)
}

func (s *Store) DeleteDiscount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM discounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetStock(ctx context.Context, productID string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT quantity FROM current_stock WHERE product_id = $1
	`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return qty, nil
}

const movementColumns = `id, ticket_id, product_id, quantity, quantity_change, movement_type, is_defective, created_at`

func scanMovements(rows *sql.Rows) ([]domain.StockMovement, error) {
	movements := make([]domain.StockMovement, 0, 8)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.TicketID, &m.ProductID, &m.Quantity, &m.QuantityChange,
			&m.Type, &m.IsDefective, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) ListMovementsByTicket(ctx context.Context, ticketID string) ([]domain.StockMovement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE ticket_id = $1
		ORDER BY created_at, id
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

func (s *Store) ListMovementsByProduct(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// CreateTicket runs the whole unit of work in one serializable
// transaction: price lines, resolve the open session, validate
// promotions against the locked coupon row, write ticket, lines and
// movements, and apply stock deltas to FOR UPDATE locked stock rows.
func (s *Store) CreateTicket(ctx context.Context, draft domain.TicketDraft) (*domain.Ticket, error) {
	var ticket *domain.Ticket
	err := s.withRetry(ctx, func() error {
		t, err := s.createTicketTx(ctx, draft)
		if err != nil {
			return err
		}
		ticket = t
		return nil
	})
	return ticket, err
}

func (s *Store) createTicketTx(ctx context.Context, draft domain.TicketDraft) (*domain.Ticket, error) {
	now := draft.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	productIDs := uniqueProductIDs(draft.Lines)
	products, err := productsByID(ctx, tx, productIDs)
	if err != nil {
		return nil, err
	}
	for _, line := range draft.Lines {
		if _, ok := products[line.ProductID]; !ok {
			return nil, store.ErrNotFound
		}
	}

	sessionID := ""
	{
		var id string
		var reconciled bool
		err := tx.QueryRowContext(ctx, `
			SELECT id, reconciled
			FROM cash_sessions
			WHERE closed_at IS NULL
			ORDER BY opened_at
			LIMIT 1
		`).Scan(&id, &reconciled)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil {
			if reconciled {
				return nil, store.ErrSessionReconciled
			}
			sessionID = id
		}
	}

	stock, err := lockStockRows(ctx, tx, productIDs)
	if err != nil {
		return nil, err
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
		row := tx.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1 FOR UPDATE`, draft.CouponCode)
		coupon, err := scanCoupon(row)
		if err != nil {
			return nil, err
		}
		amount, err := promotion.CouponDiscount(*coupon, subtotal, now)
		if err != nil {
			return nil, err
		}
		totalDiscount += amount
		appliedCouponID = coupon.ID
	}
	if draft.DiscountID != "" {
		row := tx.QueryRowContext(ctx, `SELECT `+discountColumns+` FROM discounts WHERE id = $1`, draft.DiscountID)
		discount, err := scanDiscount(row)
		if err != nil {
			return nil, err
		}
		amount, err := promotion.DiscountAmount(*discount, subtotal, draft.CustomerID != "", now)
		if err != nil {
			return nil, err
		}
		totalDiscount += amount
	}

	total := pricing.Total(subtotal, tax, totalDiscount)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (id, number, ticket_type, status, subtotal_cents, tax_cents,
			discount_cents, total_cents, customer_id, cash_session_id, coupon_code, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, ticketID, draft.Number, draft.Type, domain.TicketStatusCompleted, subtotal, tax,
		totalDiscount, total, nullIfEmpty(draft.CustomerID), nullIfEmpty(sessionID),
		nullIfEmpty(draft.CouponCode), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	stockDelta := make(map[string]int, len(productIDs))
	for _, line := range lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ticket_lines (id, ticket_id, product_id, product_name, quantity,
				unit_price_cents, tax_rate_percent, subtotal_cents, tax_cents, is_defective)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, line.ID, line.TicketID, line.ProductID, line.ProductName, line.Quantity,
			line.UnitPriceCents, line.TaxRatePercent, line.SubtotalCents, line.TaxCents, line.IsDefective)
		if err != nil {
			return nil, err
		}

		m := ledger.NewMovement(xid.New("mvt"), ticketID, line.ProductID, line.Quantity, draft.Type, line.IsDefective, now)
		if err := insertMovement(ctx, tx, m); err != nil {
			return nil, err
		}
		stockDelta[line.ProductID] += m.QuantityChange
	}
	if err := applyStockDeltas(ctx, tx, stock, stockDelta); err != nil {
		return nil, err
	}

	if appliedCouponID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE coupons SET current_usage_count = current_usage_count + 1 WHERE id = $1
		`, appliedCouponID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.Ticket{
		ID:            ticketID,
		Number:        draft.Number,
		Type:          draft.Type,
		Status:        domain.TicketStatusCompleted,
		SubtotalCents: subtotal,
		TaxCents:      tax,
		DiscountCents: totalDiscount,
		TotalCents:    total,
		CustomerID:    draft.CustomerID,
		CashSessionID: sessionID,
		CouponCode:    draft.CouponCode,
		CreatedAt:     now,
		Lines:         lines,
	}, nil
}

func (s *Store) CancelTicket(ctx context.Context, ticketID string, at time.Time) (*domain.Ticket, error) {
	var ticket *domain.Ticket
	err := s.withRetry(ctx, func() error {
		t, err := s.cancelTicketTx(ctx, ticketID, at)
		if err != nil {
			return err
		}
		ticket = t
		return nil
	})
	return ticket, err
}

func (s *Store) cancelTicketTx(ctx context.Context, ticketID string, at time.Time) (*domain.Ticket, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1 FOR UPDATE`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		return nil, err
	}
	if ticket.Status == domain.TicketStatusCancelled {
		return nil, store.ErrTicketCancelled
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM stock_movements
		WHERE ticket_id = $1
		ORDER BY created_at, id
	`, ticketID)
	if err != nil {
		return nil, err
	}
	movements, err := scanMovements(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	stockDelta := make(map[string]int, len(movements))
	for _, m := range movements {
		if delta := ledger.Reversal(m); delta != 0 {
			stockDelta[m.ProductID] += delta
		}
	}

	productIDs := make([]string, 0, len(stockDelta))
	for id := range stockDelta {
		productIDs = append(productIDs, id)
	}
	sort.Strings(productIDs)

	stock, err := lockStockRows(ctx, tx, productIDs)
	if err != nil {
		return nil, err
	}
	for _, productID := range productIDs {
		delta := stockDelta[productID]
		m := ledger.NewMovement(xid.New("mvt"), ticketID, productID, delta, domain.MovementAdjustment, false, at)
		if err := insertMovement(ctx, tx, m); err != nil {
			return nil, err
		}
	}
	if err := applyStockDeltas(ctx, tx, stock, stockDelta); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE tickets SET status = $2 WHERE id = $1`, ticketID, domain.TicketStatusCancelled)
	if err != nil {
		return nil, err
	}

	lines, err := ticketLines(ctx, tx, ticketID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	ticket.Status = domain.TicketStatusCancelled
	ticket.Lines = lines
	return ticket, nil
}

func (s *Store) CreateAdjustmentTicket(ctx context.Context, number string, req domain.BulkAdjustmentRequest, at time.Time) (*domain.Ticket, error) {
	var ticket *domain.Ticket
	err := s.withRetry(ctx, func() error {
		t, err := s.createAdjustmentTx(ctx, number, req, at)
		if err != nil {
			return err
		}
		ticket = t
		return nil
	})
	return ticket, err
}

func (s *Store) createAdjustmentTx(ctx context.Context, number string, req domain.BulkAdjustmentRequest, at time.Time) (*domain.Ticket, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	productIDs := make([]string, 0, len(req.Adjustments))
	for _, adj := range req.Adjustments {
		productIDs = append(productIDs, adj.ProductID)
	}
	sort.Strings(productIDs)

	products, err := productsByID(ctx, tx, productIDs)
	if err != nil {
		return nil, err
	}
	for _, adj := range req.Adjustments {
		if _, ok := products[adj.ProductID]; !ok {
			return nil, store.ErrNotFound
		}
	}

	stock, err := lockStockRows(ctx, tx, productIDs)
	if err != nil {
		return nil, err
	}
	// The same product may appear in several entries; the guard holds
	// for the folded delta, not each entry in isolation.
	folded := make(map[string]int, len(req.Adjustments))
	for _, adj := range req.Adjustments {
		folded[adj.ProductID] += adj.Delta
	}
	for productID, delta := range folded {
		if stock[productID]+delta < 0 {
			return nil, store.ErrInsufficientStock
		}
	}

	ticketID := xid.New("tkt")
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (id, number, ticket_type, status, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, ticketID, number, domain.TicketTypeReturn, domain.TicketStatusCompleted, at)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	stockDelta := make(map[string]int, len(req.Adjustments))
	lines := make([]domain.TicketLine, 0, len(req.Adjustments))
	for _, adj := range req.Adjustments {
		p := products[adj.ProductID]
		m := ledger.NewMovement(xid.New("mvt"), ticketID, adj.ProductID, adj.Delta, domain.MovementAdjustment, false, at)
		if err := insertMovement(ctx, tx, m); err != nil {
			return nil, err
		}
		stockDelta[adj.ProductID] += m.QuantityChange

		line := domain.TicketLine{
			ID:             xid.New("tkl"),
			TicketID:       ticketID,
			ProductID:      p.ID,
			ProductName:    p.Name,
			Quantity:       m.Quantity,
			UnitPriceCents: p.PurchasePriceCents,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ticket_lines (id, ticket_id, product_id, product_name, quantity,
				unit_price_cents, tax_rate_percent, subtotal_cents, tax_cents, is_defective)
			VALUES ($1,$2,$3,$4,$5,$6,0,0,0,false)
		`, line.ID, line.TicketID, line.ProductID, line.ProductName, line.Quantity, line.UnitPriceCents)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := applyStockDeltas(ctx, tx, stock, stockDelta); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.Ticket{
		ID:        ticketID,
		Number:    number,
		Type:      domain.TicketTypeReturn,
		Status:    domain.TicketStatusCompleted,
		CreatedAt: at,
		Lines:     lines,
	}, nil
}

const ticketColumns = `id, number, ticket_type, status, subtotal_cents, tax_cents, discount_cents,
	total_cents, COALESCE(customer_id,''), COALESCE(cash_session_id,''), COALESCE(coupon_code,''), created_at`

func scanTicket(row interface{ Scan(...any) error }) (*domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(&t.ID, &t.Number, &t.Type, &t.Status, &t.SubtotalCents, &t.TaxCents,
		&t.DiscountCents, &t.TotalCents, &t.CustomerID, &t.CashSessionID, &t.CouponCode, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func ticketLines(ctx context.Context, q querier, ticketID string) ([]domain.TicketLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, ticket_id, product_id, product_name, quantity, unit_price_cents,
			tax_rate_percent, subtotal_cents, tax_cents, is_defective
		FROM ticket_lines
		WHERE ticket_id = $1
		ORDER BY id
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.TicketLine, 0, 8)
	for rows.Next() {
		var l domain.TicketLine
		if err := rows.Scan(&l.ID, &l.TicketID, &l.ProductID, &l.ProductName, &l.Quantity,
			&l.UnitPriceCents, &l.TaxRatePercent, &l.SubtotalCents, &l.TaxCents, &l.IsDefective); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) getTicket(ctx context.Context, column string, value string) (*domain.Ticket, error) {
	if column != "id" && column != "number" {
		return nil, fmt.Errorf("unsupported lookup column")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE `+column+` = $1`, value)
	ticket, err := scanTicket(row)
	if err != nil {
		return nil, err
	}
	lines, err := ticketLines(ctx, s.db, ticket.ID)
	if err != nil {
		return nil, err
	}
	ticket.Lines = lines
	return ticket, nil
}

func (s *Store) GetTicketByID(ctx context.Context, id string) (*domain.Ticket, error) {
	return s.getTicket(ctx, "id", id)
}

func (s *Store) GetTicketByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	return s.getTicket(ctx, "number", number)
}

func (s *Store) listTickets(ctx context.Context, where string, args []any, limit int) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets ` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := make([]domain.Ticket, 0, 32)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tickets {
		lines, err := ticketLines(ctx, s.db, tickets[i].ID)
		if err != nil {
			return nil, err
		}
		tickets[i].Lines = lines
	}
	return tickets, nil
}

func (s *Store) ListRecentTickets(ctx context.Context, limit int) ([]domain.Ticket, error) {
	if limit < 1 {
		limit = 50
	}
	return s.listTickets(ctx, ``, nil, limit)
}

func (s *Store) ListTicketsByCustomer(ctx context.Context, customerID string) ([]domain.Ticket, error) {
	return s.listTickets(ctx, `WHERE customer_id = $1`, []any{customerID}, 0)
}

const sessionColumns = `id, opened_at, closed_at, total_sales_cents, total_returns_cents, net_amount_cents, reconciled`

func scanSession(row interface{ Scan(...any) error }) (*domain.CashSession, error) {
	var cs domain.CashSession
	var closedAt sql.NullTime
	err := row.Scan(&cs.ID, &cs.OpenedAt, &closedAt, &cs.TotalSalesCents, &cs.TotalReturnsCents,
		&cs.NetAmountCents, &cs.Reconciled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	cs.OpenedAt = cs.OpenedAt.UTC()
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		cs.ClosedAt = &at
	}
	return &cs, nil
}

func (s *Store) OpenCashSession(ctx context.Context, at time.Time) (*domain.CashSession, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM cash_sessions
		WHERE closed_at IS NULL AND reconciled = false
		LIMIT 1
		FOR UPDATE
	`).Scan(&existing)
	if err == nil {
		return nil, store.ErrSessionAlreadyOpen
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	session := domain.CashSession{ID: xid.New("css"), OpenedAt: at}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cash_sessions (id, opened_at) VALUES ($1, $2)
	`, session.ID, session.OpenedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *Store) CurrentOpenSession(ctx context.Context) (*domain.CashSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE closed_at IS NULL
		ORDER BY opened_at
		LIMIT 1
	`)
	return scanSession(row)
}

func (s *Store) CloseCashSession(ctx context.Context, sessionID string, at time.Time) (*domain.CashSession, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = $1 FOR UPDATE`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if session.ClosedAt != nil {
		return nil, store.ErrSessionClosed
	}

	var sales, returns int64
	err = tx.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN ticket_type = $2 THEN total_cents ELSE 0 END), 0)::bigint,
			COALESCE(SUM(CASE WHEN ticket_type = $3 THEN total_cents ELSE 0 END), 0)::bigint
		FROM tickets
		WHERE cash_session_id = $1 AND status = $4
	`, sessionID, domain.TicketTypeSale, domain.TicketTypeReturn, domain.TicketStatusCompleted).Scan(&sales, &returns)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cash_sessions
		SET closed_at = $2, total_sales_cents = $3, total_returns_cents = $4, net_amount_cents = $5
		WHERE id = $1
	`, sessionID, at, sales, returns, sales-returns)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	session.ClosedAt = &at
	session.TotalSalesCents = sales
	session.TotalReturnsCents = returns
	session.NetAmountCents = sales - returns
	return session, nil
}

func (s *Store) ReconcileCashSession(ctx context.Context, sessionID string) (*domain.CashSession, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = $1 FOR UPDATE`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if session.ClosedAt == nil {
		return nil, store.ErrSessionNotClosed
	}
	if session.Reconciled {
		return nil, store.ErrSessionReconciled
	}

	_, err = tx.ExecContext(ctx, `UPDATE cash_sessions SET reconciled = true WHERE id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	session.Reconciled = true
	return session, nil
}

func (s *Store) ListPendingCashSessions(ctx context.Context) ([]domain.CashSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM cash_sessions
		WHERE closed_at IS NOT NULL AND reconciled = false
		ORDER BY closed_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.CashSession, 0, 8)
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) GetCashSessionByID(ctx context.Context, id string) (*domain.CashSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM cash_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if po.SupplierID == "" || len(po.Lines) == 0 {
		return nil, store.ErrValidation
	}
	for _, line := range po.Lines {
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

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, number, supplier_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, po.ID, po.Number, po.SupplierID, po.Status, po.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	for _, line := range po.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_order_lines (purchase_order_id, product_id, quantity_ordered, unit_cost_cents)
			VALUES ($1,$2,$3,$4)
		`, po.ID, line.ProductID, line.QuantityOrdered, line.UnitCostCents)
		if err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := po
	return &created, nil
}

func purchaseOrderLines(ctx context.Context, q querier, poID string) ([]domain.PurchaseOrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, quantity_ordered, unit_cost_cents
		FROM purchase_order_lines
		WHERE purchase_order_id = $1
		ORDER BY product_id
	`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.PurchaseOrderLine, 0, 8)
	for rows.Next() {
		var l domain.PurchaseOrderLine
		if err := rows.Scan(&l.ProductID, &l.QuantityOrdered, &l.UnitCostCents); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

const purchaseOrderColumns = `id, number, supplier_id, status, created_at, received_at`

func scanPurchaseOrder(row interface{ Scan(...any) error }) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var receivedAt sql.NullTime
	err := row.Scan(&po.ID, &po.Number, &po.SupplierID, &po.Status, &po.CreatedAt, &receivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	po.CreatedAt = po.CreatedAt.UTC()
	if receivedAt.Valid {
		at := receivedAt.Time.UTC()
		po.ReceivedAt = &at
	}
	return &po, nil
}

func (s *Store) GetPurchaseOrderByID(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = $1`, id)
	po, err := scanPurchaseOrder(row)
	if err != nil {
		return nil, err
	}
	lines, err := purchaseOrderLines(ctx, s.db, po.ID)
	if err != nil {
		return nil, err
	}
	po.Lines = lines
	return po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseOrderColumns+`
		FROM purchase_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, limit)
	for rows.Next() {
		po, err := scanPurchaseOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		lines, err := purchaseOrderLines(ctx, s.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, id string, at time.Time) (*domain.PurchaseOrder, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var po *domain.PurchaseOrder
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id)
		current, err := scanPurchaseOrder(row)
		if err != nil {
			return err
		}
		if current.Status == domain.PurchaseOrderStatusReceived {
			return store.ErrAlreadyReceived
		}

		lines, err := purchaseOrderLines(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, line := range lines {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO current_stock (product_id, quantity, updated_at)
				VALUES ($1,$2,now())
				ON CONFLICT (product_id)
				DO UPDATE SET quantity = current_stock.quantity + EXCLUDED.quantity, updated_at = now()
			`, line.ProductID, line.QuantityOrdered)
			if err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE purchase_orders SET status = $2, received_at = $3 WHERE id = $1
		`, id, domain.PurchaseOrderStatusReceived, at)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}

		current.Status = domain.PurchaseOrderStatusReceived
		current.ReceivedAt = &at
		current.Lines = lines
		po = current
		return nil
	})
	return po, err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func productsByID(ctx context.Context, q querier, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := q.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = *p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// lockStockRows reads the stock rows FOR UPDATE so concurrent tickets
// touching the same products serialize on them.
func lockStockRows(ctx context.Context, q querier, productIDs []string) (map[string]int, error) {
	stock := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return stock, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, quantity
		FROM current_stock
		WHERE product_id = ANY($1)
		ORDER BY product_id
		FOR UPDATE
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		stock[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stock, nil
}

func applyStockDeltas(ctx context.Context, q querier, stock map[string]int, deltas map[string]int) error {
	ids := make([]string, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		delta := deltas[id]
		if delta == 0 {
			continue
		}
		_, err := q.ExecContext(ctx, `
			UPDATE current_stock
			SET quantity = $2, updated_at = now()
			WHERE product_id = $1
		`, id, stock[id]+delta)
		if err != nil {
			return err
		}
	}
	return nil
}

func insertMovement(ctx context.Context, q querier, m domain.StockMovement) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_movements (id, ticket_id, product_id, quantity, quantity_change,
			movement_type, is_defective, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, m.ID, m.TicketID, m.ProductID, m.Quantity, m.QuantityChange, m.Type, m.IsDefective, m.CreatedAt)
	return err
}

func uniqueProductIDs(lines []domain.TicketLineRequest) []string {
	set := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line.ProductID == "" {
			continue
		}
		set[line.ProductID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.ForeignKeyViolation
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
