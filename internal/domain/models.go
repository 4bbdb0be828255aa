package domain

import "time"

const (
	TicketTypeSale   = "SALE"
	TicketTypeReturn = "RETURN"
)

const (
	TicketStatusPending   = "PENDING"
	TicketStatusCompleted = "COMPLETED"
	TicketStatusCancelled = "CANCELLED"
)

const (
	MovementSale       = "SALE"
	MovementReturn     = "RETURN"
	MovementAdjustment = "ADJUSTMENT"
)

const (
	DiscountTypePercentage  = "PERCENTAGE"
	DiscountTypeFixedAmount = "FIXED_AMOUNT"
)

const (
	ApplicableOnTotal           = "TOTAL"
	ApplicableOnProductCategory = "PRODUCT_CATEGORY"
	ApplicableOnSpecificProduct = "SPECIFIC_PRODUCT"
)

const (
	PurchaseOrderStatusOrdered  = "ORDERED"
	PurchaseOrderStatusReceived = "RECEIVED"
)

type Product struct {
	ID                 string    `json:"id"`
	Code               string    `json:"code"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	Category           string    `json:"category,omitempty"`
	SupplierID         string    `json:"supplier_id,omitempty"`
	PurchasePriceCents int64     `json:"purchase_price_cents"`
	SalePriceCents     int64     `json:"sale_price_cents"`
	TaxRatePercent     float64   `json:"tax_rate_percent"`
	CreatedAt          time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Code               string  `json:"code"`
	Name               string  `json:"name"`
	Description        string  `json:"description"`
	Category           string  `json:"category"`
	SupplierID         string  `json:"supplier_id"`
	PurchasePriceCents int64   `json:"purchase_price_cents"`
	SalePriceCents     int64   `json:"sale_price_cents"`
	TaxRatePercent     float64 `json:"tax_rate_percent"`
}

type ProductUpdateRequest struct {
	Name               *string  `json:"name,omitempty"`
	Description        *string  `json:"description,omitempty"`
	Category           *string  `json:"category,omitempty"`
	PurchasePriceCents *int64   `json:"purchase_price_cents,omitempty"`
	SalePriceCents     *int64   `json:"sale_price_cents,omitempty"`
	TaxRatePercent     *float64 `json:"tax_rate_percent,omitempty"`
}

type Customer struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName is what receipts and notifications show for the customer.
func (c Customer) DisplayName() string {
	if c.FirstName == "" {
		return c.LastName
	}
	if c.LastName == "" {
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

type CustomerCreateRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// StockMovement is an immutable audit record. Quantity is the absolute
// amount moved; QuantityChange carries the signed effect the movement
// had on current stock (zero for defective returns).
type StockMovement struct {
	ID             string    `json:"id"`
	TicketID       string    `json:"ticket_id"`
	ProductID      string    `json:"product_id"`
	Quantity       int       `json:"quantity"`
	QuantityChange int       `json:"quantity_change"`
	Type           string    `json:"type"`
	IsDefective    bool      `json:"is_defective"`
	CreatedAt      time.Time `json:"created_at"`
}

type TicketLine struct {
	ID             string  `json:"id"`
	TicketID       string  `json:"ticket_id"`
	ProductID      string  `json:"product_id"`
	ProductName    string  `json:"product_name"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents int64   `json:"unit_price_cents"`
	TaxRatePercent float64 `json:"tax_rate_percent"`
	SubtotalCents  int64   `json:"subtotal_cents"`
	TaxCents       int64   `json:"tax_cents"`
	IsDefective    bool    `json:"is_defective,omitempty"`
}

type Ticket struct {
	ID            string       `json:"id"`
	Number        string       `json:"number"`
	Type          string       `json:"type"`
	Status        string       `json:"status"`
	SubtotalCents int64        `json:"subtotal_cents"`
	TaxCents      int64        `json:"tax_cents"`
	DiscountCents int64        `json:"discount_cents"`
	TotalCents    int64        `json:"total_cents"`
	CustomerID    string       `json:"customer_id,omitempty"`
	CashSessionID string       `json:"cash_session_id,omitempty"`
	CouponCode    string       `json:"coupon_code,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	Lines         []TicketLine `json:"lines"`
}

type TicketLineRequest struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	IsDefective bool   `json:"is_defective,omitempty"`
}

type CreateTicketRequest struct {
	Type       string              `json:"type"`
	CustomerID string              `json:"customer_id,omitempty"`
	CouponCode string              `json:"coupon_code,omitempty"`
	DiscountID string              `json:"discount_id,omitempty"`
	Lines      []TicketLineRequest `json:"lines"`
}

// TicketDraft is the validated input the store turns into a completed
// ticket inside one transaction. Pricing and promotion resolution run
// inside that transaction against current rows.
type TicketDraft struct {
	Number     string
	Type       string
	CustomerID string
	CouponCode string
	DiscountID string
	Lines      []TicketLineRequest
	CreatedAt  time.Time
}

type StockAdjustment struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

type BulkAdjustmentRequest struct {
	Adjustments []StockAdjustment `json:"adjustments"`
	Reason      string            `json:"reason"`
}

type Coupon struct {
	ID                string    `json:"id"`
	Code              string    `json:"code"`
	Description       string    `json:"description,omitempty"`
	DiscountType      string    `json:"discount_type"`
	DiscountPercent   float64   `json:"discount_percent,omitempty"`
	AmountCents       int64     `json:"amount_cents,omitempty"`
	MinPurchaseCents  int64     `json:"min_purchase_cents,omitempty"`
	MaxDiscountCents  int64     `json:"max_discount_cents,omitempty"`
	ValidFrom         time.Time `json:"valid_from"`
	ValidUntil        time.Time `json:"valid_until"`
	Active            bool      `json:"active"`
	MaxUsageCount     int       `json:"max_usage_count,omitempty"`
	CurrentUsageCount int       `json:"current_usage_count"`
	CreatedAt         time.Time `json:"created_at"`
}

type CouponCreateRequest struct {
	Code             string    `json:"code"`
	Description      string    `json:"description"`
	DiscountType     string    `json:"discount_type"`
	DiscountPercent  float64   `json:"discount_percent"`
	AmountCents      int64     `json:"amount_cents"`
	MinPurchaseCents int64     `json:"min_purchase_cents"`
	MaxDiscountCents int64     `json:"max_discount_cents"`
	ValidFrom        time.Time `json:"valid_from"`
	ValidUntil       time.Time `json:"valid_until"`
	Active           *bool     `json:"active,omitempty"`
	MaxUsageCount    int       `json:"max_usage_count"`
}

type Discount struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description,omitempty"`
	DiscountType        string    `json:"discount_type"`
	DiscountPercent     float64   `json:"discount_percent,omitempty"`
	AmountCents         int64     `json:"amount_cents,omitempty"`
	ApplicableOn        string    `json:"applicable_on"`
	ApplicableProductID string    `json:"applicable_product_id,omitempty"`
	MinPurchaseCents    int64     `json:"min_purchase_cents,omitempty"`
	MaxDiscountCents    int64     `json:"max_discount_cents,omitempty"`
	ValidFrom           time.Time `json:"valid_from"`
	ValidUntil          time.Time `json:"valid_until"`
	Active              bool      `json:"active"`
	RequiresCustomer    bool      `json:"requires_customer"`
	CreatedAt           time.Time `json:"created_at"`
}

type DiscountCreateRequest struct {
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	DiscountType        string    `json:"discount_type"`
	DiscountPercent     float64   `json:"discount_percent"`
	AmountCents         int64     `json:"amount_cents"`
	ApplicableOn        string    `json:"applicable_on"`
	ApplicableProductID string    `json:"applicable_product_id"`
	MinPurchaseCents    int64     `json:"min_purchase_cents"`
	MaxDiscountCents    int64     `json:"max_discount_cents"`
	ValidFrom           time.Time `json:"valid_from"`
	ValidUntil          time.Time `json:"valid_until"`
	Active              *bool     `json:"active,omitempty"`
	RequiresCustomer    bool      `json:"requires_customer"`
}

type CashSession struct {
	ID                string     `json:"id"`
	OpenedAt          time.Time  `json:"opened_at"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
	TotalSalesCents   int64      `json:"total_sales_cents"`
	TotalReturnsCents int64      `json:"total_returns_cents"`
	NetAmountCents    int64      `json:"net_amount_cents"`
	Reconciled        bool       `json:"reconciled"`
}

type PurchaseOrderLine struct {
	ProductID       string `json:"product_id"`
	QuantityOrdered int    `json:"quantity_ordered"`
	UnitCostCents   int64  `json:"unit_cost_cents"`
}

type PurchaseOrder struct {
	ID         string              `json:"id"`
	Number     string              `json:"number"`
	SupplierID string              `json:"supplier_id"`
	Status     string              `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	Lines      []PurchaseOrderLine `json:"lines"`
}

type PurchaseOrderCreateRequest struct {
	SupplierID string              `json:"supplier_id"`
	Lines      []PurchaseOrderLine `json:"lines"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is the persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
