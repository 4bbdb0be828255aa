// Package promotion validates coupon and discount eligibility and
// computes the amount each takes off a ticket. Coupon usage counting
// is a store-side effect of the completing ticket, not done here.
package promotion

import (
	"time"

	"smartpos/backend/internal/domain"
	"smartpos/backend/internal/pricing"
	"smartpos/backend/internal/store"
)

// CouponDiscount validates the coupon against the accumulated subtotal
// and returns the discount in cents. Checks run in order: active,
// validity window, usage cap, minimum purchase.
func CouponDiscount(c domain.Coupon, subtotalCents int64, now time.Time) (int64, error) {
	if !c.Active {
		return 0, store.ErrCouponInactive
	}
	if now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return 0, store.ErrCouponExpired
	}
	if c.MaxUsageCount > 0 && c.CurrentUsageCount >= c.MaxUsageCount {
		return 0, store.ErrCouponExhausted
	}
	if c.MinPurchaseCents > 0 && subtotalCents < c.MinPurchaseCents {
		return 0, store.ErrMinimumPurchase
	}

	var discount int64
	if c.DiscountType == domain.DiscountTypePercentage {
		discount = pricing.PercentageCents(subtotalCents, c.DiscountPercent)
	} else {
		discount = c.AmountCents
	}
	if c.MaxDiscountCents > 0 && discount > c.MaxDiscountCents {
		discount = c.MaxDiscountCents
	}
	return discount, nil
}

// DiscountAmount validates the discount and returns its amount in
// cents. Discounts scoped to anything but the ticket total contribute
// nothing here, which is not an error.
func DiscountAmount(d domain.Discount, subtotalCents int64, hasCustomer bool, now time.Time) (int64, error) {
	if !d.Active {
		return 0, store.ErrDiscountInactive
	}
	if now.Before(d.ValidFrom) || now.After(d.ValidUntil) {
		return 0, store.ErrDiscountExpired
	}
	if d.RequiresCustomer && !hasCustomer {
		return 0, store.ErrCustomerRequired
	}
	if d.MinPurchaseCents > 0 && subtotalCents < d.MinPurchaseCents {
		return 0, store.ErrMinimumPurchase
	}
	if d.ApplicableOn != domain.ApplicableOnTotal {
		return 0, nil
	}

	var discount int64
	if d.DiscountType == domain.DiscountTypePercentage {
		discount = pricing.PercentageCents(subtotalCents, d.DiscountPercent)
	} else {
		discount = d.AmountCents
	}
	if d.MaxDiscountCents > 0 && discount > d.MaxDiscountCents {
		discount = d.MaxDiscountCents
	}
	return discount, nil
}
