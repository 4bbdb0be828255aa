package promotion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartpos/backend/internal/domain"
	"smartpos/backend/internal/store"
)

func validCoupon() domain.Coupon {
	return domain.Coupon{
		Code:            "SAVE10",
		DiscountType:    domain.DiscountTypePercentage,
		DiscountPercent: 10,
		ValidFrom:       time.Now().Add(-time.Hour),
		ValidUntil:      time.Now().Add(time.Hour),
		Active:          true,
	}
}

func TestCouponDiscountPercentage(t *testing.T) {
	got, err := CouponDiscount(validCoupon(), 5000, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(500), got)
}

func TestCouponDiscountFixedAmount(t *testing.T) {
	c := validCoupon()
	c.DiscountType = domain.DiscountTypeFixedAmount
	c.AmountCents = 750
	got, err := CouponDiscount(c, 5000, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(750), got)
}

func TestCouponDiscountCapped(t *testing.T) {
	c := validCoupon()
	c.DiscountPercent = 50
	c.MaxDiscountCents = 1000
	got, err := CouponDiscount(c, 5000, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got)
}

func TestCouponDiscountRejections(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		mutate   func(*domain.Coupon)
		subtotal int64
		wantErr  error
	}{
		{"inactive", func(c *domain.Coupon) { c.Active = false }, 5000, store.ErrCouponInactive},
		{"not yet valid", func(c *domain.Coupon) { c.ValidFrom = now.Add(time.Hour) }, 5000, store.ErrCouponExpired},
		{"past window", func(c *domain.Coupon) { c.ValidUntil = now.Add(-time.Minute) }, 5000, store.ErrCouponExpired},
		{"usage cap reached", func(c *domain.Coupon) { c.MaxUsageCount = 3; c.CurrentUsageCount = 3 }, 5000, store.ErrCouponExhausted},
		{"below minimum purchase", func(c *domain.Coupon) { c.MinPurchaseCents = 10000 }, 5000, store.ErrMinimumPurchase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCoupon()
			tt.mutate(&c)
			_, err := CouponDiscount(c, tt.subtotal, now)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, store.ErrConflict)
		})
	}
}

func validDiscount() domain.Discount {
	return domain.Discount{
		Name:            "weekend",
		DiscountType:    domain.DiscountTypePercentage,
		DiscountPercent: 20,
		ApplicableOn:    domain.ApplicableOnTotal,
		ValidFrom:       time.Now().Add(-time.Hour),
		ValidUntil:      time.Now().Add(time.Hour),
		Active:          true,
	}
}

func TestDiscountAmountTotalScope(t *testing.T) {
	got, err := DiscountAmount(validDiscount(), 5000, false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got)
}

func TestDiscountAmountNonTotalScopeIsZeroNotError(t *testing.T) {
	d := validDiscount()
	d.ApplicableOn = domain.ApplicableOnProductCategory
	got, err := DiscountAmount(d, 5000, false, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestDiscountAmountRequiresCustomer(t *testing.T) {
	d := validDiscount()
	d.RequiresCustomer = true

	_, err := DiscountAmount(d, 5000, false, time.Now())
	assert.ErrorIs(t, err, store.ErrCustomerRequired)

	got, err := DiscountAmount(d, 5000, true, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got)
}

func TestDiscountAmountRejections(t *testing.T) {
	now := time.Now()

	d := validDiscount()
	d.Active = false
	_, err := DiscountAmount(d, 5000, false, now)
	assert.ErrorIs(t, err, store.ErrDiscountInactive)

	d = validDiscount()
	d.ValidUntil = now.Add(-time.Minute)
	_, err = DiscountAmount(d, 5000, false, now)
	assert.ErrorIs(t, err, store.ErrDiscountExpired)

	d = validDiscount()
	d.MinPurchaseCents = 10000
	_, err = DiscountAmount(d, 5000, false, now)
	assert.ErrorIs(t, err, store.ErrMinimumPurchase)
}
