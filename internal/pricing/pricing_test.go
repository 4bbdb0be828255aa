package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"smartpos/backend/internal/domain"
)

func TestPriceLineSale(t *testing.T) {
	p := domain.Product{SalePriceCents: 1999, PurchasePriceCents: 1200, TaxRatePercent: 16}
	got := PriceLine(p, 3, domain.TicketTypeSale)
	assert.Equal(t, int64(1999), got.UnitPriceCents)
	assert.Equal(t, int64(5997), got.SubtotalCents)
	// 5997 * 16% = 959.52, half-up to 960
	assert.Equal(t, int64(960), got.TaxCents)
}

func TestPriceLineReturnUsesPurchasePrice(t *testing.T) {
	p := domain.Product{SalePriceCents: 1999, PurchasePriceCents: 1200}
	got := PriceLine(p, 2, domain.TicketTypeReturn)
	assert.Equal(t, int64(1200), got.UnitPriceCents)
	assert.Equal(t, int64(2400), got.SubtotalCents)
	assert.Equal(t, int64(0), got.TaxCents)
}

func TestTaxCents(t *testing.T) {
	tests := []struct {
		name     string
		subtotal int64
		rate     float64
		want     int64
	}{
		{"zero rate", 5997, 0, 0},
		{"half-up at .52", 5997, 16, 960},
		{"round down below half", 1000, 10.04, 100},
		{"exact half rounds up", 1050, 10, 105},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TaxCents(tt.subtotal, tt.rate))
		})
	}
}

func TestAggregateSumsIndependently(t *testing.T) {
	lines := []domain.TicketLine{
		{SubtotalCents: 5997, TaxCents: 960},
		{SubtotalCents: 2000, TaxCents: 200},
	}
	subtotal, tax := Aggregate(lines)
	assert.Equal(t, int64(7997), subtotal)
	assert.Equal(t, int64(1160), tax)
}

func TestTotalClampsAtZero(t *testing.T) {
	assert.Equal(t, int64(0), Total(5000, 800, 7000))
	assert.Equal(t, int64(2200), Total(2000, 200, 0))
	assert.Equal(t, int64(0), Total(2000, 200, 2200))
}

func TestPercentageCents(t *testing.T) {
	assert.Equal(t, int64(500), PercentageCents(5000, 10))
	// 3333 * 15% = 499.95, half-up to 500
	assert.Equal(t, int64(500), PercentageCents(3333, 15))
}
