// Package pricing computes line-level amounts in integer cents.
// Subtotal and tax are accumulated independently so rounding error
// never compounds across a ticket.
package pricing

import (
	"math"

	"smartpos/backend/internal/domain"
)

type LineResult struct {
	UnitPriceCents int64
	SubtotalCents  int64
	TaxCents       int64
}

// UnitPrice selects the per-unit price by ticket type: customers pay
// the sale price, returns are valued at the purchase price.
func UnitPrice(p domain.Product, ticketType string) int64 {
	if ticketType == domain.TicketTypeReturn {
		return p.PurchasePriceCents
	}
	return p.SalePriceCents
}

// PriceLine prices one line. Line subtotal is exact integer
// multiplication; tax is rounded half-up at the line.
func PriceLine(p domain.Product, quantity int, ticketType string) LineResult {
	unit := UnitPrice(p, ticketType)
	subtotal := unit * int64(quantity)
	return LineResult{
		UnitPriceCents: unit,
		SubtotalCents:  subtotal,
		TaxCents:       TaxCents(subtotal, p.TaxRatePercent),
	}
}

// TaxCents rounds subtotal*rate/100 half-up to whole cents.
func TaxCents(subtotalCents int64, ratePercent float64) int64 {
	if ratePercent == 0 {
		return 0
	}
	return int64(math.Round(float64(subtotalCents) * ratePercent / 100))
}

// PercentageCents rounds amount*percent/100 half-up to whole cents.
// Used for percentage coupons and discounts.
func PercentageCents(amountCents int64, percent float64) int64 {
	return int64(math.Round(float64(amountCents) * percent / 100))
}

// Aggregate sums line subtotals and taxes independently.
func Aggregate(lines []domain.TicketLine) (subtotalCents, taxCents int64) {
	for _, l := range lines {
		subtotalCents += l.SubtotalCents
		taxCents += l.TaxCents
	}
	return subtotalCents, taxCents
}

// Total applies the additive discount and clamps at zero.
func Total(subtotalCents, taxCents, discountCents int64) int64 {
	total := subtotalCents + taxCents - discountCents
	if total < 0 {
		return 0
	}
	return total
}
