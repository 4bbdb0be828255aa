// Package notify delivers sale notifications. Delivery is best-effort
// by contract: a failed notification is logged and never propagates
// into the ticket transaction.
package notify

import (
	"context"
	"fmt"
)

type SaleSummary struct {
	TicketNumber string
	TotalCents   int64
	LineCount    int
	CustomerName string
}

type Notifier interface {
	NotifySale(ctx context.Context, sale SaleSummary) error
}

type Noop struct{}

func (Noop) NotifySale(_ context.Context, _ SaleSummary) error {
	return nil
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
