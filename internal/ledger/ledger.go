// Package ledger holds the stock-effect rules for movements. Sales
// decrement unconditionally; only adjustments guard against negative
// stock. Defective returns are written off: the movement is recorded
// but stock stays put, and reversal skips them too.
package ledger

import (
	"time"

	"smartpos/backend/internal/domain"
)

// Change returns the signed effect a movement has on current stock.
// For ADJUSTMENT, quantity is the signed delta itself.
func Change(movementType string, quantity int, isDefective bool) int {
	switch movementType {
	case domain.MovementSale:
		return -quantity
	case domain.MovementReturn:
		if isDefective {
			return 0
		}
		return quantity
	case domain.MovementAdjustment:
		return quantity
	default:
		return 0
	}
}

// Reversal returns the signed stock effect of counterbalancing a
// movement. Defective returns and adjustments are excluded from
// reversal, matching how they were applied.
func Reversal(m domain.StockMovement) int {
	switch m.Type {
	case domain.MovementSale:
		return m.Quantity
	case domain.MovementReturn:
		if m.IsDefective {
			return 0
		}
		return -m.Quantity
	default:
		return 0
	}
}

// NewMovement builds the audit record for a line. Quantity is stored
// as an absolute amount; the signed effect lives in QuantityChange.
func NewMovement(id, ticketID, productID string, quantity int, movementType string, isDefective bool, at time.Time) domain.StockMovement {
	abs := quantity
	if abs < 0 {
		abs = -abs
	}
	return domain.StockMovement{
		ID:             id,
		TicketID:       ticketID,
		ProductID:      productID,
		Quantity:       abs,
		QuantityChange: Change(movementType, quantity, isDefective),
		Type:           movementType,
		IsDefective:    isDefective,
		CreatedAt:      at,
	}
}
