package core

import "github.com/shopspring/decimal"

// AvailableQuantity is how much of an order line can still be invoiced:
// ordered minus what the ledger says other invoices already claimed,
// floored at zero. When editing a saved invoice the ledger is fetched with
// that invoice excluded, so its own prior quantity is back in the pool and
// can be freely redistributed.
func AvailableQuantity(line PurchaseOrderLine, ledger QuantityLedger) decimal.Decimal {
	avail := line.OrderedQuantity.Sub(ledger[KeyForOrderLine(line)])
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// BuildInitialLines creates one draft line per order line that still has
// quantity available, defaulting the received quantity to everything
// available. Fully invoiced lines are omitted — there is nothing left to
// offer on them.
func BuildInitialLines(order *PurchaseOrder, ledger QuantityLedger) []InvoiceLine {
	var lines []InvoiceLine
	for _, ol := range order.Lines {
		avail := AvailableQuantity(ol, ledger)
		if !avail.IsPositive() {
			continue
		}
		lines = append(lines, InvoiceLine{
			Key:               KeyForOrderLine(ol),
			OrderLineID:       ol.ID,
			ProductID:         ol.ProductID,
			Description:       ol.ProductName,
			Unit:              ol.Unit,
			AvailableQuantity: avail,
			ReceivedQuantity:  avail,
			UnitPrice:         ol.UnitPrice,
		})
	}
	return lines
}

// SetReceivedQuantity updates the line's received quantity, enforcing the
// quantity bounds. Violations name the offending line.
func (l *InvoiceLine) SetReceivedQuantity(value decimal.Decimal) error {
	if value.IsNegative() {
		return newValidationError(l.Description, CodeQuantityNegative,
			"quantity %s cannot be negative", value.String())
	}
	if value.GreaterThan(l.AvailableQuantity) {
		return newValidationError(l.Description, CodeQuantityExceeds,
			"quantity %s exceeds the %s still available on the order line",
			value.String(), l.AvailableQuantity.String())
	}
	l.ReceivedQuantity = value
	return nil
}
