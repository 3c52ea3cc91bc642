package core

import "github.com/shopspring/decimal"

// ChargeFields are the header-level monetary amounts entered alongside the
// lines, already normalized to decimals.
type ChargeFields struct {
	Frete          decimal.Decimal
	Seguro         decimal.Decimal
	Desconto       decimal.Decimal
	OutrasDespesas decimal.Decimal
	IPI            decimal.Decimal
	ICMS           decimal.Decimal
	ICMSST         decimal.Decimal
	PIS            decimal.Decimal
	COFINS         decimal.Decimal
}

// Totals are the derived invoice aggregates.
type Totals struct {
	LineTotals    []decimal.Decimal
	ValorProdutos decimal.Decimal
	ValorTotal    decimal.Decimal
}

// ComputeTotals aggregates line totals and header charges into the grand
// total. discounts must be the parallel slice from AllocateDiscount.
//
// ICMS, PIS and COFINS are carried on the invoice for fiscal bookkeeping but
// do not enter the grand total; only IPI and ICMS-ST do. That asymmetry is a
// business rule, not an omission.
func ComputeTotals(lines []InvoiceLine, discounts []decimal.Decimal, charges ChargeFields) Totals {
	t := Totals{LineTotals: make([]decimal.Decimal, len(lines))}
	for i, l := range lines {
		lineTotal := l.Gross()
		if i < len(discounts) {
			lineTotal = lineTotal.Sub(discounts[i])
		}
		t.LineTotals[i] = lineTotal
		t.ValorProdutos = t.ValorProdutos.Add(lineTotal)
	}

	t.ValorTotal = t.ValorProdutos.
		Add(charges.Frete).
		Add(charges.Seguro).
		Sub(charges.Desconto).
		Add(charges.OutrasDespesas).
		Add(charges.IPI).
		Add(charges.ICMSST)
	return t
}
