package core

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Normalize cleans up form input before assembly: surrounding whitespace is
// dropped and blank monetary fields become "0" so optional charges do not
// fail numeric parsing.
func (f *DraftForm) Normalize() {
	f.TipoNota = strings.ToUpper(strings.TrimSpace(f.TipoNota))
	f.Serie = strings.TrimSpace(f.Serie)
	f.NumeroNota = strings.TrimSpace(f.NumeroNota)
	f.ChaveAcesso = strings.TrimSpace(f.ChaveAcesso)
	f.DataEmissao = strings.TrimSpace(f.DataEmissao)
	f.DataEntrada = strings.TrimSpace(f.DataEntrada)

	for _, v := range []*string{
		&f.ValorFrete, &f.ValorSeguro, &f.ValorDesconto, &f.ValorOutrasDespesas,
		&f.ValorIPI, &f.ValorICMS, &f.ValorICMSST, &f.ValorPIS, &f.ValorCOFINS,
	} {
		*v = strings.TrimSpace(*v)
		if *v == "" {
			*v = "0"
		}
	}
}

func parseMoney(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, newValidationError(field, CodeInvalidValue,
			"invalid monetary value %q", value)
	}
	return d, nil
}

// ParseCharges normalizes the form's monetary strings into decimals,
// returning a ValidationError naming the first field that fails to parse.
func (f *DraftForm) ParseCharges() (ChargeFields, error) {
	var c ChargeFields
	var err error
	for _, fld := range []struct {
		name  string
		raw   string
		dst   *decimal.Decimal
	}{
		{"valor_frete", f.ValorFrete, &c.Frete},
		{"valor_seguro", f.ValorSeguro, &c.Seguro},
		{"valor_desconto", f.ValorDesconto, &c.Desconto},
		{"valor_outras_despesas", f.ValorOutrasDespesas, &c.OutrasDespesas},
		{"valor_ipi", f.ValorIPI, &c.IPI},
		{"valor_icms", f.ValorICMS, &c.ICMS},
		{"valor_icms_st", f.ValorICMSST, &c.ICMSST},
		{"valor_pis", f.ValorPIS, &c.PIS},
		{"valor_cofins", f.ValorCOFINS, &c.COFINS},
	} {
		if *fld.dst, err = parseMoney(fld.name, fld.raw); err != nil {
			return ChargeFields{}, err
		}
	}
	return c, nil
}

// Assemble validates the draft and produces the submission payload.
//
// Validation is fail-fast in a fixed order: the first violation halts
// assembly and is returned alone, identifying the offending field or line.
func Assemble(form DraftForm, lines []InvoiceLine, schedule InstallmentSchedule) (*SubmissionPayload, error) {
	form.Normalize()

	if form.TipoNota == "" {
		return nil, newValidationError("tipo_nota", CodeMissingField, "invoice type is required")
	}
	if form.TipoNota != string(InvoiceEntrada) && form.TipoNota != string(InvoiceSaida) {
		return nil, newValidationError("tipo_nota", CodeInvalidValue,
			"invoice type must be %s or %s", InvoiceEntrada, InvoiceSaida)
	}
	if form.Serie == "" {
		return nil, newValidationError("serie", CodeMissingField, "series is required")
	}
	if form.NumeroNota == "" {
		return nil, newValidationError("numero_nota", CodeMissingField, "invoice number is required")
	}
	if form.DataEmissao == "" {
		return nil, newValidationError("data_emissao", CodeMissingField, "emission date is required")
	}
	if _, err := time.Parse(dateLayout, form.DataEmissao); err != nil {
		return nil, newValidationError("data_emissao", CodeInvalidValue,
			"invalid emission date %q", form.DataEmissao)
	}
	if form.DataEntrada == "" {
		return nil, newValidationError("data_entrada", CodeMissingField, "entry date is required")
	}
	if _, err := time.Parse(dateLayout, form.DataEntrada); err != nil {
		return nil, newValidationError("data_entrada", CodeInvalidValue,
			"invalid entry date %q", form.DataEntrada)
	}
	if form.PedidoCompraID != nil && !schedule.Complete() {
		return nil, newValidationError("parcelas", CodeScheduleMissing,
			"every installment needs a due date")
	}
	if len(lines) == 0 {
		return nil, newValidationError("itens", CodeNoLines, "the invoice has no lines")
	}
	if form.FornecedorID <= 0 {
		return nil, newValidationError("fornecedor_id", CodeInvalidValue, "supplier is required")
	}
	if form.FilialID <= 0 {
		return nil, newValidationError("filial_id", CodeInvalidValue, "billing branch is required")
	}
	for i, l := range lines {
		if !l.ReceivedQuantity.IsPositive() {
			return nil, newValidationError(lineLabel(l, i), CodeInvalidValue,
				"received quantity must be greater than zero")
		}
		if l.UnitPrice.IsNegative() {
			return nil, newValidationError(lineLabel(l, i), CodeInvalidValue,
				"unit price cannot be negative")
		}
	}

	charges, err := form.ParseCharges()
	if err != nil {
		return nil, err
	}

	allocations := AllocateDiscount(lines, charges.Desconto)
	totals := ComputeTotals(lines, allocations, charges)

	payload := &SubmissionPayload{
		TipoNota:            form.TipoNota,
		NumeroNota:          form.NumeroNota,
		Serie:               form.Serie,
		FornecedorID:        form.FornecedorID,
		FilialID:            form.FilialID,
		PedidoCompraID:      form.PedidoCompraID,
		DataEmissao:         form.DataEmissao,
		DataEntrada:         form.DataEntrada,
		ValorProdutos:       totals.ValorProdutos.Round(2),
		ValorFrete:          charges.Frete.Round(2),
		ValorSeguro:         charges.Seguro.Round(2),
		ValorDesconto:       charges.Desconto.Round(2),
		ValorOutrasDespesas: charges.OutrasDespesas.Round(2),
		ValorIPI:            charges.IPI.Round(2),
		ValorICMS:           charges.ICMS.Round(2),
		ValorICMSST:         charges.ICMSST.Round(2),
		ValorPIS:            charges.PIS.Round(2),
		ValorCOFINS:         charges.COFINS.Round(2),
		ValorTotal:          totals.ValorTotal.Round(2),
	}
	if form.ChaveAcesso != "" {
		chave := form.ChaveAcesso
		payload.ChaveAcesso = &chave
	}

	for i, l := range lines {
		item := PayloadItem{
			ProdutoGenericoID: l.ProductID,
			Quantidade:        l.ReceivedQuantity,
			ValorUnitario:     l.UnitPrice,
			ValorDesconto:     allocations[i].Round(2),
			ValorTotal:        totals.LineTotals[i].Round(2),
			NumeroItem:        i + 1,
		}
		if l.OrderLineID != 0 {
			id := l.OrderLineID
			item.PedidoItemID = &id
		}
		payload.Itens = append(payload.Itens, item)
	}

	for i, slot := range schedule {
		payload.Parcelas = append(payload.Parcelas, PayloadInstalment{
			Numero:         i + 1,
			DataVencimento: slot.Date.Format(dateLayout),
		})
	}

	return payload, nil
}

func lineLabel(l InvoiceLine, i int) string {
	if l.Description != "" {
		return l.Description
	}
	return "item " + strconv.Itoa(i+1)
}
