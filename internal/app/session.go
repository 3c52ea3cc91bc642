package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"invoice-engine/internal/core"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// ErrSelectionSuperseded is returned when an order fetch completes after the
// session already moved on to a newer selection. The stale result is
// discarded; the newest selection wins.
var ErrSelectionSuperseded = errors.New("order selection superseded by a newer one")

// DraftSession owns one invoice draft end to end: the linked order, the
// ledger snapshot, the lines, and the installment schedule. Derived values
// (discount allocation, totals) are recomputed on demand, never stored.
//
// A session is exclusively owned by the editing client; the mutex only
// serializes accidental concurrent HTTP calls on the same draft.
type DraftSession struct {
	ID string

	mu       sync.Mutex
	orders   core.OrderService
	invoices core.InvoiceService

	form      core.DraftForm
	invoiceID *int

	order  *core.PurchaseOrder
	ledger core.QuantityLedger
	lines  []core.InvoiceLine

	schedule    core.InstallmentSchedule
	schedInputs core.ScheduleInputs
	termText    string
	countHint   int // user override of the installment count; 0 = from term text
	emission    time.Time
	hasEmission bool

	// selectGen guards against stale collaborator responses: a fetch only
	// commits its result if no newer SelectOrder started meanwhile.
	selectGen uint64

	degraded bool
}

func newDraftSession(id string, orders core.OrderService, invoices core.InvoiceService) *DraftSession {
	return &DraftSession{
		ID:       id,
		orders:   orders,
		invoices: invoices,
		ledger:   core.QuantityLedger{},
		form:     core.DraftForm{TipoNota: string(core.InvoiceEntrada)},
	}
}

// SelectOrder links the draft to a purchase order: it fetches the order
// detail, then the quantity ledger (always in that sequence), and rebuilds
// the draft lines from what is still available.
//
// Collaborator failures degrade instead of aborting: a failed order fetch
// leaves the draft unlinked with no lines; a failed ledger fetch keeps the
// order but treats every line as fully available. Both return *FetchError so
// the caller can prompt a retry.
func (s *DraftSession) SelectOrder(ctx context.Context, orderID int) error {
	s.mu.Lock()
	s.selectGen++
	gen := s.selectGen
	exclude := s.invoiceID
	s.mu.Unlock()

	order, orderErr := s.orders.GetOrder(ctx, orderID)
	var ledger core.QuantityLedger
	var ledgerErr error
	if orderErr == nil {
		ledger, ledgerErr = s.orders.QuantitiesInvoicedElsewhere(ctx, orderID, exclude)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.selectGen {
		return ErrSelectionSuperseded
	}

	if orderErr != nil {
		s.order = nil
		s.ledger = core.QuantityLedger{}
		s.lines = nil
		s.form.PedidoCompraID = nil
		s.degraded = true
		log.Printf("draft %s: order %d fetch failed, degrading to empty lines: %v", s.ID, orderID, orderErr)
		return &core.FetchError{Op: fmt.Sprintf("fetch purchase order %d", orderID), Err: orderErr}
	}
	if ledgerErr != nil {
		ledger = core.QuantityLedger{}
		log.Printf("draft %s: ledger fetch for order %d failed, assuming nothing invoiced elsewhere: %v", s.ID, orderID, ledgerErr)
	}

	s.order = order
	s.ledger = ledger
	s.lines = core.BuildInitialLines(order, ledger)
	s.form.PedidoCompraID = &order.ID
	s.form.FornecedorID = order.SupplierID
	s.form.FilialID = order.BranchID
	s.termText = order.PaymentTermText
	s.countHint = 0
	s.degraded = ledgerErr != nil
	s.recomputeScheduleLocked()

	if ledgerErr != nil {
		return &core.FetchError{Op: fmt.Sprintf("fetch quantity ledger for order %d", orderID), Err: ledgerErr}
	}
	return nil
}

// LoadInvoice enters edit mode for a saved invoice. The ledger is fetched
// with the invoice itself excluded, so its previously saved quantities are
// back in the pool and the user can redistribute them freely.
func (s *DraftSession) LoadInvoice(ctx context.Context, invoiceID int) error {
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return &core.FetchError{Op: fmt.Sprintf("load invoice %d", invoiceID), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := inv.Payload
	s.invoiceID = &inv.ID
	s.form = core.DraftForm{
		TipoNota:            p.TipoNota,
		Serie:               p.Serie,
		NumeroNota:          p.NumeroNota,
		FornecedorID:        p.FornecedorID,
		FilialID:            p.FilialID,
		PedidoCompraID:      p.PedidoCompraID,
		DataEmissao:         p.DataEmissao,
		DataEntrada:         p.DataEntrada,
		ValorFrete:          p.ValorFrete.String(),
		ValorSeguro:         p.ValorSeguro.String(),
		ValorDesconto:       p.ValorDesconto.String(),
		ValorOutrasDespesas: p.ValorOutrasDespesas.String(),
		ValorIPI:            p.ValorIPI.String(),
		ValorICMS:           p.ValorICMS.String(),
		ValorICMSST:         p.ValorICMSST.String(),
		ValorPIS:            p.ValorPIS.String(),
		ValorCOFINS:         p.ValorCOFINS.String(),
	}
	if p.ChaveAcesso != nil {
		s.form.ChaveAcesso = *p.ChaveAcesso
	}
	if em, err := time.Parse(dateLayout, p.DataEmissao); err == nil {
		s.emission = em
		s.hasEmission = true
	}

	// Restore the saved schedule verbatim; emission-date changes from here
	// on shift these dates by their offset from emission.
	s.schedule = make(core.InstallmentSchedule, len(p.Parcelas))
	for i, inst := range p.Parcelas {
		due, err := time.Parse(dateLayout, inst.DataVencimento)
		if err != nil {
			continue
		}
		s.schedule[i] = core.InstallmentSlot{State: core.SlotComputed, Date: due}
	}

	s.order = nil
	s.ledger = core.QuantityLedger{}
	s.lines = nil
	s.countHint = len(p.Parcelas)

	if p.PedidoCompraID == nil {
		for _, item := range p.Itens {
			line := freeLineFromItem(item)
			s.lines = append(s.lines, line)
		}
		s.schedInputs = core.ScheduleInputs{EmissionDate: s.emission, Offsets: offsetsFromSchedule(s.emission, s.schedule)}
		return nil
	}

	orderID := *p.PedidoCompraID
	order, orderErr := s.orders.GetOrder(ctx, orderID)
	var ledger core.QuantityLedger
	var ledgerErr error
	if orderErr == nil {
		ledger, ledgerErr = s.orders.QuantitiesInvoicedElsewhere(ctx, orderID, s.invoiceID)
	}
	if orderErr != nil {
		s.degraded = true
		log.Printf("draft %s: order %d fetch failed while loading invoice %d: %v", s.ID, orderID, invoiceID, orderErr)
		return &core.FetchError{Op: fmt.Sprintf("fetch purchase order %d", orderID), Err: orderErr}
	}
	if ledgerErr != nil {
		ledger = core.QuantityLedger{}
		s.degraded = true
		log.Printf("draft %s: ledger fetch failed while loading invoice %d: %v", s.ID, invoiceID, ledgerErr)
	}

	s.order = order
	s.ledger = ledger
	s.termText = order.PaymentTermText
	s.lines = core.BuildInitialLines(order, ledger)
	restoredOffsets := core.ParsePaymentTerm(s.termText)
	if s.countHint > 0 {
		restoredOffsets = resizeOffsets(restoredOffsets, s.countHint)
	}
	s.schedInputs = core.ScheduleInputs{EmissionDate: s.emission, Offsets: restoredOffsets}

	// Replay the saved quantities onto the rebuilt lines. If other invoices
	// consumed more in the meantime, clamp to what is still available.
	saved := make(map[core.LineKey]decimal.Decimal, len(p.Itens))
	for _, item := range p.Itens {
		saved[keyForItem(item)] = item.Quantidade
	}
	for i := range s.lines {
		qty, ok := saved[s.lines[i].Key]
		if !ok {
			qty = decimal.Zero
		}
		if err := s.lines[i].SetReceivedQuantity(qty); err != nil {
			s.lines[i].ReceivedQuantity = s.lines[i].AvailableQuantity
		}
	}

	if ledgerErr != nil {
		return &core.FetchError{Op: fmt.Sprintf("fetch quantity ledger for order %d", orderID), Err: ledgerErr}
	}
	return nil
}

func keyForItem(item core.PayloadItem) core.LineKey {
	if item.ProdutoGenericoID != nil {
		return core.LineKey(fmt.Sprintf("product_%d", *item.ProdutoGenericoID))
	}
	if item.PedidoItemID != nil {
		return core.LineKey(fmt.Sprintf("item_%d", *item.PedidoItemID))
	}
	return core.LineKey(fmt.Sprintf("free_%d", item.NumeroItem))
}

func freeLineFromItem(item core.PayloadItem) core.InvoiceLine {
	return core.InvoiceLine{
		Key:               keyForItem(item),
		ProductID:         item.ProdutoGenericoID,
		Description:       fmt.Sprintf("item %d", item.NumeroItem),
		AvailableQuantity: item.Quantidade,
		ReceivedQuantity:  item.Quantidade,
		UnitPrice:         item.ValorUnitario,
	}
}

// offsetsFromSchedule reconstructs day offsets from restored dates so the
// recompute trigger has a coherent previous-inputs snapshot.
func offsetsFromSchedule(emission time.Time, sched core.InstallmentSchedule) []int {
	offsets := make([]int, len(sched))
	for i, slot := range sched {
		if slot.Set() {
			offsets[i] = int(slot.Date.Sub(emission).Hours() / 24)
		}
	}
	return offsets
}

// SetEmissionDate changes the schedule anchor. Already-set due dates keep
// their distance from the emission date instead of being recomputed, which
// preserves manual edits in spirit.
func (s *DraftSession) SetEmissionDate(date string) error {
	em, err := time.Parse(dateLayout, date)
	if err != nil {
		return &core.ValidationError{Field: "data_emissao", Code: core.CodeInvalidValue,
			Message: fmt.Sprintf("invalid date %q", date)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form.DataEmissao = date
	s.emission = em
	s.hasEmission = true
	s.recomputeScheduleLocked()
	return nil
}

// SetEntryDate sets the warehouse entry date.
func (s *DraftSession) SetEntryDate(date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return &core.ValidationError{Field: "data_entrada", Code: core.CodeInvalidValue,
			Message: fmt.Sprintf("invalid date %q", date)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.form.DataEntrada = date
	return nil
}

// SetPaymentTermText replaces the payment-term descriptor and re-derives the
// schedule from its parsed offsets, dropping any count override.
func (s *DraftSession) SetPaymentTermText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.termText = text
	s.countHint = 0
	s.recomputeScheduleLocked()
}

// SetInstallmentCount overrides how many installments the draft has. A
// shrink truncates the schedule; a growth appends freshly computed dates and
// leaves existing slots untouched.
func (s *DraftSession) SetInstallmentCount(n int) error {
	if n < 1 {
		return &core.ValidationError{Field: "parcelas", Code: core.CodeInvalidValue,
			Message: "installment count must be at least 1"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countHint = n
	s.recomputeScheduleLocked()
	return nil
}

// SetInstallmentDate overwrites one due date with a manual edit.
func (s *DraftSession) SetInstallmentDate(index int, date string) error {
	due, err := time.Parse(dateLayout, date)
	if err != nil {
		return &core.ValidationError{Field: "parcelas", Code: core.CodeInvalidValue,
			Message: fmt.Sprintf("invalid date %q", date)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.schedule) {
		return &core.ValidationError{Field: "parcelas", Code: core.CodeInvalidValue,
			Message: fmt.Sprintf("installment %d does not exist", index+1)}
	}
	s.schedule.SetDate(index, due)
	return nil
}

// SetLineQuantity adjusts one draft line's received quantity, enforcing the
// availability bound for order-linked lines.
func (s *DraftSession) SetLineQuantity(key core.LineKey, value string) error {
	qty, err := decimal.NewFromString(value)
	if err != nil {
		return &core.ValidationError{Field: string(key), Code: core.CodeInvalidValue,
			Message: fmt.Sprintf("invalid quantity %q", value)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.lines {
		if s.lines[i].Key != key {
			continue
		}
		if s.lines[i].OrderLineID == 0 {
			// Free-form lines carry no order-line cap.
			s.lines[i].AvailableQuantity = qty
		}
		return s.lines[i].SetReceivedQuantity(qty)
	}
	return &core.ValidationError{Field: string(key), Code: core.CodeInvalidValue,
		Message: "line not found on this draft"}
}

// AddFreeLine appends a line with free-form product data. Only allowed when
// no purchase order is linked; order-linked drafts take their lines from the
// order.
func (s *DraftSession) AddFreeLine(description, unit string, quantity, unitPrice string) error {
	qty, err := decimal.NewFromString(quantity)
	if err != nil || qty.IsNegative() {
		return &core.ValidationError{Field: "itens", Code: core.CodeInvalidValue,
			Message: fmt.Sprintf("invalid quantity %q", quantity)}
	}
	price, err := decimal.NewFromString(unitPrice)
	if err != nil || price.IsNegative() {
		return &core.ValidationError{Field: "itens", Code: core.CodeInvalidValue,
			Message: fmt.Sprintf("invalid unit price %q", unitPrice)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.order != nil {
		return &core.ValidationError{Field: "itens", Code: core.CodeInvalidValue,
			Message: "cannot add free-form lines while a purchase order is linked"}
	}
	s.lines = append(s.lines, core.InvoiceLine{
		Key:               core.LineKey(fmt.Sprintf("free_%d", len(s.lines)+1)),
		Description:       description,
		Unit:              unit,
		AvailableQuantity: qty,
		ReceivedQuantity:  qty,
		UnitPrice:         price,
	})
	return nil
}

// SetHeaderField routes a named form field to its setter. Monetary fields
// are kept as entered; they are normalized at assembly.
func (s *DraftSession) SetHeaderField(field, value string) error {
	switch field {
	case "data_emissao":
		return s.SetEmissionDate(value)
	case "data_entrada":
		return s.SetEntryDate(value)
	case "condicao_pagamento":
		s.SetPaymentTermText(value)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch field {
	case "tipo_nota":
		s.form.TipoNota = value
	case "serie":
		s.form.Serie = value
	case "numero_nota":
		s.form.NumeroNota = value
	case "chave_acesso":
		s.form.ChaveAcesso = value
	case "valor_frete":
		s.form.ValorFrete = value
	case "valor_seguro":
		s.form.ValorSeguro = value
	case "valor_desconto":
		s.form.ValorDesconto = value
	case "valor_outras_despesas":
		s.form.ValorOutrasDespesas = value
	case "valor_ipi":
		s.form.ValorIPI = value
	case "valor_icms":
		s.form.ValorICMS = value
	case "valor_icms_st":
		s.form.ValorICMSST = value
	case "valor_pis":
		s.form.ValorPIS = value
	case "valor_cofins":
		s.form.ValorCOFINS = value
	default:
		return &core.ValidationError{Field: field, Code: core.CodeInvalidValue,
			Message: "unknown field"}
	}
	return nil
}

// recomputeScheduleLocked runs the explicit recompute trigger off the stored
// previous-inputs snapshot. No emission date means no dates yet.
func (s *DraftSession) recomputeScheduleLocked() {
	if !s.hasEmission {
		return
	}
	offsets := core.ParsePaymentTerm(s.termText)
	if s.countHint > 0 {
		offsets = resizeOffsets(offsets, s.countHint)
	}
	next := core.ScheduleInputs{EmissionDate: s.emission, Offsets: offsets}
	s.schedule = core.NextSchedule(s.schedInputs, s.schedule, next)
	s.schedInputs = next
}

// resizeOffsets truncates or extends the parsed offsets to n entries,
// continuing in 30-day steps past the parsed tail.
func resizeOffsets(offsets []int, n int) []int {
	if n <= len(offsets) {
		return offsets[:n]
	}
	out := make([]int, n)
	copy(out, offsets)
	last := 0
	if len(offsets) > 0 {
		last = offsets[len(offsets)-1]
	}
	for i := len(offsets); i < n; i++ {
		last += 30
		out[i] = last
	}
	return out
}

// Assemble validates the draft and produces the submission payload without
// sending it anywhere.
func (s *DraftSession) Assemble() (*core.SubmissionPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.Assemble(s.form, s.lines, s.schedule)
}

// Submit assembles the draft and persists it via the invoice collaborator.
// ValidationError and ConflictError are both terminal for the submit action;
// nothing is sent on a validation failure, and a conflict means the
// number+series already exists for the supplier.
func (s *DraftSession) Submit(ctx context.Context) (int, *core.SubmissionPayload, error) {
	s.mu.Lock()
	payload, err := core.Assemble(s.form, s.lines, s.schedule)
	invoiceID := s.invoiceID
	s.mu.Unlock()
	if err != nil {
		return 0, nil, err
	}

	id, err := s.invoices.SaveInvoice(ctx, payload, invoiceID)
	if err != nil {
		return 0, nil, err
	}

	s.mu.Lock()
	s.invoiceID = &id
	s.mu.Unlock()
	return id, payload, nil
}

// State returns a point-in-time snapshot of the draft with all derived
// values (allocations, line totals, header totals) recomputed.
func (s *DraftSession) State() *DraftState {
	s.mu.Lock()
	defer s.mu.Unlock()

	form := s.form
	form.Normalize()
	charges, err := form.ParseCharges()
	if err != nil {
		// Display is best-effort: an unparseable charge shows as zero and
		// is rejected properly at assembly.
		charges = core.ChargeFields{}
	}
	allocations := core.AllocateDiscount(s.lines, charges.Desconto)
	totals := core.ComputeTotals(s.lines, allocations, charges)

	st := &DraftState{
		ID:            s.ID,
		Form:          s.form,
		InvoiceID:     s.invoiceID,
		Degraded:      s.degraded,
		ValorProdutos: totals.ValorProdutos.Round(2),
		ValorTotal:    totals.ValorTotal.Round(2),
	}
	if s.order != nil {
		st.OrderID = &s.order.ID
	}
	for i, l := range s.lines {
		st.Lines = append(st.Lines, LineState{
			Key:               string(l.Key),
			OrderLineID:       l.OrderLineID,
			ProductID:         l.ProductID,
			Description:       l.Description,
			Unit:              l.Unit,
			AvailableQuantity: l.AvailableQuantity,
			ReceivedQuantity:  l.ReceivedQuantity,
			UnitPrice:         l.UnitPrice,
			AllocatedDiscount: allocations[i].Round(2),
			LineTotal:         totals.LineTotals[i].Round(2),
		})
	}
	for i, slot := range s.schedule {
		inst := InstallmentState{Number: i + 1, State: slotStateLabel(slot.State)}
		if slot.Set() {
			inst.DueDate = slot.Date.Format(dateLayout)
		}
		st.Installments = append(st.Installments, inst)
	}
	return st
}

func slotStateLabel(st core.SlotState) string {
	switch st {
	case core.SlotComputed:
		return "computed"
	case core.SlotEdited:
		return "edited"
	default:
		return "unset"
	}
}
