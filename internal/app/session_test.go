package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"invoice-engine/internal/app"
	"invoice-engine/internal/core"

	"github.com/shopspring/decimal"
)

func intPtr(v int) *int { return &v }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fakeOrders struct {
	mu          sync.Mutex
	orders      map[int]*core.PurchaseOrder
	ledgers     map[int]core.QuantityLedger
	orderErr    error
	ledgerErr   error
	lastExclude *int
}

func (f *fakeOrders) GetOrder(_ context.Context, orderID int) (*core.PurchaseOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	o, ok := f.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("purchase order %d not found", orderID)
	}
	return o, nil
}

func (f *fakeOrders) QuantitiesInvoicedElsewhere(_ context.Context, orderID int, excludeInvoiceID *int) (core.QuantityLedger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastExclude = excludeInvoiceID
	if f.ledgerErr != nil {
		return nil, f.ledgerErr
	}
	ledger := core.QuantityLedger{}
	for k, v := range f.ledgers[orderID] {
		ledger[k] = v
	}
	return ledger, nil
}

type fakeInvoices struct {
	mu           sync.Mutex
	invoices     map[int]*core.Invoice
	saveErr      error
	nextID       int
	savedPayload *core.SubmissionPayload
	savedID      *int
}

func (f *fakeInvoices) SaveInvoice(_ context.Context, payload *core.SubmissionPayload, invoiceID *int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.savedPayload = payload
	f.savedID = invoiceID
	if invoiceID != nil {
		return *invoiceID, nil
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeInvoices) GetInvoice(_ context.Context, invoiceID int) (*core.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %d not found", invoiceID)
	}
	return inv, nil
}

func testOrders() *fakeOrders {
	return &fakeOrders{
		orders: map[int]*core.PurchaseOrder{
			1: {
				ID:              1,
				SupplierID:      3,
				BranchID:        1,
				PaymentTermText: "28 DDL (30/60 dias)",
				Lines: []core.PurchaseOrderLine{
					{ID: 11, OrderID: 1, ProductID: intPtr(100), ProductName: "Farinha de trigo 25kg", Unit: "sc", OrderedQuantity: dec("100"), UnitPrice: dec("89.90")},
					{ID: 12, OrderID: 1, ProductName: "Frete dedicado", Unit: "un", OrderedQuantity: dec("1"), UnitPrice: dec("350")},
				},
			},
			2: {
				ID:              2,
				SupplierID:      5,
				BranchID:        2,
				PaymentTermText: "À vista",
				Lines: []core.PurchaseOrderLine{
					{ID: 21, OrderID: 2, ProductID: intPtr(200), ProductName: "Óleo de soja 900ml", Unit: "cx", OrderedQuantity: dec("50"), UnitPrice: dec("62")},
				},
			},
		},
		ledgers: map[int]core.QuantityLedger{
			1: {"product_100": dec("40")},
		},
	}
}

func newService(orders *fakeOrders, invoices *fakeInvoices) app.ApplicationService {
	if invoices == nil {
		invoices = &fakeInvoices{}
	}
	return app.NewAppService(orders, invoices)
}

func TestSelectOrder_BuildsLinesAndSchedule(t *testing.T) {
	svc := newService(testOrders(), nil)
	draft := svc.CreateDraft()

	if _, err := svc.SetField(draft.ID, "data_emissao", "2026-03-01"); err != nil {
		t.Fatalf("set emission: %v", err)
	}
	st, err := svc.SelectOrder(context.Background(), draft.ID, 1)
	if err != nil {
		t.Fatalf("select order: %v", err)
	}

	if st.OrderID == nil || *st.OrderID != 1 {
		t.Fatalf("draft not linked to order 1")
	}
	if st.Form.FornecedorID != 3 || st.Form.FilialID != 1 {
		t.Errorf("supplier/branch not taken from the order: %d/%d", st.Form.FornecedorID, st.Form.FilialID)
	}
	if len(st.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(st.Lines))
	}
	// 40 already invoiced elsewhere leaves 60 available, offered in full.
	if !st.Lines[0].AvailableQuantity.Equal(dec("60")) || !st.Lines[0].ReceivedQuantity.Equal(dec("60")) {
		t.Errorf("line 0: available %s received %s, want 60/60",
			st.Lines[0].AvailableQuantity, st.Lines[0].ReceivedQuantity)
	}
	if len(st.Installments) != 2 {
		t.Fatalf("expected 2 installments from the payment term, got %d", len(st.Installments))
	}
	if st.Installments[0].DueDate != "2026-03-31" || st.Installments[1].DueDate != "2026-04-30" {
		t.Errorf("due dates: got %s, %s", st.Installments[0].DueDate, st.Installments[1].DueDate)
	}
	if st.Installments[0].State != "computed" {
		t.Errorf("installment 1 state: got %s, want computed", st.Installments[0].State)
	}
}

// blockingOrders stalls the first GetOrder call until released, so a second
// selection can overtake it.
type blockingOrders struct {
	*fakeOrders
	calls        int32
	firstStarted chan struct{}
	release      chan struct{}
}

func (b *blockingOrders) GetOrder(ctx context.Context, orderID int) (*core.PurchaseOrder, error) {
	if atomic.AddInt32(&b.calls, 1) == 1 {
		close(b.firstStarted)
		<-b.release
	}
	return b.fakeOrders.GetOrder(ctx, orderID)
}

func TestSelectOrder_StaleResultDiscarded(t *testing.T) {
	orders := &blockingOrders{
		fakeOrders:   testOrders(),
		firstStarted: make(chan struct{}),
		release:      make(chan struct{}),
	}
	svc := app.NewAppService(orders, &fakeInvoices{})
	draft := svc.CreateDraft()

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.SelectOrder(context.Background(), draft.ID, 1)
		firstDone <- err
	}()
	<-orders.firstStarted

	// The user changes their mind before the first fetch returns.
	st, err := svc.SelectOrder(context.Background(), draft.ID, 2)
	if err != nil {
		t.Fatalf("second selection: %v", err)
	}
	if st.OrderID == nil || *st.OrderID != 2 {
		t.Fatalf("second selection did not link order 2")
	}

	close(orders.release)
	if err := <-firstDone; !errors.Is(err, app.ErrSelectionSuperseded) {
		t.Fatalf("expected ErrSelectionSuperseded for the stale fetch, got %v", err)
	}

	// The newest selection wins.
	final, err := svc.GetDraft(draft.ID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if final.OrderID == nil || *final.OrderID != 2 {
		t.Fatalf("stale fetch overwrote the newer selection")
	}
	if len(final.Lines) != 1 || final.Lines[0].Key != "product_200" {
		t.Fatalf("lines do not belong to order 2: %+v", final.Lines)
	}
}

func TestSelectOrder_DegradedFetches(t *testing.T) {
	t.Run("order fetch failure leaves the draft unlinked", func(t *testing.T) {
		orders := testOrders()
		orders.orderErr = errors.New("connection refused")
		svc := newService(orders, nil)
		draft := svc.CreateDraft()

		st, err := svc.SelectOrder(context.Background(), draft.ID, 1)
		var fetchErr *core.FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("expected FetchError, got %v", err)
		}
		if st == nil {
			t.Fatal("degraded selection must still return state")
		}
		if st.OrderID != nil || len(st.Lines) != 0 {
			t.Errorf("draft must degrade to unlinked with no lines, got order %v, %d lines", st.OrderID, len(st.Lines))
		}
		if !st.Degraded {
			t.Errorf("degraded flag not set")
		}
	})

	t.Run("ledger fetch failure treats lines as fully available", func(t *testing.T) {
		orders := testOrders()
		orders.ledgerErr = errors.New("timeout")
		svc := newService(orders, nil)
		draft := svc.CreateDraft()

		st, err := svc.SelectOrder(context.Background(), draft.ID, 1)
		var fetchErr *core.FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("expected FetchError, got %v", err)
		}
		if st.OrderID == nil || *st.OrderID != 1 {
			t.Fatalf("order link must survive a ledger failure")
		}
		// Full ordered quantity offered, nothing assumed invoiced elsewhere.
		if !st.Lines[0].AvailableQuantity.Equal(dec("100")) {
			t.Errorf("line 0 available: got %s, want 100", st.Lines[0].AvailableQuantity)
		}
		if !st.Degraded {
			t.Errorf("degraded flag not set")
		}

		// A retry with the ledger back clears the degradation.
		orders.mu.Lock()
		orders.ledgerErr = nil
		orders.mu.Unlock()
		st, err = svc.SelectOrder(context.Background(), draft.ID, 1)
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if st.Degraded {
			t.Errorf("degraded flag must clear on a successful retry")
		}
		if !st.Lines[0].AvailableQuantity.Equal(dec("60")) {
			t.Errorf("retry line 0 available: got %s, want 60", st.Lines[0].AvailableQuantity)
		}
	})
}

func TestScheduleLifecycle(t *testing.T) {
	svc := newService(testOrders(), nil)
	draft := svc.CreateDraft()
	ctx := context.Background()

	if _, err := svc.SetField(draft.ID, "data_emissao", "2026-03-01"); err != nil {
		t.Fatalf("set emission: %v", err)
	}
	if _, err := svc.SelectOrder(ctx, draft.ID, 1); err != nil {
		t.Fatalf("select order: %v", err)
	}

	// Manual edit on the second installment: +10 days.
	st, err := svc.SetInstallmentDate(draft.ID, 1, "2026-05-10")
	if err != nil {
		t.Fatalf("set installment date: %v", err)
	}
	if st.Installments[1].State != "edited" {
		t.Fatalf("installment 2 not marked edited")
	}

	// Moving the emission date shifts every slot by its distance from
	// emission, the edited one included.
	st, err = svc.SetField(draft.ID, "data_emissao", "2026-03-11")
	if err != nil {
		t.Fatalf("move emission: %v", err)
	}
	if st.Installments[0].DueDate != "2026-04-10" {
		t.Errorf("installment 1: got %s, want 2026-04-10", st.Installments[0].DueDate)
	}
	if st.Installments[1].DueDate != "2026-05-20" || st.Installments[1].State != "edited" {
		t.Errorf("installment 2: got %s/%s, want 2026-05-20/edited",
			st.Installments[1].DueDate, st.Installments[1].State)
	}

	// Growing the count appends a computed slot and keeps the rest.
	st, err = svc.SetInstallmentCount(draft.ID, 3)
	if err != nil {
		t.Fatalf("grow count: %v", err)
	}
	if len(st.Installments) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(st.Installments))
	}
	if st.Installments[1].DueDate != "2026-05-20" {
		t.Errorf("existing installment changed on growth: %s", st.Installments[1].DueDate)
	}
	if st.Installments[2].DueDate != "2026-06-09" || st.Installments[2].State != "computed" {
		t.Errorf("appended installment: got %s/%s, want 2026-06-09/computed",
			st.Installments[2].DueDate, st.Installments[2].State)
	}

	// Shrinking truncates from the tail.
	st, err = svc.SetInstallmentCount(draft.ID, 1)
	if err != nil {
		t.Fatalf("shrink count: %v", err)
	}
	if len(st.Installments) != 1 || st.Installments[0].DueDate != "2026-04-10" {
		t.Fatalf("shrink kept the wrong slots: %+v", st.Installments)
	}

	// A new payment-term text drops the override and recomputes everything.
	st, err = svc.SetField(draft.ID, "condicao_pagamento", "À vista")
	if err != nil {
		t.Fatalf("set term: %v", err)
	}
	if len(st.Installments) != 1 || st.Installments[0].DueDate != "2026-03-11" {
		t.Fatalf("à vista must yield one installment on emission, got %+v", st.Installments)
	}

	if _, err := svc.SetInstallmentCount(draft.ID, 0); err == nil {
		t.Fatalf("count below 1 must be rejected")
	}
	if _, err := svc.SetInstallmentDate(draft.ID, 5, "2026-12-01"); err == nil {
		t.Fatalf("out-of-range installment edit must be rejected")
	}
}

func TestSetLineQuantity(t *testing.T) {
	svc := newService(testOrders(), nil)
	draft := svc.CreateDraft()
	ctx := context.Background()
	if _, err := svc.SelectOrder(ctx, draft.ID, 1); err != nil {
		t.Fatalf("select order: %v", err)
	}

	_, err := svc.SetLineQuantity(draft.ID, "product_100", "70")
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) || vErr.Code != core.CodeQuantityExceeds {
		t.Fatalf("expected quantity-exceeds-available, got %v", err)
	}

	st, err := svc.SetLineQuantity(draft.ID, "product_100", "25")
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if !st.Lines[0].ReceivedQuantity.Equal(dec("25")) {
		t.Errorf("quantity: got %s, want 25", st.Lines[0].ReceivedQuantity)
	}

	if _, err := svc.SetLineQuantity(draft.ID, "product_999", "1"); err == nil {
		t.Fatalf("unknown line key must be rejected")
	}
	if _, err := svc.SetLineQuantity(draft.ID, "product_100", "abc"); err == nil {
		t.Fatalf("non-numeric quantity must be rejected")
	}
}

func TestFreeLines(t *testing.T) {
	svc := newService(testOrders(), nil)
	draft := svc.CreateDraft()
	ctx := context.Background()

	st, err := svc.AddFreeLine(draft.ID, app.AddFreeLineRequest{
		Description: "Serviço de descarga", Unit: "un", Quantity: "2", UnitPrice: "150",
	})
	if err != nil {
		t.Fatalf("add free line: %v", err)
	}
	if len(st.Lines) != 1 || st.Lines[0].Key != "free_1" {
		t.Fatalf("free line not added: %+v", st.Lines)
	}

	// Free-form lines carry no availability cap.
	st, err = svc.SetLineQuantity(draft.ID, "free_1", "500")
	if err != nil {
		t.Fatalf("raise free line quantity: %v", err)
	}
	if !st.Lines[0].ReceivedQuantity.Equal(dec("500")) {
		t.Errorf("free line quantity: got %s, want 500", st.Lines[0].ReceivedQuantity)
	}

	// Once an order is linked, lines come from the order alone.
	if _, err := svc.SelectOrder(ctx, draft.ID, 1); err != nil {
		t.Fatalf("select order: %v", err)
	}
	if _, err := svc.AddFreeLine(draft.ID, app.AddFreeLineRequest{
		Description: "x", Quantity: "1", UnitPrice: "1",
	}); err == nil {
		t.Fatalf("free lines must be rejected while an order is linked")
	}
}

func completeDraft(t *testing.T, svc app.ApplicationService) *app.DraftState {
	t.Helper()
	draft := svc.CreateDraft()
	for field, value := range map[string]string{
		"serie":        "1",
		"numero_nota":  "4711",
		"data_emissao": "2026-03-01",
		"data_entrada": "2026-03-03",
	} {
		if _, err := svc.SetField(draft.ID, field, value); err != nil {
			t.Fatalf("set %s: %v", field, err)
		}
	}
	if _, err := svc.SelectOrder(context.Background(), draft.ID, 1); err != nil {
		t.Fatalf("select order: %v", err)
	}
	return draft
}

func TestSubmit(t *testing.T) {
	invoices := &fakeInvoices{}
	svc := newService(testOrders(), invoices)
	draft := completeDraft(t, svc)

	res, err := svc.Submit(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.InvoiceID != 1 {
		t.Errorf("invoice id: got %d, want 1", res.InvoiceID)
	}
	if invoices.savedPayload == nil || len(invoices.savedPayload.Itens) != 2 {
		t.Fatalf("payload not handed to the invoice service")
	}
	if invoices.savedID != nil {
		t.Errorf("first submit must be an insert")
	}

	// A second submit on the same draft updates the saved invoice.
	if _, err := svc.SetField(draft.ID, "valor_frete", "12.50"); err != nil {
		t.Fatalf("set freight: %v", err)
	}
	res, err = svc.Submit(context.Background(), draft.ID)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if invoices.savedID == nil || *invoices.savedID != 1 {
		t.Errorf("resubmit must update invoice 1, got %v", invoices.savedID)
	}
	if res.InvoiceID != 1 {
		t.Errorf("resubmit invoice id: got %d, want 1", res.InvoiceID)
	}
}

func TestSubmit_ValidationStopsBeforeSave(t *testing.T) {
	invoices := &fakeInvoices{}
	svc := newService(testOrders(), invoices)
	draft := svc.CreateDraft()

	_, err := svc.Submit(context.Background(), draft.ID)
	var vErr *core.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if invoices.savedPayload != nil {
		t.Fatalf("nothing may be sent on a validation failure")
	}
}

func TestSubmit_Conflict(t *testing.T) {
	invoices := &fakeInvoices{saveErr: &core.ConflictError{Message: "invoice 4711/1 already exists for this supplier"}}
	svc := newService(testOrders(), invoices)
	draft := completeDraft(t, svc)

	_, err := svc.Submit(context.Background(), draft.ID)
	var cErr *core.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	// The draft stays open for the user to fix the number.
	if _, err := svc.SetField(draft.ID, "numero_nota", "4712"); err != nil {
		t.Fatalf("draft not editable after conflict: %v", err)
	}
}

func savedInvoice() *core.Invoice {
	return &core.Invoice{
		ID: 7,
		Payload: core.SubmissionPayload{
			TipoNota:       "ENTRADA",
			NumeroNota:     "4711",
			Serie:          "1",
			FornecedorID:   3,
			FilialID:       1,
			PedidoCompraID: intPtr(1),
			DataEmissao:    "2026-03-01",
			DataEntrada:    "2026-03-03",
			ValorDesconto:  dec("10"),
			Itens: []core.PayloadItem{
				{ProdutoGenericoID: intPtr(100), PedidoItemID: intPtr(11), Quantidade: dec("40"), ValorUnitario: dec("89.90"), NumeroItem: 1},
			},
			Parcelas: []core.PayloadInstalment{
				{Numero: 1, DataVencimento: "2026-03-31"},
				{Numero: 2, DataVencimento: "2026-04-30"},
			},
		},
	}
}

func TestLoadInvoice_EditMode(t *testing.T) {
	orders := testOrders()
	invoices := &fakeInvoices{invoices: map[int]*core.Invoice{7: savedInvoice()}}
	svc := newService(orders, invoices)
	draft := svc.CreateDraft()

	st, err := svc.LoadInvoice(context.Background(), draft.ID, 7)
	if err != nil {
		t.Fatalf("load invoice: %v", err)
	}

	if st.InvoiceID == nil || *st.InvoiceID != 7 {
		t.Fatalf("draft not in edit mode for invoice 7")
	}
	// The ledger fetch must leave the invoice's own quantities out.
	if orders.lastExclude == nil || *orders.lastExclude != 7 {
		t.Fatalf("ledger fetch did not exclude the edited invoice: %v", orders.lastExclude)
	}
	if st.Form.NumeroNota != "4711" || st.Form.ValorDesconto != "10" {
		t.Errorf("header not restored: %+v", st.Form)
	}

	// The saved 40 replays onto the rebuilt line; the ledger's 40 belongs to
	// other invoices, so 60 remains available.
	if len(st.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(st.Lines))
	}
	if !st.Lines[0].AvailableQuantity.Equal(dec("60")) {
		t.Errorf("available: got %s, want 60", st.Lines[0].AvailableQuantity)
	}
	if !st.Lines[0].ReceivedQuantity.Equal(dec("40")) {
		t.Errorf("received: got %s, want saved 40", st.Lines[0].ReceivedQuantity)
	}
	// The untouched freight line defaults to its availability.
	if !st.Lines[1].ReceivedQuantity.IsZero() {
		t.Errorf("line absent from the invoice must start at 0, got %s", st.Lines[1].ReceivedQuantity)
	}

	if len(st.Installments) != 2 || st.Installments[0].DueDate != "2026-03-31" {
		t.Errorf("schedule not restored: %+v", st.Installments)
	}
}

func TestLoadInvoice_ClampsToAvailability(t *testing.T) {
	orders := testOrders()
	// Other invoices consumed 70 in the meantime, only 30 remain.
	orders.ledgers[1] = core.QuantityLedger{"product_100": dec("70")}
	invoices := &fakeInvoices{invoices: map[int]*core.Invoice{7: savedInvoice()}}
	svc := newService(orders, invoices)
	draft := svc.CreateDraft()

	st, err := svc.LoadInvoice(context.Background(), draft.ID, 7)
	if err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	if !st.Lines[0].ReceivedQuantity.Equal(dec("30")) {
		t.Errorf("saved 40 must clamp to the 30 still available, got %s", st.Lines[0].ReceivedQuantity)
	}
}

func TestDraftRegistry(t *testing.T) {
	svc := newService(testOrders(), nil)

	if _, err := svc.GetDraft("missing"); !errors.Is(err, app.ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}

	draft := svc.CreateDraft()
	if _, err := svc.GetDraft(draft.ID); err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if err := svc.CloseDraft(draft.ID); err != nil {
		t.Fatalf("close draft: %v", err)
	}
	if _, err := svc.GetDraft(draft.ID); !errors.Is(err, app.ErrDraftNotFound) {
		t.Fatalf("closed draft must be gone, got %v", err)
	}
	if err := svc.CloseDraft(draft.ID); !errors.Is(err, app.ErrDraftNotFound) {
		t.Fatalf("double close must report not found, got %v", err)
	}
}
