package app

import (
	"context"
	"errors"
	"sync"

	"invoice-engine/internal/core"

	"github.com/google/uuid"
)

// ErrDraftNotFound is returned for an unknown or already-closed draft ID.
var ErrDraftNotFound = errors.New("draft not found")

type appService struct {
	orders   core.OrderService
	invoices core.InvoiceService

	mu     sync.Mutex
	drafts map[string]*DraftSession
}

// NewAppService wires the collaborator services into an ApplicationService.
// Each draft session is exclusively owned by the client that created it; the
// registry lock only protects the session map itself.
func NewAppService(orders core.OrderService, invoices core.InvoiceService) ApplicationService {
	return &appService{
		orders:   orders,
		invoices: invoices,
		drafts:   make(map[string]*DraftSession),
	}
}

func (a *appService) CreateDraft() *DraftState {
	s := newDraftSession(uuid.NewString(), a.orders, a.invoices)
	a.mu.Lock()
	a.drafts[s.ID] = s
	a.mu.Unlock()
	return s.State()
}

func (a *appService) session(draftID string) (*DraftSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.drafts[draftID]
	if !ok {
		return nil, ErrDraftNotFound
	}
	return s, nil
}

func (a *appService) GetDraft(draftID string) (*DraftState, error) {
	s, err := a.session(draftID)
	if err != nil {
		return nil, err
	}
	return s.State(), nil
}

func (a *appService) CloseDraft(draftID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.drafts[draftID]; !ok {
		return ErrDraftNotFound
	}
	delete(a.drafts, draftID)
	return nil
}

func (a *appService) SelectOrder(ctx context.Context, draftID string, orderID int) (*DraftState, error) {
	s, err := a.session(draftID)
	if err != nil {
		return nil, err
	}
	if err := s.SelectOrder(ctx, orderID); err != nil {
		var fetchErr *core.FetchError
		if errors.As(err, &fetchErr) {
			// Degraded but usable: hand the state back with the error.
			return s.State(), err
		}
		return nil, err
	}
	return s.State(), nil
}

func (a *appService) LoadInvoice(ctx context.Context, draftID string, invoiceID int) (*DraftState, error) {
	s, err := a.session(draftID)
	if err != nil {
		return nil, err
	}
	if err := s.LoadInvoice(ctx, invoiceID); err != nil {
		var fetchErr *core.FetchError
		if errors.As(err, &fetchErr) {
			return s.State(), err
		}
		return nil, err
	}
	return s.State(), nil
}

func (a *appService) SetField(draftID, field, value string) (*DraftState, error) {
	s, err := a.session(draftID)
	if err != nil {
		return nil, err
	}
	if err := s.SetHeaderField(field, value); err != nil {
		return nil, err
	}
	return s.State(), nil
}

func (a *appService) SetLineQuantity(draftID, lineKey, value string) (*DraftState, error) {
	s, err := a.session(draftID)
	if err != nil {
		return nil, err
	}
	if err := s.SetLineQuantity(core.LineKey(lineKey), value); err != nil {
		return nil, err
	}
	return s.State(), nil
}

func (a *appService) AddFreeLine(draftID string, req AddFreeLineRequest) (*DraftState, error) {
	s, err := a.session(draftID)
	if err != nil {
		return nil, err
	}
	if err := s.AddFreeLine(req.Description, req.Unit, req.Quantity, req.UnitPrice); err != nil {
		return nil, err
	}
	return s.State(), nil
}

func (a *appService) SetInstallmentDate(draftID string, index int, date string) (*DraftState, error) {
	s, err := a.session(draftID)
	if err != nil {
		return nil, err
	}
	if err := s.SetInstallmentDate(index, date); err != nil {
		return nil, err
	}
	return s.State(), nil
}

func (a *appService) SetInstallmentCount(draftID string, count int) (*DraftState, error) {
	s, err := a.session(draftID)
	if err != nil {
		return nil, err
	}
	if err := s.SetInstallmentCount(count); err != nil {
		return nil, err
	}
	return s.State(), nil
}

func (a *appService) Assemble(draftID string) (*core.SubmissionPayload, error) {
	s, err := a.session(draftID)
	if err != nil {
		return nil, err
	}
	return s.Assemble()
}

func (a *appService) Submit(ctx context.Context, draftID string) (*SubmitResult, error) {
	s, err := a.session(draftID)
	if err != nil {
		return nil, err
	}
	id, payload, err := s.Submit(ctx)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{InvoiceID: id, Payload: payload}, nil
}
