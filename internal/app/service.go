package app

import (
	"context"

	"invoice-engine/internal/core"
)

// ApplicationService is the single interface the UI adapters call. It keeps
// presentation out of the engine: implementations return plain state
// snapshots and typed errors, no display logic.
type ApplicationService interface {
	// CreateDraft opens a fresh draft session and returns its state.
	CreateDraft() *DraftState

	// GetDraft returns the current state of a draft session.
	GetDraft(draftID string) (*DraftState, error)

	// CloseDraft discards a draft session.
	CloseDraft(draftID string) error

	// SelectOrder links the draft to a purchase order and rebuilds its lines
	// from the quantities still available. A stale fetch (superseded by a
	// newer selection) is discarded and reported as ErrSelectionSuperseded.
	SelectOrder(ctx context.Context, draftID string, orderID int) (*DraftState, error)

	// LoadInvoice enters edit mode for a saved invoice.
	LoadInvoice(ctx context.Context, draftID string, invoiceID int) (*DraftState, error)

	// SetField updates one named header field.
	SetField(draftID, field, value string) (*DraftState, error)

	// SetLineQuantity updates one line's received quantity.
	SetLineQuantity(draftID, lineKey, value string) (*DraftState, error)

	// AddFreeLine appends a free-form line to an unlinked draft.
	AddFreeLine(draftID string, req AddFreeLineRequest) (*DraftState, error)

	// SetInstallmentDate manually edits one due date (0-based index).
	SetInstallmentDate(draftID string, index int, date string) (*DraftState, error)

	// SetInstallmentCount overrides the number of installments.
	SetInstallmentCount(draftID string, count int) (*DraftState, error)

	// Assemble validates the draft and returns the submission payload
	// without persisting it.
	Assemble(draftID string) (*core.SubmissionPayload, error)

	// Submit assembles and persists the draft, returning the invoice ID.
	Submit(ctx context.Context, draftID string) (*SubmitResult, error)
}
