package app

import (
	"invoice-engine/internal/core"

	"github.com/shopspring/decimal"
)

// DraftState is a point-in-time snapshot of a draft session with every
// derived value recomputed. Adapters render it directly.
type DraftState struct {
	ID            string          `json:"id"`
	InvoiceID     *int            `json:"invoice_id,omitempty"`
	OrderID       *int            `json:"pedido_compra_id,omitempty"`
	Form          core.DraftForm  `json:"form"`
	Lines         []LineState     `json:"itens"`
	Installments  []InstallmentState `json:"parcelas"`
	ValorProdutos decimal.Decimal `json:"valor_produtos"`
	ValorTotal    decimal.Decimal `json:"valor_total"`
	Degraded      bool            `json:"degraded,omitempty"`
}

// LineState is one draft line with its derived allocation and total.
type LineState struct {
	Key               string          `json:"key"`
	OrderLineID       int             `json:"pedido_item_id,omitempty"`
	ProductID         *int            `json:"produto_generico_id,omitempty"`
	Description       string          `json:"descricao"`
	Unit              string          `json:"unidade,omitempty"`
	AvailableQuantity decimal.Decimal `json:"quantidade_disponivel"`
	ReceivedQuantity  decimal.Decimal `json:"quantidade"`
	UnitPrice         decimal.Decimal `json:"valor_unitario"`
	AllocatedDiscount decimal.Decimal `json:"valor_desconto"`
	LineTotal         decimal.Decimal `json:"valor_total"`
}

// InstallmentState is one scheduled due date and how it was derived.
type InstallmentState struct {
	Number  int    `json:"numero"`
	DueDate string `json:"data_vencimento,omitempty"`
	State   string `json:"state"` // unset | computed | edited
}

// SubmitResult is returned after a successful submission.
type SubmitResult struct {
	InvoiceID int                     `json:"invoice_id"`
	Payload   *core.SubmissionPayload `json:"payload"`
}

// AddFreeLineRequest carries the fields for a free-form line.
type AddFreeLineRequest struct {
	Description string `json:"descricao"`
	Unit        string `json:"unidade"`
	Quantity    string `json:"quantidade"`
	UnitPrice   string `json:"valor_unitario"`
}
