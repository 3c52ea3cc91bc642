package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvoiceType discriminates inbound from outbound fiscal documents.
type InvoiceType string

const (
	InvoiceEntrada InvoiceType = "ENTRADA"
	InvoiceSaida   InvoiceType = "SAIDA"
)

// LineKey identifies a purchase-order line across invoices. Lines with a
// product reference share the key "product_<productID>" so the same product
// is reconciled as one pool; lines without a product fall back to
// "item_<orderLineID>".
type LineKey string

// KeyForOrderLine derives the reconciliation key for a purchase-order line.
func KeyForOrderLine(l PurchaseOrderLine) LineKey {
	if l.ProductID != nil {
		return LineKey(fmt.Sprintf("product_%d", *l.ProductID))
	}
	return LineKey(fmt.Sprintf("item_%d", l.ID))
}

// PurchaseOrder is the order header an invoice draft can be linked to.
type PurchaseOrder struct {
	ID              int
	SupplierID      int
	BranchID        int
	PaymentTermText string
	Lines           []PurchaseOrderLine
}

// PurchaseOrderLine is immutable once created; quantities invoiced against it
// are tracked externally in the QuantityLedger.
type PurchaseOrderLine struct {
	ID              int
	OrderID         int
	ProductID       *int
	ProductName     string
	Unit            string
	OrderedQuantity decimal.Decimal
	UnitPrice       decimal.Decimal
}

// QuantityLedger maps an order-line key to the quantity already claimed by
// other invoices. It is a snapshot, refetched whenever the linked order (or
// the invoice being edited) changes — never mutated in place.
type QuantityLedger map[LineKey]decimal.Decimal

// InvoiceLine is one draft line, keyed to its order line when an order is
// linked. Discount allocation and line totals are derived values, recomputed
// from scratch on every change rather than stored here.
type InvoiceLine struct {
	Key               LineKey
	OrderLineID       int
	ProductID         *int
	Description       string
	Unit              string
	AvailableQuantity decimal.Decimal
	ReceivedQuantity  decimal.Decimal
	UnitPrice         decimal.Decimal
}

// Gross is the line value before discount allocation.
func (l InvoiceLine) Gross() decimal.Decimal {
	return l.ReceivedQuantity.Mul(l.UnitPrice)
}

// DraftForm carries the invoice header fields as entered. Monetary fields
// stay strings until assembly normalizes them, mirroring how they arrive
// from the entry form.
type DraftForm struct {
	TipoNota            string `json:"tipo_nota"`
	Serie               string `json:"serie"`
	NumeroNota          string `json:"numero_nota"`
	ChaveAcesso         string `json:"chave_acesso,omitempty"`
	FornecedorID        int    `json:"fornecedor_id"`
	FilialID            int    `json:"filial_id"`
	PedidoCompraID      *int   `json:"pedido_compra_id,omitempty"`
	DataEmissao         string `json:"data_emissao"` // YYYY-MM-DD
	DataEntrada         string `json:"data_entrada"` // YYYY-MM-DD
	ValorFrete          string `json:"valor_frete"`
	ValorSeguro         string `json:"valor_seguro"`
	ValorDesconto       string `json:"valor_desconto"`
	ValorOutrasDespesas string `json:"valor_outras_despesas"`
	ValorIPI            string `json:"valor_ipi"`
	ValorICMS           string `json:"valor_icms"`
	ValorICMSST         string `json:"valor_icms_st"`
	ValorPIS            string `json:"valor_pis"`
	ValorCOFINS         string `json:"valor_cofins"`
}

// SubmissionPayload is the wire shape accepted by the invoice collaborator.
type SubmissionPayload struct {
	TipoNota            string              `json:"tipo_nota"`
	NumeroNota          string              `json:"numero_nota"`
	Serie               string              `json:"serie"`
	ChaveAcesso         *string             `json:"chave_acesso,omitempty"`
	FornecedorID        int                 `json:"fornecedor_id"`
	FilialID            int                 `json:"filial_id"`
	PedidoCompraID      *int                `json:"pedido_compra_id,omitempty"`
	DataEmissao         string              `json:"data_emissao"`
	DataEntrada         string              `json:"data_entrada"`
	ValorProdutos       decimal.Decimal     `json:"valor_produtos"`
	ValorFrete          decimal.Decimal     `json:"valor_frete"`
	ValorSeguro         decimal.Decimal     `json:"valor_seguro"`
	ValorDesconto       decimal.Decimal     `json:"valor_desconto"`
	ValorOutrasDespesas decimal.Decimal     `json:"valor_outras_despesas"`
	ValorIPI            decimal.Decimal     `json:"valor_ipi"`
	ValorICMS           decimal.Decimal     `json:"valor_icms"`
	ValorICMSST         decimal.Decimal     `json:"valor_icms_st"`
	ValorPIS            decimal.Decimal     `json:"valor_pis"`
	ValorCOFINS         decimal.Decimal     `json:"valor_cofins"`
	ValorTotal          decimal.Decimal     `json:"valor_total"`
	Itens               []PayloadItem       `json:"itens"`
	Parcelas            []PayloadInstalment `json:"parcelas,omitempty"`
}

// PayloadItem is one invoice line on the wire, discount already allocated.
type PayloadItem struct {
	ProdutoGenericoID *int            `json:"produto_generico_id,omitempty"`
	PedidoItemID      *int            `json:"pedido_item_id,omitempty"`
	Quantidade        decimal.Decimal `json:"quantidade"`
	ValorUnitario     decimal.Decimal `json:"valor_unitario"`
	ValorDesconto     decimal.Decimal `json:"valor_desconto"`
	ValorTotal        decimal.Decimal `json:"valor_total"`
	NumeroItem        int             `json:"numero_item"`
}

// PayloadInstalment is one scheduled due date on the wire.
type PayloadInstalment struct {
	Numero         int    `json:"numero"`
	DataVencimento string `json:"data_vencimento"` // YYYY-MM-DD
}

// Invoice is a persisted invoice loaded back for edit mode.
type Invoice struct {
	ID      int
	Payload SubmissionPayload
}
