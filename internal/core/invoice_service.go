package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL error code raised when the
// (supplier, series, number) uniqueness constraint fires.
const uniqueViolation = "23505"

// InvoiceService persists assembled invoices and loads them back for edits.
type InvoiceService interface {
	// SaveInvoice inserts the payload, or replaces the invoice's header,
	// items, and installments when invoiceID is non-nil. A duplicate
	// number+series for the supplier surfaces as *ConflictError.
	SaveInvoice(ctx context.Context, payload *SubmissionPayload, invoiceID *int) (int, error)

	// GetInvoice loads a saved invoice back into payload shape.
	GetInvoice(ctx context.Context, invoiceID int) (*Invoice, error)
}

type invoiceService struct {
	pool *pgxpool.Pool
}

// NewInvoiceService constructs an InvoiceService backed by PostgreSQL.
func NewInvoiceService(pool *pgxpool.Pool) InvoiceService {
	return &invoiceService{pool: pool}
}

func (s *invoiceService) SaveInvoice(ctx context.Context, payload *SubmissionPayload, invoiceID *int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int
	if invoiceID == nil {
		err = tx.QueryRow(ctx, `
			INSERT INTO invoices (tipo_nota, numero_nota, serie, chave_acesso,
			                      supplier_id, branch_id, purchase_order_id,
			                      emission_date, entry_date,
			                      valor_produtos, valor_frete, valor_seguro, valor_desconto,
			                      valor_outras_despesas, valor_ipi, valor_icms, valor_icms_st,
			                      valor_pis, valor_cofins, valor_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			        $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
			RETURNING id`,
			payload.TipoNota, payload.NumeroNota, payload.Serie, payload.ChaveAcesso,
			payload.FornecedorID, payload.FilialID, payload.PedidoCompraID,
			payload.DataEmissao, payload.DataEntrada,
			payload.ValorProdutos, payload.ValorFrete, payload.ValorSeguro, payload.ValorDesconto,
			payload.ValorOutrasDespesas, payload.ValorIPI, payload.ValorICMS, payload.ValorICMSST,
			payload.ValorPIS, payload.ValorCOFINS, payload.ValorTotal,
		).Scan(&id)
	} else {
		id = *invoiceID
		var tag pgconn.CommandTag
		tag, err = tx.Exec(ctx, `
			UPDATE invoices
			SET tipo_nota = $1, numero_nota = $2, serie = $3, chave_acesso = $4,
			    supplier_id = $5, branch_id = $6, purchase_order_id = $7,
			    emission_date = $8, entry_date = $9,
			    valor_produtos = $10, valor_frete = $11, valor_seguro = $12,
			    valor_desconto = $13, valor_outras_despesas = $14, valor_ipi = $15,
			    valor_icms = $16, valor_icms_st = $17, valor_pis = $18,
			    valor_cofins = $19, valor_total = $20
			WHERE id = $21`,
			payload.TipoNota, payload.NumeroNota, payload.Serie, payload.ChaveAcesso,
			payload.FornecedorID, payload.FilialID, payload.PedidoCompraID,
			payload.DataEmissao, payload.DataEntrada,
			payload.ValorProdutos, payload.ValorFrete, payload.ValorSeguro, payload.ValorDesconto,
			payload.ValorOutrasDespesas, payload.ValorIPI, payload.ValorICMS, payload.ValorICMSST,
			payload.ValorPIS, payload.ValorCOFINS, payload.ValorTotal, id,
		)
		if err == nil && tag.RowsAffected() == 0 {
			return 0, fmt.Errorf("invoice %d not found", id)
		}
	}
	if err != nil {
		if isUniqueViolation(err) {
			return 0, &ConflictError{Message: fmt.Sprintf(
				"invoice %s series %s already exists for supplier %d",
				payload.NumeroNota, payload.Serie, payload.FornecedorID)}
		}
		return 0, fmt.Errorf("save invoice header: %w", err)
	}

	if invoiceID != nil {
		if _, err := tx.Exec(ctx,
			"DELETE FROM invoice_installments WHERE invoice_id = $1", id); err != nil {
			return 0, fmt.Errorf("clear installments for invoice %d: %w", id, err)
		}
		if _, err := tx.Exec(ctx,
			"DELETE FROM invoice_items WHERE invoice_id = $1", id); err != nil {
			return 0, fmt.Errorf("clear items for invoice %d: %w", id, err)
		}
	}

	for _, item := range payload.Itens {
		if _, err := tx.Exec(ctx, `
			INSERT INTO invoice_items (invoice_id, item_number, product_id, order_line_id,
			                           quantity, unit_price, discount, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, item.NumeroItem, item.ProdutoGenericoID, item.PedidoItemID,
			item.Quantidade, item.ValorUnitario, item.ValorDesconto, item.ValorTotal,
		); err != nil {
			return 0, fmt.Errorf("insert invoice item %d: %w", item.NumeroItem, err)
		}
	}

	for _, p := range payload.Parcelas {
		if _, err := tx.Exec(ctx, `
			INSERT INTO invoice_installments (invoice_id, number, due_date)
			VALUES ($1, $2, $3)`,
			id, p.Numero, p.DataVencimento,
		); err != nil {
			return 0, fmt.Errorf("insert installment %d: %w", p.Numero, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit invoice: %w", err)
	}
	return id, nil
}

func (s *invoiceService) GetInvoice(ctx context.Context, invoiceID int) (*Invoice, error) {
	inv := &Invoice{ID: invoiceID}
	p := &inv.Payload
	if err := s.pool.QueryRow(ctx, `
		SELECT tipo_nota, numero_nota, serie, chave_acesso,
		       supplier_id, branch_id, purchase_order_id,
		       emission_date::text, entry_date::text,
		       valor_produtos, valor_frete, valor_seguro, valor_desconto,
		       valor_outras_despesas, valor_ipi, valor_icms, valor_icms_st,
		       valor_pis, valor_cofins, valor_total
		FROM invoices
		WHERE id = $1`,
		invoiceID,
	).Scan(&p.TipoNota, &p.NumeroNota, &p.Serie, &p.ChaveAcesso,
		&p.FornecedorID, &p.FilialID, &p.PedidoCompraID,
		&p.DataEmissao, &p.DataEntrada,
		&p.ValorProdutos, &p.ValorFrete, &p.ValorSeguro, &p.ValorDesconto,
		&p.ValorOutrasDespesas, &p.ValorIPI, &p.ValorICMS, &p.ValorICMSST,
		&p.ValorPIS, &p.ValorCOFINS, &p.ValorTotal,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d not found", invoiceID)
		}
		return nil, fmt.Errorf("get invoice %d: %w", invoiceID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT item_number, product_id, order_line_id, quantity, unit_price, discount, line_total
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY item_number`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch items for invoice %d: %w", invoiceID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var item PayloadItem
		if err := rows.Scan(&item.NumeroItem, &item.ProdutoGenericoID, &item.PedidoItemID,
			&item.Quantidade, &item.ValorUnitario, &item.ValorDesconto, &item.ValorTotal); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		p.Itens = append(p.Itens, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read items for invoice %d: %w", invoiceID, err)
	}

	prows, err := s.pool.Query(ctx, `
		SELECT number, due_date::text
		FROM invoice_installments
		WHERE invoice_id = $1
		ORDER BY number`,
		invoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch installments for invoice %d: %w", invoiceID, err)
	}
	defer prows.Close()
	for prows.Next() {
		var inst PayloadInstalment
		if err := prows.Scan(&inst.Numero, &inst.DataVencimento); err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		p.Parcelas = append(p.Parcelas, inst)
	}
	if err := prows.Err(); err != nil {
		return nil, fmt.Errorf("read installments for invoice %d: %w", invoiceID, err)
	}

	return inv, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
