package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// OrderService provides the purchase-order side of the reconciliation
// contract: order detail and the quantity ledger.
type OrderService interface {
	// GetOrder returns a purchase order by ID, including all lines.
	GetOrder(ctx context.Context, orderID int) (*PurchaseOrder, error)

	// QuantitiesInvoicedElsewhere sums received quantities of all other
	// invoices linked to the order, keyed per order line. When
	// excludeInvoiceID is non-nil that invoice's own contribution is left
	// out, so an edit session can redistribute its previously saved
	// quantities without being blocked by them.
	QuantitiesInvoicedElsewhere(ctx context.Context, orderID int, excludeInvoiceID *int) (QuantityLedger, error)
}

type orderService struct {
	pool *pgxpool.Pool
}

// NewOrderService constructs an OrderService backed by PostgreSQL.
func NewOrderService(pool *pgxpool.Pool) OrderService {
	return &orderService{pool: pool}
}

func (s *orderService) GetOrder(ctx context.Context, orderID int) (*PurchaseOrder, error) {
	po := &PurchaseOrder{}
	if err := s.pool.QueryRow(ctx, `
		SELECT id, supplier_id, branch_id, payment_term_text
		FROM purchase_orders
		WHERE id = $1`,
		orderID,
	).Scan(&po.ID, &po.SupplierID, &po.BranchID, &po.PaymentTermText); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("purchase order %d not found", orderID)
		}
		return nil, fmt.Errorf("get purchase order %d: %w", orderID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_id, product_name, unit, ordered_quantity, unit_price
		FROM purchase_order_lines
		WHERE order_id = $1
		ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch lines for order %d: %w", orderID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var l PurchaseOrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName,
			&l.Unit, &l.OrderedQuantity, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		po.Lines = append(po.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read lines for order %d: %w", orderID, err)
	}
	return po, nil
}

func (s *orderService) QuantitiesInvoicedElsewhere(ctx context.Context, orderID int, excludeInvoiceID *int) (QuantityLedger, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ii.product_id, ii.order_line_id, COALESCE(SUM(ii.quantity), 0)
		FROM invoice_items ii
		JOIN invoices i ON i.id = ii.invoice_id
		WHERE i.purchase_order_id = $1
		  AND ($2::int IS NULL OR i.id <> $2)
		GROUP BY ii.product_id, ii.order_line_id`,
		orderID, excludeInvoiceID,
	)
	if err != nil {
		return nil, fmt.Errorf("sum invoiced quantities for order %d: %w", orderID, err)
	}
	defer rows.Close()

	ledger := QuantityLedger{}
	for rows.Next() {
		var productID, orderLineID *int
		var qty decimal.Decimal
		if err := rows.Scan(&productID, &orderLineID, &qty); err != nil {
			return nil, fmt.Errorf("scan invoiced quantity: %w", err)
		}
		var key LineKey
		switch {
		case productID != nil:
			key = LineKey(fmt.Sprintf("product_%d", *productID))
		case orderLineID != nil:
			key = LineKey(fmt.Sprintf("item_%d", *orderLineID))
		default:
			continue // free-form item, not reconciled against the order
		}
		ledger[key] = ledger[key].Add(qty)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read invoiced quantities for order %d: %w", orderID, err)
	}
	return ledger, nil
}
