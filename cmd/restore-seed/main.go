// restore-seed is a one-shot tool to restore the development seed data:
// a supplier, a branch, and a purchase order with open lines to draft
// invoices against.
//
// Usage: go run ./cmd/restore-seed
package main

import (
	"context"
	"log"

	"invoice-engine/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatalf("Failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	log.Println("Clearing seed invoices...")
	_, err = tx.Exec(ctx, `
		DELETE FROM invoice_installments WHERE invoice_id IN (
			SELECT id FROM invoices WHERE supplier_id IN (
				SELECT id FROM suppliers WHERE name = 'Moinho Paulista Ltda'
			)
		);
		DELETE FROM invoice_items WHERE invoice_id IN (
			SELECT id FROM invoices WHERE supplier_id IN (
				SELECT id FROM suppliers WHERE name = 'Moinho Paulista Ltda'
			)
		);
		DELETE FROM invoices WHERE supplier_id IN (
			SELECT id FROM suppliers WHERE name = 'Moinho Paulista Ltda'
		);
	`)
	if err != nil {
		log.Fatalf("Failed to clear seed invoices: %v", err)
	}

	log.Println("Restoring supplier and branch...")
	_, err = tx.Exec(ctx, `
		INSERT INTO suppliers (name)
		SELECT 'Moinho Paulista Ltda'
		WHERE NOT EXISTS (SELECT 1 FROM suppliers WHERE name = 'Moinho Paulista Ltda');

		INSERT INTO branches (name)
		SELECT 'Matriz - São Paulo'
		WHERE NOT EXISTS (SELECT 1 FROM branches WHERE name = 'Matriz - São Paulo');
	`)
	if err != nil {
		log.Fatalf("Failed to restore supplier/branch: %v", err)
	}

	log.Println("Restoring purchase order...")
	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (supplier_id, branch_id, payment_term_text)
		SELECT s.id, b.id, '28 DDL (28/35/42 dias)'
		FROM suppliers s, branches b
		WHERE s.name = 'Moinho Paulista Ltda'
		  AND b.name = 'Matriz - São Paulo'
		RETURNING id`,
	).Scan(&orderID)
	if err != nil {
		log.Fatalf("Failed to restore purchase order: %v", err)
	}

	log.Println("Restoring purchase order lines...")
	_, err = tx.Exec(ctx, `
		INSERT INTO purchase_order_lines (order_id, product_id, product_name, unit, ordered_quantity, unit_price)
		VALUES
			($1, 100,  'Farinha de trigo especial 25kg', 'sc', 200, 89.90),
			($1, 101,  'Fermento biológico seco 500g',   'cx', 48,  31.25),
			($1, NULL, 'Frete dedicado',                 'un', 1,   350.00)`,
		orderID,
	)
	if err != nil {
		log.Fatalf("Failed to restore order lines: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatalf("Failed to commit: %v", err)
	}
	log.Printf("Seed data restored. Purchase order %d is ready for drafting.", orderID)
}
