package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"invoice-engine/internal/core"
	"invoice-engine/internal/db"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		log.Fatal("Usage: app <parse-term|schedule|assemble|available> ...")
	}

	switch os.Args[1] {
	case "parse-term":
		if len(os.Args) < 3 {
			log.Fatal("Usage: app parse-term \"<payment term text>\"")
		}
		offsets := core.ParsePaymentTerm(os.Args[2])
		enc := json.NewEncoder(os.Stdout)
		enc.Encode(offsets)

	case "schedule":
		if len(os.Args) < 4 {
			log.Fatal("Usage: app schedule <emission YYYY-MM-DD> \"<payment term text>\"")
		}
		emission, err := time.Parse("2006-01-02", os.Args[2])
		if err != nil {
			log.Fatalf("Invalid emission date: %v", err)
		}
		sched := core.ComputeAll(emission, core.ParsePaymentTerm(os.Args[3]))
		for i, slot := range sched {
			fmt.Printf("parcela %d: %s\n", i+1, slot.Date.Format("2006-01-02"))
		}

	case "assemble":
		var input draftInput
		if err := json.NewDecoder(os.Stdin).Decode(&input); err != nil {
			log.Fatalf("Invalid JSON: %v", err)
		}
		payload, err := core.Assemble(input.Form, input.lines(), input.schedule())
		if err != nil {
			log.Fatalf("Validation failed: %v", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(payload)

	case "available":
		if len(os.Args) < 3 {
			log.Fatal("Usage: app available <order-id> [exclude-invoice-id]")
		}
		orderID, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("Invalid order id: %v", err)
		}
		var exclude *int
		if len(os.Args) > 3 {
			id, err := strconv.Atoi(os.Args[3])
			if err != nil {
				log.Fatalf("Invalid invoice id: %v", err)
			}
			exclude = &id
		}
		printAvailability(orderID, exclude)

	default:
		log.Fatalf("Unknown command: %s", os.Args[1])
	}
}

// draftInput is the CLI shape of a draft: form fields, lines, and due dates.
type draftInput struct {
	Form     core.DraftForm `json:"form"`
	Itens    []itemInput    `json:"itens"`
	Parcelas []string       `json:"parcelas"` // YYYY-MM-DD
}

type itemInput struct {
	Descricao         string          `json:"descricao"`
	ProdutoGenericoID *int            `json:"produto_generico_id,omitempty"`
	PedidoItemID      *int            `json:"pedido_item_id,omitempty"`
	Quantidade        decimal.Decimal `json:"quantidade"`
	ValorUnitario     decimal.Decimal `json:"valor_unitario"`
}

// lines converts the CLI items into draft lines. The CLI has no ledger, so
// availability equals the entered quantity.
func (d draftInput) lines() []core.InvoiceLine {
	var lines []core.InvoiceLine
	for _, item := range d.Itens {
		l := core.InvoiceLine{
			Description:       item.Descricao,
			ProductID:         item.ProdutoGenericoID,
			AvailableQuantity: item.Quantidade,
			ReceivedQuantity:  item.Quantidade,
			UnitPrice:         item.ValorUnitario,
		}
		if item.PedidoItemID != nil {
			l.OrderLineID = *item.PedidoItemID
		}
		lines = append(lines, l)
	}
	return lines
}

func (d draftInput) schedule() core.InstallmentSchedule {
	sched := make(core.InstallmentSchedule, len(d.Parcelas))
	for i, raw := range d.Parcelas {
		due, err := time.Parse("2006-01-02", raw)
		if err != nil {
			continue // left unset; assembly reports the incomplete schedule
		}
		sched[i] = core.InstallmentSlot{State: core.SlotComputed, Date: due}
	}
	return sched
}

func printAvailability(orderID int, exclude *int) {
	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	orders := core.NewOrderService(pool)
	order, err := orders.GetOrder(ctx, orderID)
	if err != nil {
		log.Fatalf("Failed to fetch order: %v", err)
	}
	ledger, err := orders.QuantitiesInvoicedElsewhere(ctx, orderID, exclude)
	if err != nil {
		log.Fatalf("Failed to fetch ledger: %v", err)
	}

	fmt.Printf("%-8s %-30s %12s %12s %12s\n", "LINE", "PRODUCT", "ORDERED", "INVOICED", "AVAILABLE")
	for _, line := range order.Lines {
		invoiced := ledger[core.KeyForOrderLine(line)]
		avail := core.AvailableQuantity(line, ledger)
		fmt.Printf("%-8d %-30s %12s %12s %12s\n",
			line.ID, line.ProductName,
			line.OrderedQuantity.StringFixed(4), invoiced.StringFixed(4), avail.StringFixed(4))
	}
}
