package main

import (
	"context"
	"log"
	"net/http"
	"os"

	webAdapter "invoice-engine/internal/adapters/web"
	"invoice-engine/internal/app"
	"invoice-engine/internal/core"
	"invoice-engine/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	pool, err := db.NewPool(ctx)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer pool.Close()

	orderService := core.NewOrderService(pool)
	invoiceService := core.NewInvoiceService(pool)
	svc := app.NewAppService(orderService, invoiceService)

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	handler := webAdapter.NewHandler(svc, allowedOrigins)

	log.Printf("server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("server: %v", err)
	}
}
