// +build ignore

// seed_data.go registers the demo sensor fleet in the Postgres archive.
// Run with: go run scripts/seed_data.go
package main

import (
	"context"
	"log"
	"os"

	"github.com/kubo-market/sensorwatch/internal/seed"
	"github.com/kubo-market/sensorwatch/internal/storage"
)

func main() {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "postgres://postgres@localhost:5432/sensorwatch?sslmode=disable"
	}

	ctx := context.Background()
	db, err := storage.NewPostgresDB(ctx, dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	log.Println("Connected, seeding sensors...")
	if _, err := db.ExecContext(ctx, seed.GenerateSQL(seed.DemoFleet())); err != nil {
		log.Fatalf("seed: %v", err)
	}

	var count int
	db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sensors").Scan(&count)
	log.Printf("Done. %d sensors archived.", count)
}
