package main

import (
	"context"
	"log"
	"os"

	"github.com/safar/go-storefront/internal/config"
	"github.com/safar/go-storefront/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := database.Direction(os.Args[1])
	if direction != database.Up && direction != database.Down {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(context.Background(), &cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db, direction); err != nil {
		log.Fatalf("Migrate %s: %v", direction, err)
	}

	log.Printf("Migrations %s completed", direction)
}
