package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/opentrusty/provisioner/internal/store/postgres"
)

// Usage: migrate [up|status|reset] [database-url]
// The URL defaults to DATABASE_URL.
func main() {
	ctx := context.Background()
	_ = godotenv.Load()

	cmd := "up"
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "up" || args[0] == "status" || args[0] == "reset") {
		cmd, args = args[0], args[1:]
	}

	connStr := os.Getenv("DATABASE_URL")
	if len(args) > 0 {
		connStr = args[0]
	}
	if connStr == "" {
		log.Fatal("database URL required: pass it as an argument or set DATABASE_URL")
	}

	if cmd == "status" {
		if err := postgres.MigrationStatus(ctx, connStr); err != nil {
			log.Fatalf("Failed to read migration status: %v", err)
		}
		return
	}

	if cmd == "reset" {
		if err := postgres.Reset(ctx, connStr); err != nil {
			log.Fatalf("Reset failed: %v", err)
		}
		fmt.Println("✓ Database reset")
		return
	}

	if err := postgres.Migrate(ctx, connStr); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Println("✓ Migrations completed successfully")
}
