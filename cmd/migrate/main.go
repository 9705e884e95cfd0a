package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"eventflow/internal/config"
	"eventflow/pkg/database"

	"github.com/joho/godotenv"
)

const usage = `
eventflow - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Run all SQL migrations
  status      Show database connection status
  reset       Drop all tables and re-run migrations (DANGEROUS)

Flags:
  -migrations string   Path to migrations directory (default "migrations")

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go status
  go run cmd/migrate/main.go reset
`

func main() {
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	command := flag.Arg(0)

	_ = godotenv.Load()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	switch command {
	case "up":
		if err := database.ApplyRawMigrations(ctx, pool, *migrationsDir); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations applied")

	case "status":
		if err := database.HealthCheck(ctx, pool); err != nil {
			log.Fatalf("Database unreachable: %v", err)
		}
		log.Println("Database connection OK")

	case "reset":
		if _, err := pool.Exec(ctx, `
            DROP TABLE IF EXISTS rule_executions, rule_versions, rules, event_attempts, events CASCADE
        `); err != nil {
			log.Fatalf("Drop failed: %v", err)
		}
		if err := database.ApplyRawMigrations(ctx, pool, *migrationsDir); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Database reset")

	default:
		flag.Usage()
		os.Exit(1)
	}
}
