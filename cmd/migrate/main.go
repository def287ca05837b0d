package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"notechart/adapters/sqlstore"
	"notechart/internal/config"
	"notechart/internal/migration"
)

// Applies pending schema migrations and optionally purges expired analysis results.
//
// Usage: migrate [-driver sqlite|postgres] [-url DSN] [-purge]
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	driver := flag.String("driver", cfg.Database.Driver, "database driver")
	url := flag.String("url", cfg.Database.URL, "database URL")
	purge := flag.Bool("purge", false, "delete expired analysis results")
	flag.Parse()

	if *url == "" {
		log.Println("Usage: migrate [-driver sqlite|postgres] [-url DSN] [-purge]")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := sqlstore.Open(ctx, *driver, *url)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	runner := migration.NewRunner()
	if err := runner.Run(ctx, db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	applied, err := runner.Applied(ctx, db)
	if err != nil {
		log.Fatalf("Failed to list applied migrations: %v", err)
	}
	log.Printf("Schema at %s (%d migrations applied)", runner.Version(), len(applied))

	if *purge {
		n, err := sqlstore.NewResultStore(db).Purge(ctx)
		if err != nil {
			log.Fatalf("Purge failed: %v", err)
		}
		log.Printf("Purged %d expired analysis results", n)
	}
}
