package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Standalone schema runner for environments where the server should not
// migrate on boot.
func main() {
	var (
		migrationsPath = flag.String("migrations", "./migrations", "path to migration files")
		databasePath   = flag.String("db", "./data/devicehub.db", "path to the sqlite database")
		command        = flag.String("cmd", "up", "up, down or version")
	)
	flag.Parse()

	m, err := migrate.New(
		"file://"+*migrationsPath,
		fmt.Sprintf("sqlite3://%s", *databasePath),
	)
	if err != nil {
		log.Fatalf("Failed to create migrate instance: %v", err)
	}

	switch *command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("Migrations applied")
	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Migrations rolled back")
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("Failed to read version: %v", err)
		}
		log.Printf("Schema version %d (dirty=%v)", version, dirty)
	default:
		log.Fatalf("Unknown command %q, use up, down or version", *command)
	}
}
