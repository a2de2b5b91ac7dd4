package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"minicrm/internal/config"
	"minicrm/internal/migration"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func main() {
	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	printInfo("=== MiniCRM Migration Runner ===\n")

	command := "help"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command != "up" && command != "down" && command != "version" {
		printUsage()
		if command != "help" {
			os.Exit(1)
		}
		os.Exit(0)
	}

	steps := 1
	if command == "down" && len(os.Args) > 2 {
		n, err := strconv.Atoi(os.Args[2])
		if err != nil || n <= 0 {
			printError(fmt.Sprintf("Invalid step count %q", os.Args[2]))
			os.Exit(1)
		}
		steps = n
	}

	cfg, err := config.Load()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}

	printInfo("Connecting to database...")
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		printError(fmt.Sprintf("Failed to open database connection: %v", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		printError(fmt.Sprintf("Failed to ping database: %v", err))
		os.Exit(1)
	}
	printSuccess("✓ Connected to database\n")

	switch command {
	case "up":
		err = migration.RunMigrations(db)
	case "down":
		printWarning(fmt.Sprintf("Rolling back %d migration(s)...", steps))
		err = migration.Rollback(db, steps)
	}
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	version, dirty, err := migration.Version(db)
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	if dirty {
		printWarning(fmt.Sprintf("Schema version %d is dirty, fix it before migrating again", version))
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("✓ Schema version: %d", version))
}

// Helper functions for colored output

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func printWarning(msg string) {
	fmt.Printf("%s%s%s\n", colorYellow, msg, colorReset)
}

func printUsage() {
	fmt.Println("Usage: go run ./cmd/migrate [command]")
	fmt.Println("\nCommands:")
	fmt.Println("  up         - Apply all pending migrations")
	fmt.Println("  down [n]   - Roll back the last n migrations (default 1)")
	fmt.Println("  version    - Show the applied schema version")
	fmt.Println("  help       - Show this help message")
	fmt.Println("\nNotes:")
	fmt.Println("  - Migrations are embedded in the binary and tracked in 'schema_migrations'")
	fmt.Println("  - cmd/api applies pending migrations on startup")
}
