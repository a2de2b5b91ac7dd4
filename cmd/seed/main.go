package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"minicrm/internal/config"
	"minicrm/internal/models"
	"minicrm/internal/repository"
	"minicrm/internal/rules"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// Command-line flags
var (
	customersCount = flag.Int("customers", 12, "Number of customers to create")
	ordersPer      = flag.Int("orders", 3, "Maximum orders per customer")
	withSegments   = flag.Bool("segments", true, "Create example segments")
	showHelp       = flag.Bool("help", false, "Show usage information")
)

func main() {
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	printInfo("=== MiniCRM Database Seeder ===\n")

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

	ctx := context.Background()
	store := repository.NewStore(db)

	customersCreated, ordersCreated, err := seedCustomers(ctx, store, *customersCount, *ordersPer)
	if err != nil {
		printError(fmt.Sprintf("Failed to seed customers: %v", err))
		os.Exit(1)
	}

	segmentsCreated := 0
	if *withSegments {
		segmentsCreated, err = seedSegments(ctx, store)
		if err != nil {
			printError(fmt.Sprintf("Failed to seed segments: %v", err))
			os.Exit(1)
		}
	}

	printInfo("\n=== Seeding Summary ===")
	printSuccess(fmt.Sprintf("✓ Customers created: %d", customersCreated))
	printSuccess(fmt.Sprintf("✓ Orders created: %d", ordersCreated))
	printSuccess(fmt.Sprintf("✓ Segments created: %d", segmentsCreated))
	printInfo("\nSeeding completed successfully!")
}

// seedCustomers inserts customers and folds a few orders into each one's aggregates
func seedCustomers(ctx context.Context, store repository.Store, count, maxOrders int) (int, int, error) {
	printInfo(fmt.Sprintf("Seeding %d customers...", count))

	names := []string{"Asha Kamau", "Brian Ochieng", "Chebet Kiptoo", "Daniel Mwangi", "Esther Atieno", "Faith Wanjiku", "George Omondi", "Halima Nzomo"}
	cities := []string{"Nairobi", "Mombasa", "Kisumu", "Eldoret", "Nakuru"}
	now := time.Now().UTC()

	customersCreated, ordersCreated := 0, 0
	for i := 1; i <= count; i++ {
		customer := &models.Customer{
			CustomerID:       fmt.Sprintf("seed-cust-%03d", i),
			Name:             names[i%len(names)],
			Email:            fmt.Sprintf("seed.customer%03d@example.com", i),
			Phone:            fmt.Sprintf("+254700010%03d", i),
			RegistrationDate: now.AddDate(0, -i, 0),
		}
		// Some customers have no city
		if i%4 != 0 {
			customer.City = stringPtr(cities[i%len(cities)])
		}

		err := store.WithinTx(ctx, func(tx repository.Store) error {
			created, err := tx.Customers().Create(ctx, customer)
			if err != nil {
				return err
			}
			if !created {
				return nil
			}
			customersCreated++

			for j := 1; j <= i%(maxOrders+1); j++ {
				amount := decimal.NewFromInt(int64(500 * i * j))
				order := &models.Order{
					OrderID:    fmt.Sprintf("seed-ord-%03d-%d", i, j),
					CustomerID: customer.CustomerID,
					Amount:     amount,
					Items: []models.OrderItem{
						{SKU: fmt.Sprintf("SKU-%d", j), Name: "Seed item", Quantity: 1, Price: amount},
					},
					OrderDate: now.AddDate(0, 0, -30*j),
					Status:    models.DefaultOrderStatus,
				}

				inserted, err := tx.Orders().Create(ctx, order)
				if err != nil {
					return err
				}
				if !inserted {
					continue
				}
				if _, err := tx.Customers().ApplyOrder(ctx, order.CustomerID, order.Amount, order.OrderDate); err != nil {
					return err
				}
				ordersCreated++
			}
			return nil
		})
		if err != nil {
			return customersCreated, ordersCreated, fmt.Errorf("failed to insert customer %s: %w", customer.CustomerID, err)
		}
	}

	printSuccess(fmt.Sprintf("✓ Seeded %d customers (skipped %d existing)", customersCreated, count-customersCreated))
	return customersCreated, ordersCreated, nil
}

// seedSegments creates a couple of segments that match the seeded customers
func seedSegments(ctx context.Context, store repository.Store) (int, error) {
	printInfo("Seeding segments...")

	segments := []*models.Segment{
		{
			Name:        "High spenders",
			Description: stringPtr("Customers who spent more than 5000"),
			Rules: []models.Rule{
				{ID: "1", Field: models.FieldTotalSpent, Operator: models.OpGreater, Value: 5000},
			},
		},
		{
			Name:        "Dormant Nairobi buyers",
			Description: stringPtr("Nairobi customers with no order in 60 days"),
			Rules: []models.Rule{
				{ID: "1", Field: models.FieldCity, Operator: models.OpEqual, Value: "Nairobi", Logic: models.LogicAnd},
				{ID: "2", Field: models.FieldLastOrderDate, Operator: models.OpOlderThan, Value: 60},
			},
		},
	}

	created := 0
	for _, segment := range segments {
		segment.SegmentID = uuid.NewString()
		segment.CreatedBy = stringPtr("seed")

		size, err := store.Customers().CountMatching(ctx, rules.Compile(segment.Rules))
		if err != nil {
			return created, fmt.Errorf("failed to size segment %s: %w", segment.Name, err)
		}
		segment.AudienceSize = size

		if err := store.Segments().Create(ctx, segment); err != nil {
			return created, fmt.Errorf("failed to insert segment %s: %w", segment.Name, err)
		}
		created++
	}

	printSuccess(fmt.Sprintf("✓ Seeded %d segments", created))
	return created, nil
}

// Helper functions

// stringPtr returns a pointer to a string
func stringPtr(s string) *string {
	return &s
}

// printSuccess prints a success message in green
func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

// printError prints an error message in red
func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, msg, colorReset)
}

// printInfo prints an info message in cyan
func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

// printWarning prints a warning message in yellow
func printWarning(msg string) {
	fmt.Printf("%s%s%s\n", colorYellow, msg, colorReset)
}

// printUsage displays usage information
func printUsage() {
	printInfo("=== MiniCRM Database Seeder ===\n")
	fmt.Println("Usage: go run ./cmd/seed [flags]")
	fmt.Println("\nFlags:")
	flag.PrintDefaults()
	fmt.Println("\nExamples:")
	fmt.Println("  go run ./cmd/seed")
	fmt.Println("  go run ./cmd/seed -customers=50 -orders=5")
	fmt.Println("  go run ./cmd/seed -segments=false")
	fmt.Println("\nNotes:")
	fmt.Println("  - Customer ids use the pattern seed-cust-XXX")
	printWarning("  - Customers are idempotent, segments are created on every run")
}
