/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Build the statutory registry: shipped Ghana tables, then tables
     and components persisted in the database, then an optional
     config file
  4. Create API handler with dependencies
  5. Start server (and run scheduler) with graceful shutdown

COMMAND-LINE FLAGS:
  -port          HTTP server port (default: 8080)
  -db            SQLite database path (default: payroll.db)
                 Use ":memory:" for in-memory database
  -statutory     Optional JSON config file with extra tax/SSNIT tables
                 and components
  -auto-run      Enable the scheduler that computes each period's
                 regular run at pay day (default: true)
  -run-interval  Scheduler check interval (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/payroll.db"

  # Run with 2025 tables loaded from file
  ./server -statutory="./config/statutory-2025.json"

  # Manual-only operation
  ./server -auto-run=false

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
  - factory/config.go: JSON config parsing
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/statutory"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "payroll.db", "SQLite database path")
	statutoryPath := flag.String("statutory", "", "optional JSON config with extra statutory tables")
	autoRun := flag.Bool("auto-run", true, "compute each period's regular run automatically at pay day")
	runInterval := flag.Duration("run-interval", time.Hour, "scheduler check interval")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Build the statutory registry and component catalog
	registry := statutory.NewRegistry()
	factory.Default().Apply(registry)

	if err := loadPersistedConfig(context.Background(), store, registry); err != nil {
		log.Printf("Warning: failed to reload persisted config: %v", err)
	}
	if *statutoryPath != "" {
		if err := loadConfigFile(*statutoryPath, registry); err != nil {
			log.Fatalf("Failed to load statutory config %s: %v", *statutoryPath, err)
		}
		log.Printf("Loaded statutory config from %s", *statutoryPath)
	}

	// Initialize handler, persisting accepted config for the next boot
	handler := api.NewHandler(store, registry)
	handler.SaveTable = func(ctx context.Context, kind, version, effectiveFrom, configJSON string) error {
		from, err := time.Parse("2006-01-02", effectiveFrom)
		if err != nil {
			return err
		}
		return store.SaveStatutoryTable(ctx, sqlite.StatutoryTableRecord{
			Kind:          kind,
			Version:       version,
			EffectiveFrom: from,
			ConfigJSON:    configJSON,
		})
	}
	handler.SaveComponent = func(ctx context.Context, code, configJSON string) error {
		return store.SaveComponentDef(ctx, sqlite.ComponentRecord{
			Code:       code,
			ConfigJSON: configJSON,
		})
	}

	// Create router
	router := api.NewRouter(handler)

	// Scheduler
	scheduler := api.NewRunScheduler(handler)
	scheduler.Enabled = *autoRun
	scheduler.CheckInterval = *runInterval
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Payroll engine listening on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// loadPersistedConfig replays tables and components accepted through the
// API on earlier boots. Bad rows are logged and skipped so one corrupt
// config can't keep payroll down.
func loadPersistedConfig(ctx context.Context, store *sqlite.Store, registry *statutory.Registry) error {
	tables, err := store.ListStatutoryTables(ctx)
	if err != nil {
		return err
	}
	for _, rec := range tables {
		switch rec.Kind {
		case "paye":
			var tj factory.TaxTableJSON
			if err := json.Unmarshal([]byte(rec.ConfigJSON), &tj); err != nil {
				log.Printf("Warning: skipping stored tax table %s: %v", rec.Version, err)
				continue
			}
			t, err := factory.TaxTableFromJSON(tj)
			if err != nil {
				log.Printf("Warning: skipping stored tax table %s: %v", rec.Version, err)
				continue
			}
			registry.RegisterTaxTable(t)
		case "ssnit":
			var sj factory.SSNITJSON
			if err := json.Unmarshal([]byte(rec.ConfigJSON), &sj); err != nil {
				log.Printf("Warning: skipping stored SSNIT table %s: %v", rec.Version, err)
				continue
			}
			t, err := factory.SSNITFromJSON(sj)
			if err != nil {
				log.Printf("Warning: skipping stored SSNIT table %s: %v", rec.Version, err)
				continue
			}
			registry.RegisterSSNITTable(t)
		default:
			log.Printf("Warning: unknown statutory table kind %q (version %s)", rec.Kind, rec.Version)
		}
	}

	comps, err := store.ListComponentDefs(ctx)
	if err != nil {
		return err
	}
	for _, rec := range comps {
		var cj factory.ComponentJSON
		if err := json.Unmarshal([]byte(rec.ConfigJSON), &cj); err != nil {
			log.Printf("Warning: skipping stored component %s: %v", rec.Code, err)
			continue
		}
		comp, err := factory.ComponentFromJSON(cj)
		if err != nil {
			log.Printf("Warning: skipping stored component %s: %v", rec.Code, err)
			continue
		}
		payroll.RegisterComponent(comp)
	}
	return nil
}

// loadConfigFile registers tables and components from a JSON file.
func loadConfigFile(path string, registry *statutory.Registry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, err := factory.NewConfigFactory().ParseConfig(string(raw))
	if err != nil {
		return err
	}
	cfg.Apply(registry)
	return nil
}
