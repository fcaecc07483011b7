/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  serve    (default) HTTP server
  migrate  Create or update the SQLite schema and exit

STARTUP SEQUENCE:
  1. Load .env (godotenv), then --config YAML, then environment
  2. Apply command-line flags
  3. Initialize logger and SQLite store
  4. Choose dispatcher: WhatsApp when credentials exist, log otherwise
  5. Build engine, handler and router
  6. Start the payment reminder scheduler
  7. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reminder scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server serve --db="./data/billing.db"

  # Run with in-memory database
  ./server --db=":memory:"

  # Schema only
  ./server migrate --db="./data/billing.db"

SEE ALSO:
  - api/server.go: Router configuration
  - internal/config/config.go: Environment keys
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/leadsbox/billing-engine/api"
	"github.com/leadsbox/billing-engine/billing"
	"github.com/leadsbox/billing-engine/internal/config"
	"github.com/leadsbox/billing-engine/internal/logger"
	"github.com/leadsbox/billing-engine/notify"
	"github.com/leadsbox/billing-engine/store/sqlite"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	configFile string
	portFlag   int
	dbFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Invoice and payment-claim reconciliation service",
	Long: `Runs the billing engine: invoices, payment claims, staff
verification and receipts, over HTTP with SQLite storage.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (keys as in the environment)")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "HTTP server port (overrides PORT)")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", `SQLite database path, ":memory:" allowed (overrides DB_PATH)`)
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves settings: flags > environment > .env > config file > defaults.
// godotenv exports .env first, and LoadFile never overrides a variable that
// is already set, so .env beats the --config file.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if configFile != "" {
		if err := config.LoadFile(configFile); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if dbFlag != "" {
		cfg.DBPath = dbFlag
	}
	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg := logger.WithComponent("migrate")

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	lg.Info().Str("db", cfg.DBPath).Msg("schema up to date")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg := logger.WithComponent("main")

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	var dispatcher billing.Dispatcher
	if cfg.WhatsAppAccessToken != "" {
		dispatcher = notify.NewWhatsApp(cfg.WhatsAppPhoneNumberID, cfg.WhatsAppAccessToken, cfg.WhatsAppAPIBase, log.Logger)
	} else {
		lg.Warn().Msg("WHATSAPP_ACCESS_TOKEN not set, buyer messages will only be logged")
		dispatcher = notify.NewLog(log.Logger)
	}

	engine := billing.NewEngine(store, dispatcher, cfg.EngineConfig(),
		billing.WithLogger(logger.WithComponent("billing")))
	handler := api.NewHandler(engine, log.Logger)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	reminders := api.NewReminderScheduler(engine, log.Logger)
	reminders.CheckInterval = cfg.ReminderInterval
	reminders.After = cfg.ReminderAfter
	reminders.Batch = cfg.ReminderBatch
	reminders.Start()
	defer reminders.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		lg.Info().Int("port", cfg.Port).Str("db", cfg.DBPath).Str("version", version).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	lg.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	lg.Info().Msg("server stopped")
	return nil
}
