// proctorwire is the exam relay: it accepts student and supervisor
// WebSocket connections, routes student telemetry to supervisors, and
// serves the session REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"proctorwire/internal/app"
	"proctorwire/internal/config"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatal(err)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
func run(args []string) error {
	// STEP 1: Load configuration with precedence (flags > file > env > defaults)
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// STEP 4: Start application
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 5: Wait for shutdown signal
	<-ctx.Done()
	log.Printf("Received shutdown signal, shutting down gracefully")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

// loadConfig parses flags, loads the config file they name, and applies the
// flags that were set explicitly.
func loadConfig(args []string) (*config.Config, error) {
	flagSet := pflag.NewFlagSet("proctorwire", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", os.Getenv("PROCTORWIRE_CONFIG_FILE"), "path to a JSON or YAML config file")
	host := flagSet.String("host", "", "HTTP listen host")
	port := flagSet.IntP("port", "p", 0, "HTTP listen port")
	dbPath := flagSet.String("db", "", "SQLite database path")
	rateLimit := flagSet.Int("rate-limit", 0, "messages allowed per student per rate window")
	statsInterval := flagSet.Duration("stats-interval", 0, "interval between session_stats broadcasts")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return nil, err
	}

	if flagSet.Changed("host") {
		cfg.HTTP.Host = *host
	}
	if flagSet.Changed("port") {
		cfg.HTTP.Port = *port
	}
	if flagSet.Changed("db") {
		cfg.Database.Path = *dbPath
	}
	if flagSet.Changed("rate-limit") {
		cfg.Relay.RateLimit = *rateLimit
	}
	if flagSet.Changed("stats-interval") {
		cfg.Relay.StatsInterval = *statsInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
