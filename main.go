// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/soothill/alert-destinations/alert"
	"github.com/soothill/alert-destinations/app"
	"github.com/soothill/alert-destinations/config"
	"github.com/soothill/alert-destinations/destination"
	"github.com/soothill/alert-destinations/dispatch"
	"github.com/soothill/alert-destinations/pkg/logger"
	"github.com/soothill/alert-destinations/storage"
)

const healthCheckTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	listenAddress := flag.String("listen", "", "Listen address, overrides server.listen_address")
	healthCheck := flag.Bool("health-check", false, "Check the delivery history backend and exit")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	testDestination := flag.String("test-destination", "", "Send a test alert to the named destination and exit")
	flag.Parse()

	if *healthCheck {
		os.Exit(performHealthCheck(*configPath))
	}

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath, os.Stdout))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *listenAddress != "" {
		cfg.Server.ListenAddress = *listenAddress
	}

	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)

	if *testDestination != "" {
		os.Exit(performTestDelivery(cfg, *testDestination))
	}

	logger.Info().Msg("Starting alert destination host")
	logger.Info().Str("listen_address", cfg.Server.ListenAddress).
		Int("destinations", len(cfg.Destinations)).
		Bool("history", cfg.History.Enabled()).
		Msg("Configuration loaded")

	application, err := app.New(cfg, *configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create application")
	}

	setupDebugSignalHandlers(application)
	application.Run()
}

// performHealthCheck performs a health check and returns exit code
func performHealthCheck(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not load config: %v\n", err)
		return 1
	}

	if !cfg.History.Enabled() {
		fmt.Println("Health check passed: delivery history is disabled")
		return 0
	}

	influx := cfg.History.InfluxDB
	history, err := storage.NewInfluxDBHistory(influx.URL, influx.Token, influx.Organization, influx.Bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: could not create InfluxDB client: %v\n", err)
		return 1
	}
	defer history.Close()

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := history.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: InfluxDB is unhealthy: %v\n", err)
		return 1
	}

	fmt.Println("Health check passed: InfluxDB is healthy")
	return 0
}

// performConfigValidation validates the configuration file and returns exit code
func performConfigValidation(configPath string, out io.Writer) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("Validating configuration file")

	if err := config.ValidateWithSchema(configPath); err != nil {
		logger.Error().Err(err).Msg("Configuration schema validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Configuration validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	registry := destination.DefaultRegistry()
	dispatcher, err := dispatch.New(registry, cfg.Destinations)
	if err != nil {
		logger.Error().Err(err).Msg("Destination validation failed")
		fmt.Fprintf(os.Stderr, "\n❌ Configuration validation FAILED\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		return 1
	}

	fmt.Fprintln(out, "\n✅ Configuration validation PASSED")
	fmt.Fprintln(out, "\nConfiguration summary:")
	fmt.Fprintf(out, "  Listen Address: %s\n", cfg.Server.ListenAddress)
	fmt.Fprintf(out, "  Max Concurrent Deliveries: %d\n", cfg.Server.MaxConcurrentDeliveries)
	fmt.Fprintf(out, "  Log Level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(out, "  Log Format: %s\n", cfg.Logging.Format)
	fmt.Fprintf(out, "  Destinations: %d\n", len(dispatcher.Targets()))
	for _, t := range dispatcher.Targets() {
		fmt.Fprintf(out, "    - %s (%s)\n", t.Name, t.Type)
	}

	if cfg.CircuitBreaker.Enabled {
		fmt.Fprintf(out, "  Circuit Breaker: Enabled (%d failures, %s open)\n",
			cfg.CircuitBreaker.MaxFailures, cfg.CircuitBreaker.OpenTimeout)
	} else {
		fmt.Fprintln(out, "  Circuit Breaker: Disabled")
	}

	if cfg.History.Enabled() {
		fmt.Fprintf(out, "  Delivery History: InfluxDB %s (org %s, bucket %s)\n",
			cfg.History.InfluxDB.URL, cfg.History.InfluxDB.Organization, cfg.History.InfluxDB.Bucket)
	} else {
		fmt.Fprintln(out, "  Delivery History: Disabled")
	}

	fmt.Fprintln(out, "\nAll validation checks passed. Configuration is ready for use.")
	return 0
}

// performTestDelivery sends a sample triggered alert to one destination and
// returns exit code
func performTestDelivery(cfg *config.Config, name string) int {
	dispatcher, err := dispatch.New(destination.DefaultRegistry(), cfg.Destinations)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to configure destinations")
		return 1
	}

	result, err := dispatcher.Send(context.Background(), name, testAlert(name), alert.StateTriggered)
	if err != nil {
		logger.Error().Err(err).Msg("Test delivery failed")
		return 1
	}
	if result.Err != nil {
		fmt.Fprintf(os.Stderr, "Test delivery to %s failed (%s): %v\n", name, result.Outcome, result.Err)
		return 1
	}

	fmt.Printf("Test delivery to %s succeeded in %s\n", name, result.Duration.Round(time.Millisecond))
	return 0
}

func testAlert(name string) *alert.Event {
	return &alert.Event{
		AlertName:   "Test alert",
		Subject:     "Sent to verify the " + name + " destination",
		Description: "If you can read this, the destination is configured correctly.",
	}
}
