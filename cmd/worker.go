package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/fleet-billing/internal"
	"github.com/frahmantamala/fleet-billing/internal/billing"
	billingpostgres "github.com/frahmantamala/fleet-billing/internal/billing/postgres"
	"github.com/frahmantamala/fleet-billing/internal/core/events"
	"github.com/frahmantamala/fleet-billing/internal/gateway"
	"github.com/frahmantamala/fleet-billing/internal/notifier"
	"github.com/frahmantamala/fleet-billing/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start and manage background workers such as the stale payment sweeper.`,
}

var sweepWorkerCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Start the stale payment sweeper",
	Long:  `Periodically re-checks stale PENDING payments against the gateway and reconciles them.`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweepWorker()
	},
}

var (
	sweepInterval   time.Duration
	sweepStaleAfter time.Duration
	sweepBatchSize  int
	sweepWorkers    int
)

func startSweepWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(os.Getenv("APP_ENV"))
	appLogger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	gormDB, err := initGorm(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize orm: %v\n", err)
		os.Exit(1)
	}

	sweeperConfig := internal.SweeperConfig{
		Interval:   getDurationFlag(sweepInterval, config.Sweeper.Interval),
		StaleAfter: getDurationFlag(sweepStaleAfter, config.Sweeper.StaleAfter),
		BatchSize:  getIntFlag(sweepBatchSize, config.Sweeper.BatchSize),
		Workers:    getIntFlag(sweepWorkers, config.Sweeper.Workers),
	}

	eventBus := events.NewEventBus(appLogger)
	gatewayClient := gateway.NewClient(config.Gateway, appLogger)
	repo := billingpostgres.NewBillingRepository(gormDB)
	billingService := billing.NewService(repo, gatewayClient, gatewayClient, eventBus, appLogger, config.Gateway.PollTimeout)

	// The sweeper can confirm payments, so it carries the same notifier
	// wiring as the server.
	var mailer notifier.Mailer = notifier.NoopMailer{}
	if config.Notifier.Enabled {
		mailer = notifier.NewSMTPMailer(config.Notifier)
	}
	notifier.NewService(repo, mailer, config.Notifier.OpsEmail, appLogger).RegisterHandlers(eventBus)

	sweeper := billing.NewSweeper(billingService, sweeperConfig, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	appLogger.Info("sweep worker is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	appLogger.Info("received signal, shutting down sweep worker", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	select {
	case <-done:
		appLogger.Info("sweep worker shutdown complete")
	case <-shutdownCtx.Done():
		appLogger.Warn("shutdown timeout reached, forcing exit")
	}

	if err := db.Close(); err != nil {
		appLogger.Error("database close error", "error", err)
	}
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	sweepWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Sweep interval (overrides config)")
	sweepWorkerCmd.Flags().DurationVar(&sweepStaleAfter, "stale-after", 0, "Age before a pending payment is considered stale (overrides config)")
	sweepWorkerCmd.Flags().IntVar(&sweepBatchSize, "batch-size", 0, "Maximum payments per sweep (overrides config)")
	sweepWorkerCmd.Flags().IntVar(&sweepWorkers, "workers", 0, "Number of reconciliation workers (overrides config)")

	workerCmd.AddCommand(sweepWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
