package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/candle-sync/internal/cache"
	"github.com/candle-sync/internal/database"
	"github.com/candle-sync/internal/engine"
	"github.com/candle-sync/internal/messaging"
	"github.com/candle-sync/internal/provider"
	"github.com/candle-sync/internal/scheduler"
	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/logger"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the periodic sync scheduler",
	Long: `Run the sync scheduler as a long-lived process.

Every scheduler interval, each active asset gets one sync run. Runs for
distinct assets execute concurrently under the configured worker bound;
reports are stored in MySQL, cached in Redis, and published on NATS.

The daemon shuts down gracefully on SIGINT/SIGTERM; committed work is
never rolled back by a shutdown.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	mysqlClient, err := database.NewMySQLClient(&cfg.MySQL, log)
	if err != nil {
		return fmt.Errorf("failed to create MySQL client: %w", err)
	}
	defer mysqlClient.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, log)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, report caching disabled")
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	natsClient, err := messaging.NewNATSClient(&cfg.NATS, log)
	if err != nil {
		log.WithError(err).Warn("NATS unavailable, event publication disabled")
		natsClient = nil
	} else {
		defer natsClient.Close()
	}

	providerClient := provider.NewClient(&cfg.Provider, log)
	eng := engine.New(mysqlClient, providerClient, &cfg.Sync, log)

	sched := scheduler.New(eng, mysqlClient, redisClient, natsClient, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.WithField("signal", sig.String()).Info("Shutting down")
	cancel()

	return sched.Stop()
}
