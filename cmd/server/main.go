/*
main.go - Application entry point

PURPOSE:
  Runs the property engine: the HTTP server with its background workers, and
  operator commands that work directly against the database.

COMMANDS:
  serve                       HTTP API, job workers, nightly audit trigger
  room-type add|list          Manage the seeding source of inventory
  populate                    Backfill inventory buckets inline
  rate                        Price a rate code on a room type's buckets
  audit business-date         Show or set the business date
  audit preview               Candidates for the business date (read-only)
  audit run                   Run the night audit now
  config show                 Print the effective configuration

GLOBAL FLAGS:
  --config     YAML config file (optional)
  --db         SQLite database path, ":memory:" for in-memory
  --log-level  debug, info, warn, error

STARTUP SEQUENCE (serve):
  1. Load config (defaults, file, .env, ABCHOTELS_* env, flags)
  2. Open SQLite store (migrates schema)
  3. Connect Redis when redis.address is set (locks + progress fan-out)
  4. Build domain services and start job workers
  5. Start the nightly audit trigger
  6. Start HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit trigger and drain queued jobs
  4. Flush progress events, close Redis and the database

EXAMPLES:
  ./server serve --db ./data/abchotels.db
  ./server room-type add Deluxe --total 5
  ./server populate --start 2025-09-01 --end 2025-12-31
  ./server rate BAR Deluxe --start 2025-09-01 --end 2025-12-31 --price 120
  ABCHOTELS_REDIS_ADDRESS=localhost:6379 ./server serve

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
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

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/darwishdev/abc-hotels/api"
	"github.com/darwishdev/abc-hotels/audit"
	"github.com/darwishdev/abc-hotels/config"
	"github.com/darwishdev/abc-hotels/inventory"
	"github.com/darwishdev/abc-hotels/jobs"
	"github.com/darwishdev/abc-hotels/lock"
	"github.com/darwishdev/abc-hotels/population"
	"github.com/darwishdev/abc-hotels/progress"
	"github.com/darwishdev/abc-hotels/reservation"
	"github.com/darwishdev/abc-hotels/store/sqlite"
)

var (
	v          = config.New()
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Hotel inventory ledger and night audit engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	addPersistentFlags(rootCmd, v)

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(roomTypeCmd())
	rootCmd.AddCommand(populateCmd())
	rootCmd.AddCommand(rateCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(configCmd())
}

func addPersistentFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().String("db", "", "SQLite database path")
	cmd.PersistentFlags().String("log-level", "", "log level")
	_ = v.BindPFlag("database.path", cmd.PersistentFlags().Lookup("db"))
	_ = v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// app holds every component built from the config.
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	store     *sqlite.Store
	rdb       redis.UniversalClient
	redisSink *progress.RedisSink
	hub       *progress.Hub
	publisher *progress.Publisher
	locker    lock.Locker
	scheduler *jobs.Scheduler

	lifecycle  *reservation.Lifecycle
	population *population.Service
	audit      *audit.Engine
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger, hub: progress.NewHub()}

	a.store, err = sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sink := progress.Multi{a.hub, progress.LogSink{Log: logger}}
	a.locker = lock.NewLocal()
	if cfg.Redis.Enabled() {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Address, err)
		}
		a.locker = lock.NewRedis(a.rdb, cfg.Redis.ChannelPrefix, cfg.Audit.LockTTL, logger)
		// The hub is fed back from Redis so every process sees every event once.
		a.redisSink = progress.NewRedisSink(a.rdb, cfg.Redis.ChannelPrefix)
		sink = progress.Multi{a.redisSink, progress.LogSink{Log: logger}}
		logger.WithField("address", cfg.Redis.Address).Info("redis connected")
	}
	a.publisher = progress.NewPublisher(sink, 256, logger)

	a.scheduler = jobs.NewScheduler(cfg.Jobs.Workers, cfg.Jobs.QueueSize, logger)
	ledger := inventory.NewLedger(a.store, logger)
	a.lifecycle = reservation.NewLifecycle(a.store, ledger, logger)
	a.population = population.NewService(
		population.NewOrchestrator(a.store, a.publisher, logger),
		a.publisher,
		a.locker,
		a.scheduler,
		population.Options{
			PropertyID:      cfg.Property.ID,
			NamePrefix:      cfg.Property.NamePrefix,
			SyncWindowDays:  cfg.Population.SyncWindowDays,
			AsyncWindowDays: cfg.Population.AsyncWindowDays,
		},
		logger,
	)
	a.scheduler.Register(population.TaskName, a.population.Handler())
	a.audit = audit.NewEngine(a.store, a.locker, audit.Options{
		PropertyID:              cfg.Property.ID,
		AdvanceOnPartialFailure: cfg.Audit.AdvanceOnPartialFailure,
	}, logger)
	return a, nil
}

// Close flushes progress events and releases connections.
func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and nightly audit trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (overrides http.port)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log.WithField("component", "server")

	if a.redisSink != nil {
		go func() {
			if err := a.redisSink.Forward(ctx, a.hub); err != nil {
				log.WithError(err).Error("progress forwarding stopped")
			}
		}()
	}

	a.scheduler.Start()
	defer a.scheduler.Stop()

	trigger := audit.NewNightlyTrigger(a.audit, a.log)
	trigger.CheckInterval = cfg.Audit.CheckInterval
	trigger.AuditHour = cfg.Audit.Hour
	trigger.Enabled = cfg.Audit.Enabled
	trigger.Start()
	defer trigger.Stop()

	handler := api.NewHandler(api.Deps{
		Inventory:    a.store,
		Reservations: a.lifecycle,
		Population:   a.population,
		Jobs:         a.scheduler,
		Audit:        a.audit,
		Hub:          a.hub,
		PropertyID:   cfg.Property.ID,
		Logger:       a.log,
	})

	// WriteTimeout stays 0: the event stream is long-lived.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           api.NewRouter(handler, cfg.HTTP.AllowedOrigins),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":     cfg.HTTP.Port,
			"database": cfg.Database.Path,
			"property": cfg.Property.ID,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
