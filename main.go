package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/medsearch/pkg/config"
	"github.com/ekaya-inc/medsearch/pkg/dailymed"
	"github.com/ekaya-inc/medsearch/pkg/database"
	"github.com/ekaya-inc/medsearch/pkg/logging"
	"github.com/ekaya-inc/medsearch/pkg/metrics"
	"github.com/ekaya-inc/medsearch/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "medsearch",
		Short:         "Mirror the DailyMed SPL catalog into PostgreSQL",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the configuration file")

	rootCmd.AddCommand(refreshSPLListCmd(&configPath))
	rootCmd.AddCommand(updateSPLDetailsCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func refreshSPLListCmd(configPath *string) *cobra.Command {
	var newRecordsOnly bool
	var startPage int

	cmd := &cobra.Command{
		Use:   "refresh-spl-list",
		Short: "Walk the paginated SPL list and upsert every entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if startPage < 1 {
				return fmt.Errorf("--start-page must be at least 1, got %d", startPage)
			}
			return withRuntime(cmd.Context(), *configPath, func(ctx context.Context, rt *syncRuntime) error {
				saved, err := rt.sync.RefreshSPLList(ctx, newRecordsOnly, startPage)
				if err != nil {
					return err
				}
				fmt.Printf("Saved %d SPL records\n", saved)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&newRecordsOnly, "new-records-only", true, "only fetch entries published after the newest stored record")
	cmd.Flags().IntVar(&startPage, "start-page", 1, "first list page to fetch")

	return cmd
}

func updateSPLDetailsCmd(configPath *string) *cobra.Command {
	var pageSize int

	cmd := &cobra.Command{
		Use:   "update-spl-details",
		Short: "Download and store the detail of every SPL that is missing or stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *configPath, func(ctx context.Context, rt *syncRuntime) error {
				processed, err := rt.sync.UpdateSPLDetails(ctx, pageSize)
				if err != nil {
					return err
				}
				fmt.Printf("Processed %d SPL records\n", processed)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&pageSize, "pagesize", services.DefaultDetailPageSize, "number of SPLs selected per page")

	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer sqlDB.Close()

			if err := database.RunMigrations(sqlDB, cfg.Sync.MigrationsPath, logger); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}
}

// syncRuntime holds the connections a sync command needs for one run.
type syncRuntime struct {
	sync services.SyncService
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", Version),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("dailymed", cfg.DailyMed.BaseURL),
		zap.Bool("cache", cfg.Redis.Enabled()))

	return cfg, logger, nil
}

// withRuntime wires config, logging, storage, the upstream client and the
// optional cache and metrics listener, then calls run.
func withRuntime(ctx context.Context, configPath string, run func(ctx context.Context, rt *syncRuntime) error) error {
	cfg, logger, err := setup(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, m, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	var fetcher dailymed.Fetcher = dailymed.NewClient(cfg.DailyMed, logger, m)

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		fetcher = dailymed.NewCachingFetcher(fetcher, database.NewRedisPayloadCache(redisClient), cfg.Redis.CacheTTL, logger, m)
	}

	rt := &syncRuntime{
		sync: services.NewSyncService(db, fetcher, services.NewRepositories(), cfg.Sync, cfg.DailyMed.Format, logger, m),
	}
	return run(ctx, rt)
}

func serveMetrics(addr string, m *metrics.Metrics, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.LogScrapes(logger.Named("metrics"), m.Handler()))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics listener failed", zap.Error(err))
		}
	}()

	return srv
}
