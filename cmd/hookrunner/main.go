package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/hookrunner/internal/api"
	"github.com/shohag/hookrunner/internal/config"
	"github.com/shohag/hookrunner/internal/delivery"
	"github.com/shohag/hookrunner/internal/manager"
	"github.com/shohag/hookrunner/internal/metrics"
	"github.com/shohag/hookrunner/internal/models"
	"github.com/shohag/hookrunner/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hookrunner",
		Short: "hookrunner delivers one-off webhooks with retries",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(fireCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hookrunner server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			var mt *metrics.Metrics
			var opts []api.ServerOption
			if cfg.Metrics.Enabled {
				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				mt = metrics.New(reg)
				opts = append(opts, api.WithMetricsHandler(cfg.Metrics.Path, mt.Handler()))
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			mgr := newManager(cfg, store, mt, log)
			mgr.Start(ctx)

			server := api.NewServer(cfg.Server, mgr, log, opts...)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Str("storage", cfg.Storage.Driver).
				Dur("retention", cfg.Retention.Window).
				Msg("hookrunner is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			mgr.Close()

			log.Info().Msg("hookrunner stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the attempt journal schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

// fireCmd delivers a single webhook in-process and prints its final state.
func fireCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fire <url>",
		Short: "Deliver one webhook and wait for the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := setupLogger(cfg.Logging)

			method, _ := cmd.Flags().GetString("method")
			body, _ := cmd.Flags().GetString("data")
			headers, _ := cmd.Flags().GetStringToString("header")
			attempts, _ := cmd.Flags().GetInt("attempts")
			wait, _ := cmd.Flags().GetDuration("wait")

			store := storage.NewMemory(cfg.Storage.Memory.MaxAttemptsPerWebhook)
			cfg.Retention.Window = 0

			ctx, cancel := context.WithTimeout(context.Background(), wait)
			defer cancel()

			mgr := newManager(cfg, store, nil, log)
			mgr.Start(ctx)
			defer mgr.Close()

			req := models.WebhookRequest{
				URL:     args[0],
				Method:  method,
				Headers: headers,
				Policy:  models.DeliveryPolicy{MaxAttempts: attempts},
			}
			if body != "" {
				req.Body = []byte(body)
			}

			id, err := mgr.Register(req)
			if err != nil {
				return err
			}

			st, err := waitSettled(ctx, mgr, id)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(out))

			if st.Status != models.DeliverySucceeded {
				return fmt.Errorf("webhook %s abandoned: %s", id, st.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringP("method", "X", "", "HTTP method (default POST)")
	cmd.Flags().StringP("data", "d", "", "request body")
	cmd.Flags().StringToStringP("header", "H", nil, "request header as name=value")
	cmd.Flags().Int("attempts", 0, "max attempts (default from config)")
	cmd.Flags().Duration("wait", 10*time.Minute, "give up waiting after this long")
	return cmd
}

func waitSettled(ctx context.Context, mgr *manager.Manager, id models.WebhookID) (models.DeliveryState, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		st, err := mgr.Status(id)
		if err != nil {
			return st, err
		}
		if st.Status.IsFinal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("webhook %s still pending: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hookrunner v%s\n", version)
		},
	}
}

func newManager(cfg *config.Config, store storage.Storage, mt *metrics.Metrics, log zerolog.Logger) *manager.Manager {
	ua := cfg.Delivery.UserAgent
	if ua == "" {
		ua = "hookrunner/" + version
	}
	sender := delivery.NewSender(cfg.Delivery.ConnectTimeout, ua)

	return manager.New(manager.Config{
		Workers:       cfg.Delivery.Workers,
		DefaultPolicy: cfg.Delivery.Policy,
		Retention:     cfg.Retention.Window,
	}, sender,
		manager.WithLogger(log.With().Str("component", "manager").Logger()),
		manager.WithStorage(store),
		manager.WithMetrics(mt),
	)
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite attempt journal")
		return storage.NewSQLite(cfg.SQLite.Path)
	case config.DriverMemory:
		log.Info().Int("max_per_webhook", cfg.Memory.MaxAttemptsPerWebhook).Msg("using in-memory attempt journal")
		return storage.NewMemory(cfg.Memory.MaxAttemptsPerWebhook), nil
	case config.DriverNone:
		log.Info().Msg("attempt journal disabled")
		return storage.Nop{}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
