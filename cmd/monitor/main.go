package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/config"
	"github.com/sellerwatch/sellerwatch/internal/database"
	"github.com/sellerwatch/sellerwatch/internal/diff"
	"github.com/sellerwatch/sellerwatch/internal/dispatch"
	"github.com/sellerwatch/sellerwatch/internal/fetch"
	"github.com/sellerwatch/sellerwatch/internal/notify"
	"github.com/sellerwatch/sellerwatch/internal/poller"
	"github.com/sellerwatch/sellerwatch/internal/publish"
	"github.com/sellerwatch/sellerwatch/internal/store"
	"github.com/sellerwatch/sellerwatch/internal/store/postgres"
	"github.com/sellerwatch/sellerwatch/internal/store/sqlite"
	"github.com/sellerwatch/sellerwatch/internal/stream"
	"github.com/sellerwatch/sellerwatch/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/monitor.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting monitor",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"sellers", len(cfg.Sellers),
		"storage_driver", cfg.Storage.Driver,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Open the record store
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// Create listings API client
	fetchClient := fetch.NewClient(
		cfg.Fetcher.BaseURL,
		fetch.WithLogger(logger),
		fetch.WithTimeout(cfg.Fetcher.Timeout),
		fetch.WithRetries(cfg.Fetcher.MaxRetries, cfg.Fetcher.RetryBackoff),
	)

	// Notification sink
	var token, chatID string
	if cfg.Telegram.Enabled {
		token, chatID = cfg.Telegram.BotToken, cfg.Telegram.ChatID
	}
	sink := notify.NewTelegram(token, chatID,
		notify.WithSellerNames(sellerNames(cfg.Sellers)),
		notify.WithTelegramLogger(logger),
	)
	logger.Info("telegram sink", "enabled", sink.Enabled())

	// Live event stream
	hub := stream.NewHub(logger)

	// Dispatcher
	dispatchOpts := []dispatch.Option{
		dispatch.WithObserver(hub),
		dispatch.WithPreferences(sellerPreferences(cfg.Sellers)),
	}
	if cfg.Publisher.Enabled {
		publisher := publish.NewClient(cfg.Publisher.BaseURL, cfg.Publisher.APIKey,
			publish.WithLogger(logger))
		dispatchOpts = append(dispatchOpts, dispatch.WithPublisher(publisher))
		logger.Info("offer publisher enabled", "base_url", cfg.Publisher.BaseURL)
	}
	dispatcher := dispatch.New(st, sink, logger, dispatchOpts...)

	// Delivery sweeper
	sweeper := dispatch.NewSweeper(dispatch.SweeperConfig{
		Interval: cfg.Sweeper.Interval,
		MinAge:   cfg.Sweeper.MinAge,
	}, dispatcher, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}
	defer stopComponent(sweeper.Stop, logger, "sweeper")

	// Poll coordinator
	pollerCfg := poller.Config{
		Interval:       cfg.Poller.Interval,
		Concurrency:    cfg.Poller.Concurrency,
		Timeout:        cfg.Poller.FetchTimeout,
		SellerStagger:  cfg.Poller.SellerStagger,
		MinSellerDelay: cfg.Poller.MinSellerDelay,
		Sellers:        sellerUsernames(cfg.Sellers),
		Diff:           diff.Options{PriceEpsilon: cfg.Diff.PriceEpsilon},
	}
	p := poller.New(pollerCfg, fetchClient, st, dispatcher, logger)

	// Health and debug server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: createHandler(st, p, hub, logger),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Server.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	if err := p.Start(ctx); err != nil {
		logger.Error("failed to start poller", "error", err)
		os.Exit(1)
	}
	defer stopComponent(p.Stop, logger, "poller")

	logger.Info("monitor running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)
	hub.Shutdown(shutdownCtx)

	logger.Info("monitor stopped")
}

// openStore opens the configured record store backend.
func openStore(ctx context.Context, cfg *config.MonitorConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		logger.Info("opening sqlite store", "path", cfg.Storage.SQLitePath)
		return sqlite.Open(cfg.Storage.SQLitePath)

	case "postgres":
		logger.Info("connecting to database",
			"host", cfg.Storage.Postgres.Host,
			"port", cfg.Storage.Postgres.Port,
			"database", cfg.Storage.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		return postgres.New(ctx, pool)

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func sellerUsernames(sellers []config.SellerConfig) []string {
	out := make([]string, len(sellers))
	for i, s := range sellers {
		out[i] = s.Username
	}
	return out
}

func sellerNames(sellers []config.SellerConfig) map[string]string {
	out := make(map[string]string, len(sellers))
	for _, s := range sellers {
		if s.DisplayName != "" {
			out[s.Username] = s.DisplayName
		}
	}
	return out
}

func sellerPreferences(sellers []config.SellerConfig) map[string]dispatch.Preferences {
	out := make(map[string]dispatch.Preferences, len(sellers))
	for _, s := range sellers {
		out[s.Username] = dispatch.Preferences{
			New:         s.Notify.NewEnabled(),
			PriceChange: s.Notify.PriceChangeEnabled(),
			Edit:        s.Notify.EditEnabled(),
			Removed:     s.Notify.RemovedEnabled(),
		}
	}
	return out
}

func stopComponent(stop func(context.Context) error, logger *slog.Logger, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("component stop failed", "component", name, "error", err)
	}
}
