package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sellerwatch/sellerwatch/internal/config"
	"github.com/sellerwatch/sellerwatch/internal/database"
	"github.com/sellerwatch/sellerwatch/internal/store"
	"github.com/sellerwatch/sellerwatch/internal/store/postgres"
	"github.com/sellerwatch/sellerwatch/internal/store/sqlite"
	"github.com/sellerwatch/sellerwatch/internal/version"
)

// report prints a one-shot summary of monitored state: store stats,
// pending deliveries and optionally one product's price history.
func main() {
	configPath := flag.String("config", "configs/monitor.local.yaml", "path to config file")
	seller := flag.String("seller", "", "limit the report to one seller")
	product := flag.String("product", "", "print price history for this product (requires -seller)")
	limit := flag.Int("limit", 10, "max price history entries")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := run(ctx, st, *seller, *product, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "report: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, st store.Store, seller, product string, limit int) error {
	stats, err := st.Stats(ctx, seller)
	if err != nil {
		return err
	}

	fmt.Printf("monitor report (%s)\n\n", version.String())
	if seller != "" {
		fmt.Printf("Seller:             %s\n", seller)
	} else {
		fmt.Printf("Sellers:            %d\n", stats.Sellers)
	}
	fmt.Printf("Total products:     %d\n", stats.TotalProducts)
	fmt.Printf("Active products:    %d\n", stats.ActiveProducts)
	fmt.Printf("Changes today:      %d\n", stats.ChangesToday)
	fmt.Printf("Undelivered events: %d\n", stats.UndeliveredEvents)

	if stats.UndeliveredEvents > 0 {
		events, err := st.GetUndeliveredEvents(ctx, seller, time.Time{})
		if err != nil {
			return err
		}
		fmt.Printf("\nPending deliveries:\n")
		for _, ev := range events {
			fmt.Printf("  %s  %-14s %s/%s  detected %s\n",
				ev.ID, ev.Kind, ev.SellerID, ev.ProductID,
				ev.DetectedAt.Format(time.RFC3339))
		}
	}

	if product != "" {
		if seller == "" {
			return fmt.Errorf("-product requires -seller")
		}
		history, err := st.PriceHistory(ctx, seller, product, limit)
		if err != nil {
			return err
		}
		fmt.Printf("\nPrice history for %s/%s:\n", seller, product)
		if len(history) == 0 {
			fmt.Println("  no recorded price changes")
		}
		for _, h := range history {
			fmt.Printf("  %s  %.2f -> %.2f (%+.1f%%)\n",
				h.ChangedAt.Format(time.RFC3339), h.OldPrice, h.NewPrice, h.PercentChange)
		}
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.MonitorConfig) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return sqlite.Open(cfg.Storage.SQLitePath)
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		return postgres.New(ctx, pool)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
