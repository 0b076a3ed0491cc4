package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"uplinkdash/telemetry-server/internal/config"
	"uplinkdash/telemetry-server/internal/ingest"
	"uplinkdash/telemetry-server/internal/logging"
	"uplinkdash/telemetry-server/internal/metrics"
	"uplinkdash/telemetry-server/internal/store"
	"uplinkdash/telemetry-server/internal/synthetic"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		return 1
	}

	dataset := flag.String("dataset", cfg.DatasetDir, "Dataset root laid out as <DeviceType>/<devEui>/*.json")
	dbPath := flag.String("db", cfg.DatabasePath, "SQLite database path")
	seedSynthetic := flag.Bool("synthetic", false, "Generate synthetic uplinks for the demo devices")
	span := flag.Duration("synthetic-span", 48*time.Hour, "How far back synthetic uplinks reach")
	interval := flag.Duration("synthetic-interval", 2*time.Hour, "Spacing between synthetic uplinks per device")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed for synthetic uplinks")
	flag.Parse()

	if *dataset == "" && !*seedSynthetic {
		fmt.Fprintln(os.Stderr, "nothing to do: pass -dataset and/or -synthetic")
		return 2
	}

	logger := logging.New(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(*dbPath)
	if err != nil {
		logger.Error("open store", "error", err)
		return 1
	}
	defer st.Close()

	if err := st.InitSchema(ctx); err != nil {
		logger.Error("init schema", "error", err)
		return 1
	}

	ingester := ingest.New(st, logger, metrics.New())
	exit := 0

	if *dataset != "" {
		stats, err := ingester.IngestDataset(ctx, *dataset)
		printStats("dataset", stats)
		if err != nil {
			logger.Error("dataset ingest stopped", "error", err)
			exit = 1
		}
	}

	if *seedSynthetic && exit == 0 {
		end := time.Now().UTC()
		uplinks, err := synthetic.New(*seed).Backfill(end.Add(-*span), end, *interval)
		if err != nil {
			logger.Error("generate synthetic uplinks", "error", err)
			return 1
		}
		stats, err := ingester.SeedSynthetic(ctx, uplinks)
		printStats("synthetic", stats)
		if err != nil {
			logger.Error("synthetic seeding stopped", "error", err)
			exit = 1
		}
	}

	return exit
}

func printStats(label string, s ingest.Stats) {
	fmt.Printf("%s: inserted=%d invalid=%d failed=%d\n", label, s.Inserted, s.Invalid, s.Failed)
}
