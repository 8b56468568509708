package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"cellsim/internal/config"
	"cellsim/internal/logging"
	"cellsim/internal/storage"
	"cellsim/pkg/cellsim"
)

var stdout io.Writer = os.Stdout

func main() {
	logging.Configure(logging.ProfileRuntime)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "network":
		return runNetwork(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "iterations":
		return runIterations(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "simulation config TOML path (defaults to the built-in demo grid)")
	iterations := fs.Int("iterations", 0, "iteration count (overrides config)")
	serial := fs.Bool("serial", false, "apply updates after every cell process")
	workers := fs.Int("workers", 1, "worker count for network derivation and batch evaluation")
	index := fs.String("index", "brute_force", "neighbour index: brute_force|rtree")
	threshold := fs.Float64("threshold", config.DefaultThresholdMeters, "neighbour threshold in meters")
	randomize := fs.Bool("randomize", false, "randomize cells before setup")
	seed := fs.Int64("seed", 1, "rng seed for -randomize")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "cellsim.db", "sqlite database path")
	metricsFile := fs.String("metrics-file", "", "write Prometheus metrics in text format to this path after the run")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		return err
	}
	// Flags given explicitly win over file and environment values.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iterations":
			cfg.Iterations = *iterations
		case "serial":
			cfg.UpdatePerProcess = *serial
		case "workers":
			cfg.Workers = *workers
		case "index":
			cfg.Index = *index
		case "threshold":
			cfg.ThresholdMeters = *threshold
		case "randomize":
			cfg.Randomize = *randomize
		case "seed":
			cfg.Seed = *seed
		case "store":
			cfg.Store.Kind = *storeKind
		case "db-path":
			cfg.Store.Path = *dbPath
		}
	})
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = *storeKind
	}

	reg := prometheus.NewRegistry()
	client, err := cellsim.NewClient(cellsim.Options{
		StoreKind:  cfg.Store.Kind,
		DBPath:     cfg.Store.Path,
		Registerer: reg,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, runErr := client.Run(ctx, cellsim.RunRequest{Config: cfg})
	if summary.RunID == "" {
		return runErr
	}
	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	if *jsonOut {
		type iterationItem struct {
			Iteration     int                `json:"iteration"`
			Edges         int                `json:"edges"`
			CellUpdates   int                `json:"cell_updates"`
			GlobalUpdates int                `json:"global_updates"`
			Dropped       int                `json:"dropped_updates"`
			DurationNS    int64              `json:"duration_ns"`
			Totals        map[string]float64 `json:"totals,omitempty"`
		}
		type runItem struct {
			RunID      string          `json:"run_id"`
			Mode       string          `json:"mode"`
			Cells      int             `json:"cells"`
			Iterations []iterationItem `json:"iterations"`
			Global     any             `json:"global"`
			DurationNS int64           `json:"duration_ns"`
		}
		item := runItem{
			RunID:      summary.RunID,
			Mode:       summary.Mode,
			Cells:      summary.Cells,
			Iterations: make([]iterationItem, 0, len(summary.Iterations)),
			Global:     summary.Global,
			DurationNS: summary.Duration.Nanoseconds(),
		}
		for _, s := range summary.Iterations {
			item.Iterations = append(item.Iterations, iterationItem{
				Iteration:     s.Iteration,
				Edges:         s.Edges,
				CellUpdates:   s.CellUpdates,
				GlobalUpdates: s.GlobalUpdates,
				Dropped:       s.Dropped,
				DurationNS:    s.Duration.Nanoseconds(),
				Totals:        s.Totals,
			})
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(item); err != nil {
			return err
		}
		return runErr
	}

	fmt.Fprintf(stdout, "run completed run_id=%s mode=%s cells=%s iterations=%d duration=%s\n",
		summary.RunID,
		summary.Mode,
		humanize.Comma(int64(summary.Cells)),
		len(summary.Iterations),
		summary.Duration.Round(time.Microsecond),
	)
	for _, s := range summary.Iterations {
		fmt.Fprintf(stdout, "iteration=%d edges=%s cell_updates=%s global_updates=%s dropped=%s population=%s duration=%s\n",
			s.Iteration,
			humanize.Comma(int64(s.Edges)),
			humanize.Comma(int64(s.CellUpdates)),
			humanize.Comma(int64(s.GlobalUpdates)),
			humanize.Comma(int64(s.Dropped)),
			humanize.Commaf(s.Totals["population"]),
			s.Duration.Round(time.Microsecond),
		)
	}
	fmt.Fprintf(stdout, "global iterations=%d population=%s\n",
		summary.Global.IterationCount,
		humanize.Comma(int64(summary.Global.Population)),
	)
	return runErr
}

func runNetwork(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("network", flag.ContinueOnError)
	configPath := fs.String("config", "", "simulation config TOML path (defaults to the built-in demo grid)")
	threshold := fs.Float64("threshold", config.DefaultThresholdMeters, "neighbour threshold in meters")
	index := fs.String("index", "brute_force", "neighbour index: brute_force|rtree")
	jsonOut := fs.Bool("json", false, "emit neighbour lists as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, nil)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threshold":
			cfg.ThresholdMeters = *threshold
		case "index":
			cfg.Index = *index
		}
	})

	client, err := cellsim.NewClient(cellsim.Options{StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	net, err := client.Network(ctx, cfg)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(net.Ints())
	}

	cells, err := cellsim.BuildCells(cfg)
	if err != nil {
		return err
	}
	for i, neighbours := range net.Ints() {
		pos := cells[i].Position()
		fmt.Fprintf(stdout, "cell=%d lon=%.4f lat=%.4f neighbours=%v\n", i, pos.Lon, pos.Lat, neighbours)
	}
	fmt.Fprintf(stdout, "cells=%s edges=%s\n", humanize.Comma(int64(len(net))), humanize.Comma(int64(net.Edges())))
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "cellsim.db", "sqlite database path")
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := cellsim.NewClient(cellsim.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, cellsim.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		type runsItem struct {
			RunID           string   `json:"run_id"`
			CreatedAtUTC    string   `json:"created_at_utc"`
			Cells           int      `json:"cells"`
			Iterations      int      `json:"iterations"`
			Mode            string   `json:"mode"`
			ThresholdMeters float64  `json:"threshold_meters"`
			CellProcesses   []string `json:"cell_processes"`
			GlobalProcesses []string `json:"global_processes"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem{
				RunID:           item.RunID,
				CreatedAtUTC:    item.CreatedAtUTC.Format(time.RFC3339Nano),
				Cells:           item.Cells,
				Iterations:      item.Iterations,
				Mode:            item.Mode,
				ThresholdMeters: item.ThresholdMeters,
				CellProcesses:   item.CellProcesses,
				GlobalProcesses: item.GlobalProcesses,
			})
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, item := range items {
		fmt.Fprintf(stdout, "run_id=%s created=%s mode=%s cells=%s iterations=%d threshold_m=%s cell_processes=%v global_processes=%v\n",
			item.RunID,
			humanize.Time(item.CreatedAtUTC),
			item.Mode,
			humanize.Comma(int64(item.Cells)),
			item.Iterations,
			humanize.Commaf(item.ThresholdMeters),
			item.CellProcesses,
			item.GlobalProcesses,
		)
	}
	return nil
}

func runIterations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("iterations", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "cellsim.db", "sqlite database path")
	jsonOut := fs.Bool("json", false, "emit iteration records as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("run-id is required")
	}

	client, err := cellsim.NewClient(cellsim.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	records, err := client.Iterations(ctx, *runID)
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	if len(records) == 0 {
		fmt.Fprintln(stdout, "no iterations recorded")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(stdout, "iteration=%d cells=%s edges=%s cell_updates=%s global_updates=%s dropped=%s population=%s duration=%s\n",
			r.Iteration,
			humanize.Comma(int64(r.Cells)),
			humanize.Comma(int64(r.Edges)),
			humanize.Comma(int64(r.CellUpdates)),
			humanize.Comma(int64(r.GlobalUpdates)),
			humanize.Comma(int64(r.DroppedUpdates)),
			humanize.Commaf(r.Totals["population"]),
			r.Duration.Round(time.Microsecond),
		)
	}
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: cellsimctl <run|network|runs|iterations> [flags]", msg)
}
