package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"gassentry/internal/alerts"
	"gassentry/internal/api"
	"gassentry/internal/config"
	"gassentry/internal/engine"
	"gassentry/internal/ingest"
	"gassentry/internal/logging"
	"gassentry/internal/metrics"
	"gassentry/internal/notify"
	"gassentry/internal/predict"
	"gassentry/internal/readings"
	"gassentry/internal/storage"
)

var version = "dev"

func main() {
	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "run" || args[0] == "validate" || args[0] == "help" || args[0] == "-h" || args[0] == "--help") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runCommand(args)
	case "validate":
		err = validateCommand(args)
	default:
		printUsage()
		return
	}
	if err != nil {
		log.Fatalf("gassentry %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to YAML or JSON config file (defaults when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mgr, err := config.NewManager(config.ResolvePath(*cfgPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting", "version", version, "config", mgr.Path(), "endpoint", cfg.EndpointURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	readingLog, err := readings.Open(cfg.DataPath, cfg.HistorySize)
	if err != nil {
		return fmt.Errorf("open reading log: %w", err)
	}
	defer readingLog.Close()

	predictor := loadPredictor(cfg, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	deps := engine.Deps{
		Fetcher:   ingest.NewPoller(cfg.EndpointURL, cfg.RequestTimeout()),
		Predictor: predictor,
		Readings:  readingLog,
		Alerts:    alerts.NewStore(),
		Metrics:   recorder,
		Logger:    logger,
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	var archive api.AlertArchive
	if store != nil {
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("storage init: %w", err)
		}
		defer store.Close()
		deps.Mirror = store
		archive = store
		logger.Info("storage mirror enabled", "driver", cfg.Storage.Driver)
	}

	if pub := notify.NewKafka(cfg.Kafka, logger); pub != nil {
		defer pub.Close()
		deps.Publisher = pub
	}

	eng := engine.NewEngine(deps, cfg.PollInterval(), cfg.Location())

	hub := api.NewHub(logger)
	eng.Subscribe(hub.Publish)
	srv := api.NewServer(api.Deps{
		Config:   mgr,
		Engine:   eng,
		History:  readingLog,
		Alerts:   deps.Alerts,
		Archive:  archive,
		Hub:      hub,
		Gatherer: reg,
		Logger:   logger,
		Version:  version,
	})
	api.Start(ctx, mgr, srv, logger)

	eng.Run(ctx)
	logger.Info("shutdown complete")
	return nil
}

// loadPredictor never fails; a missing or broken model set yields a
// predictor that reports itself unavailable for the process lifetime.
func loadPredictor(cfg *config.Config, logger *slog.Logger) *predict.Predictor {
	paths := predict.ModelPaths{
		Methane:     cfg.Models.Methane,
		CO:          cfg.Models.CO,
		Temperature: cfg.Models.Temperature,
	}
	p, err := predict.Load(paths, cfg.Thresholds())
	if err != nil {
		logger.Warn("forecast models unavailable, alerting disabled", "err", err)
		return predict.Unavailable(err)
	}
	logger.Info("forecast models loaded", "methane", paths.Methane, "co", paths.CO, "temperature", paths.Temperature)
	return p
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cfgPath == "" {
		return fmt.Errorf("-config is required")
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	paths := predict.ModelPaths{Methane: cfg.Models.Methane, CO: cfg.Models.CO, Temperature: cfg.Models.Temperature}
	if _, err := predict.Load(paths, cfg.Thresholds()); err != nil {
		fmt.Printf("config %s is valid; models not loadable: %v\n", *cfgPath, err)
		return nil
	}
	fmt.Printf("config %s is valid; models loaded\n", *cfgPath)
	return nil
}

func printUsage() {
	fmt.Printf(`gassentry

Usage:
  gassentry [run|validate] [flags]

Commands:
  run        Poll the sensor, log readings, forecast and raise alerts (default)
  validate   Load a config file and its model artifacts without starting

Examples:
  gassentry run -config ./config.yaml
  gassentry validate -config ./config.yaml
`)
}
