package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dzkmrn/urgency-detection-service/internal/audio"
	"github.com/dzkmrn/urgency-detection-service/internal/config"
	"github.com/dzkmrn/urgency-detection-service/internal/decision"
	"github.com/dzkmrn/urgency-detection-service/internal/feature"
	"github.com/dzkmrn/urgency-detection-service/internal/metrics"
	"github.com/dzkmrn/urgency-detection-service/internal/model"
	"github.com/dzkmrn/urgency-detection-service/internal/notify"
	"github.com/dzkmrn/urgency-detection-service/internal/pipeline"
	"github.com/dzkmrn/urgency-detection-service/internal/server"
	"github.com/dzkmrn/urgency-detection-service/internal/store"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "urgency-detection-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.String("model_path", cfg.Model.Path),
		slog.String("decision_policy", cfg.Model.Policy),
		slog.Bool("feature_normalize", cfg.Feature.Normalize),
		slog.Bool("strict_durability", cfg.Storage.StrictDurability),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Load the frozen classifier. Load failure is fatal: the service
	// cannot operate without it.
	classifier, err := model.Load(cfg.Model.Path)
	if err != nil {
		logger.Error("Failed to load classifier", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Classifier loaded",
		slog.String("path", cfg.Model.Path),
		slog.String("head", string(classifier.Head())),
	)

	// Build the feature extractor matched to the classifier's training
	// preprocessing.
	extractor, err := feature.NewExtractor(feature.Config{
		SampleRate: cfg.Audio.SampleRate,
		WindowSize: cfg.Feature.WindowSize,
		HopSize:    cfg.Feature.HopSize,
		NumCoeffs:  cfg.Feature.NumCoeffs,
		NumFrames:  cfg.Feature.NumFrames,
		NumMels:    cfg.Feature.NumMels,
		Normalize:  cfg.Feature.Normalize,
	})
	if err != nil {
		logger.Error("Failed to create feature extractor", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Decision engine
	engine, err := decision.NewEngine(decision.Policy(cfg.Model.Policy),
		cfg.Model.Threshold, cfg.Model.UrgentClassIndex)
	if err != nil {
		logger.Error("Failed to create decision engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Open the detection record store
	gateway, err := store.Open(store.Options{
		Dir:      cfg.Storage.Dir,
		InMemory: cfg.Storage.InMemory,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("Failed to open record store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Record store opened",
		slog.String("dir", cfg.Storage.Dir),
		slog.Bool("in_memory", cfg.Storage.InMemory),
	)

	// Audio archiver
	archiver, err := audio.NewArchiver(cfg.Audio.ArchiveDir)
	if err != nil {
		logger.Error("Failed to create audio archiver", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Notification hub
	hub := notify.NewHub(logger, cfg.Notify.BufferSize)

	// Assemble the detection pipeline
	detectionPipeline, err := pipeline.New(logger, extractor, classifier, engine,
		gateway, hub, archiver, appMetrics,
		pipeline.Options{StrictDurability: cfg.Storage.StrictDurability})
	if err != nil {
		logger.Error("Failed to assemble pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Detection pipeline assembled")

	// Initialize and start HTTP server
	httpServer := server.NewHTTPServer(cfg, logger, detectionPipeline, gateway, hub, classifier, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new submissions)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// Close the notification hub (disconnects live subscribers)
	hub.Close()

	// Close the record store last so in-flight writes can finish
	if err := gateway.Close(); err != nil {
		logger.Error("Error closing record store", slog.String("error", err.Error()))
	}

	classifierStats := classifier.GetStats()
	logger.Info("Final service statistics",
		slog.Uint64("inferences", classifierStats.Inferences),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
