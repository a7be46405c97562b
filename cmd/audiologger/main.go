package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/audiologger/internal/capture"
	"github.com/skypro1111/audiologger/internal/config"
	"github.com/skypro1111/audiologger/internal/event"
	"github.com/skypro1111/audiologger/internal/feedback"
	"github.com/skypro1111/audiologger/internal/metrics"
	"github.com/skypro1111/audiologger/internal/recorder"
	"github.com/skypro1111/audiologger/internal/server"
	"github.com/skypro1111/audiologger/internal/stream"
	"github.com/skypro1111/audiologger/internal/upload"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "audiologger"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	inspectPath := flag.String("inspect", "", "Print the format and markers of a saved WAV file and exit")
	record := flag.Bool("record", false, "Start recording immediately")
	flag.Parse()

	if *inspectPath != "" {
		if err := inspect(os.Stdout, *inspectPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to inspect %s: %v\n", *inspectPath, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(*configPath, flagSet("config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := initLogger(cfg.Logging)
	defer closeLog()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Bool("capture_enabled", cfg.Capture.Enabled),
		slog.String("capture_backend", cfg.Capture.Backend),
		slog.Duration("capture_retention", cfg.Capture.GetRetentionDuration()),
		slog.Bool("tracker_enabled", cfg.Tracker.Enabled),
		slog.Duration("tracker_retention", cfg.Tracker.GetRetentionDuration()),
		slog.Bool("archive", cfg.Output.Archive),
		slog.String("upload", cfg.Upload.Kind),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	speech := event.NewBus[event.Speech]()
	gestures := event.NewBus[event.Gesture]()

	var session *capture.Session
	if cfg.Capture.Enabled {
		backend, err := newBackend(cfg.Capture.Backend)
		if err != nil {
			logger.Error("Failed to create capture backend",
				slog.String("backend", cfg.Capture.Backend),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		session = capture.NewSession(capture.Config{
			DeviceID:       cfg.Capture.DeviceID,
			DeviceName:     cfg.Capture.DeviceName,
			Retention:      cfg.Capture.GetRetentionDuration(),
			BufferDuration: cfg.Capture.GetBufferDuration(),
			PollInterval:   cfg.Capture.GetPollInterval(),
		}, backend, speech, gestures, logger, appMetrics)
		logger.Info("Capture session initialized", slog.String("backend", backend.Name()))
	}

	var tracker *stream.Tracker
	if cfg.Tracker.Enabled {
		tracker = stream.NewTracker(stream.Config{
			Retention:     cfg.Tracker.GetRetentionDuration(),
			BlockDuration: cfg.Tracker.GetBlockDuration(),
			Purpose:       stream.Purpose(cfg.Tracker.Purpose),
			NamePrefix:    cfg.Tracker.NamePrefix,
		}, nil, speech, logger, appMetrics)
	}

	uploader, err := upload.New(ctx, upload.Config{
		Kind:       cfg.Upload.Kind,
		Endpoint:   cfg.Upload.Endpoint,
		APIKey:     cfg.Upload.APIKey,
		Bucket:     cfg.Upload.Bucket,
		Prefix:     cfg.Upload.Prefix,
		Region:     cfg.Upload.Region,
		Timeout:    cfg.Upload.GetTimeoutDuration(),
		MaxRetries: cfg.Upload.MaxRetries,
	})
	if err != nil {
		logger.Error("Failed to create uploader", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rec := recorder.New(recorder.Config{
		OutputDir: cfg.Output.Dir,
		Archive:   cfg.Output.Archive,
	}, recorder.Deps{
		Session:  session,
		Tracker:  tracker,
		Speech:   speech,
		Gestures: gestures,
		Player:   feedback.New(cfg.Feedback.Enabled, logger),
		Uploader: uploader,
		Logger:   logger,
		Metrics:  appMetrics,
	})

	var bridge *server.UDPServer
	if cfg.Bridge.Enabled {
		bridge, err = server.NewUDPServer(&cfg.Bridge, logger, rec, appMetrics)
		if err != nil {
			logger.Error("Failed to create UDP bridge", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := bridge.Start(); err != nil {
			logger.Error("Failed to start UDP bridge", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, rec, bridge, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if *record {
		if err := rec.Start(ctx); err != nil {
			logger.Error("Failed to start recording", slog.String("error", err.Error()))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop accepting requests before the final save
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if bridge != nil {
		if err := bridge.Stop(); err != nil {
			logger.Error("Error stopping UDP bridge", slog.String("error", err.Error()))
		}
	}

	if rec.Recording() {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer saveCancel()
		if _, err := rec.Stop(saveCtx); err != nil {
			logger.Error("Failed to save recording on shutdown", slog.String("error", err.Error()))
		}
	}

	logger.Info("Service stopped")
}

// loadConfig reads path, falling back to defaults when the default path does
// not exist
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
