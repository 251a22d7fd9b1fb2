package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"github.com/skypro1111/speech-orchestrator/internal/audio"
	"github.com/skypro1111/speech-orchestrator/internal/config"
	"github.com/skypro1111/speech-orchestrator/internal/health"
	"github.com/skypro1111/speech-orchestrator/internal/metrics"
	"github.com/skypro1111/speech-orchestrator/internal/orchestrator"
	"github.com/skypro1111/speech-orchestrator/internal/publish"
	"github.com/skypro1111/speech-orchestrator/internal/server"
	"github.com/skypro1111/speech-orchestrator/internal/transcription"
	"github.com/skypro1111/speech-orchestrator/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "speech-orchestrator"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional .env file loaded before configuration")
	autostart := flag.Bool("autostart", true, "Arm capture as soon as the service is up")
	flag.Parse()

	// A missing .env file is fine; variables may come from the environment
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", path),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_size", cfg.Audio.FrameSize),
		slog.String("audio_input", cfg.Audio.Input),
		slog.Float64("vad_threshold", float64(cfg.VAD.Threshold)),
		slog.String("settings_store", cfg.Settings.Store),
		slog.Duration("dispatch_timeout", cfg.Dispatch.GetTimeoutDuration()),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	// Redis is shared by the settings store and the transcript publisher
	var redisClient *redis.Client
	if cfg.Settings.Store == "redis" || cfg.Settings.Redis.Channel != "" {
		redisClient, err = config.NewRedisClient(ctx, cfg.Settings.Redis)
		if err != nil {
			logger.Error("Failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisClient.Close()
		logger.Info("Redis connected", slog.String("addr", cfg.Settings.Redis.Addr))
	}

	var store config.Store
	if cfg.Settings.Store == "redis" {
		store = config.NewRedisStore(redisClient, cfg.Settings.Redis.KeyPrefix, cfg.Settings.Defaults)
	} else {
		store = config.NewMemoryStore(cfg.Settings.Defaults)
	}

	backends, closers, err := buildRegistry(ctx, cfg, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to initialize transcription backends", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	logger.Info("Transcription backends registered", slog.Any("backends", backends.IDs()))

	dispatcher := transcription.NewDispatcher(backends, store, transcription.DispatcherConfig{
		Timeout: cfg.Dispatch.GetTimeoutDuration(),
	}, logger, appMetrics)

	// Transcripts go to stdout as JSON lines and, when configured, to Redis
	consumers := orchestrator.Consumers{
		orchestrator.NewRouter(store, orchestrator.NewWriterSink(os.Stdout), logger),
	}
	var publisher *publish.Publisher
	if cfg.Settings.Redis.Channel != "" {
		publisher, err = publish.NewPublisher(redisClient, publish.Config{
			Channel:       cfg.Settings.Redis.Channel,
			HistoryKey:    cfg.Settings.Redis.HistoryKey,
			HistoryLength: cfg.Settings.Redis.HistoryLength,
		}, logger)
		if err != nil {
			logger.Error("Failed to create publisher", slog.String("error", err.Error()))
			os.Exit(1)
		}
		consumers = append(consumers, publisher)
		logger.Info("Transcript publishing enabled", slog.String("channel", cfg.Settings.Redis.Channel))
	}

	orch := orchestrator.New(orchestrator.Config{
		Dispatcher: dispatcher,
		Resolver:   backends,
		Store:      store,
		Consumer:   consumers,
		Latency:    metrics.NewLatencyTracker(logger, appMetrics),
		Metrics:    appMetrics,
		Logger:     logger,
	})

	detector, err := vad.NewDetector(vad.Config{
		Threshold:          cfg.VAD.Threshold,
		Smoothing:          cfg.VAD.Smoothing,
		FrameSize:          cfg.Audio.FrameSize,
		SampleRate:         cfg.Audio.SampleRate,
		MinSpeechDuration:  cfg.VAD.GetMinSpeechDuration(),
		RedemptionDuration: cfg.VAD.GetRedemptionDuration(),
		PreSpeechPad:       cfg.VAD.GetPreSpeechPad(),
	}, orch)
	if err != nil {
		logger.Error("Failed to create detector", slog.String("error", err.Error()))
		os.Exit(1)
	}
	orch.AttachDetector(detector)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Orchestrator stopped", slog.String("error", err.Error()))
		}
	}()

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		deps := server.Deps{
			Controller: orch,
			Store:      store,
			Dispatcher: dispatcher,
			Backends:   backends,
			Detector:   detector,
			Metrics:    appMetrics,
			Gatherer:   registry,
		}
		if publisher != nil {
			deps.History = publisher
		}
		httpServer = server.NewHTTPServer(cfg.HTTP, deps, logger)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Initialize gRPC health server (if enabled)
	var healthServer *health.Server
	if cfg.Health.Enabled {
		healthServer = health.NewServer(orch, time.Second, logger)
		go healthServer.Watch(ctx)
		go func() {
			if err := healthServer.ListenAndServe(cfg.Health.ListenAddr); err != nil {
				logger.Error("Health server error", slog.String("error", err.Error()))
			}
		}()
	}

	select {
	case <-orch.Running():
	case <-time.After(5 * time.Second):
		logger.Warn("Orchestrator loop slow to start")
	}

	if *autostart {
		if err := orch.Start(); err != nil {
			logger.Warn("Capture not armed at startup", slog.String("error", err.Error()))
		}
	}

	go feedAudio(ctx, cfg.Audio.Input, detector, orch, logger)

	// Setup signal handling for graceful shutdown
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

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if healthServer != nil {
		healthServer.Stop()
	}

	// Stop the event loop; in-flight backend calls see the cancelled context
	cancel()
	<-loopDone

	waitDone := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		logger.Warn("Backend calls still running at exit")
	}

	stats := dispatcher.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("dispatched", stats.Dispatched),
		slog.Uint64("succeeded", stats.Succeeded),
		slog.Uint64("failed", stats.Failed),
	)

	logger.Info("Service stopped")
}

// buildRegistry registers every enabled backend. The returned closers release
// backend clients on shutdown.
func buildRegistry(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*transcription.Registry, []io.Closer, error) {
	registry := transcription.NewRegistry()
	var closers []io.Closer

	if cfg.Backends.Local.Enabled {
		model := transcription.NewStubModel(logger, cfg.Backends.Local.ModelVariant)
		if err := registry.Register(transcription.NewLocalBackend(model).Descriptor()); err != nil {
			return nil, nil, err
		}
	}

	if cfg.Backends.OpenAI.Enabled {
		client, err := newHTTPClient(cfg.Backends.OpenAI, m)
		if err != nil {
			return nil, nil, fmt.Errorf("openai client: %w", err)
		}
		backend := transcription.NewOpenAIBackend(client, cfg.Backends.OpenAI.Model, cfg.Backends.OpenAI.Language)
		if err := registry.Register(backend.Descriptor()); err != nil {
			return nil, nil, err
		}
	}

	if cfg.Backends.WhisperCPP.Enabled {
		client, err := newHTTPClient(cfg.Backends.WhisperCPP, m)
		if err != nil {
			return nil, nil, fmt.Errorf("whispercpp client: %w", err)
		}
		if err := registry.Register(transcription.NewWhisperCPPBackend(client).Descriptor()); err != nil {
			return nil, nil, err
		}
	}

	if cfg.Backends.Google.Enabled {
		var opts []option.ClientOption
		if cfg.Backends.Google.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Backends.Google.CredentialsFile))
		}
		if cfg.Backends.Google.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Backends.Google.Endpoint))
		}
		backend, err := transcription.NewGoogleBackend(ctx, cfg.Backends.Google.LanguageCode, opts...)
		if err != nil {
			// the service still runs; selecting google_speech resolves to no backend
			logger.Warn("Google Speech backend unavailable", slog.String("error", err.Error()))
		} else {
			if err := registry.Register(backend.Descriptor()); err != nil {
				return nil, nil, err
			}
			closers = append(closers, backend)
		}
	}

	return registry, closers, nil
}

func newHTTPClient(cfg config.HTTPBackendConfig, m *metrics.Metrics) (*transcription.Client, error) {
	return transcription.NewClient(transcription.ClientConfig{
		Endpoint:      cfg.Endpoint,
		APIKey:        cfg.APIKey,
		Timeout:       cfg.GetTimeoutDuration(),
		MaxRetries:    cfg.MaxRetries,
		MaxConcurrent: cfg.MaxConcurrent,
		UserAgent:     serviceName + "/" + serviceVersion,
		OnRetry:       m.RecordTranscriptionRetry,
	})
}

// feedAudio streams float32 PCM from input into the detector. A broken source
// marks the detector failed and disarms capture.
func feedAudio(ctx context.Context, input string, detector *vad.Detector, orch *orchestrator.Orchestrator, logger *slog.Logger) {
	var r io.Reader = os.Stdin
	if input != "" && input != "-" {
		f, err := os.Open(input)
		if err != nil {
			detector.Fail(fmt.Errorf("failed to open audio input: %w", err))
			orch.Stop()
			logger.Error("Audio input unavailable", slog.String("input", input), slog.String("error", err.Error()))
			return
		}
		defer f.Close()
		r = f
	}

	logger.Info("Reading audio",
		slog.String("input", input),
		slog.Int("sample_rate", audio.SampleRate),
		slog.Int("frame_size", detector.FrameSize()))

	err := vad.ReadFrames(ctx, r, detector)
	switch {
	case err == nil:
		logger.Info("Audio input ended")
	case errors.Is(err, context.Canceled):
	default:
		detector.Fail(err)
		orch.Stop()
		logger.Error("Audio input failed", slog.String("error", err.Error()))
	}
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
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
