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

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/streamvoice/live-dialog-service/internal/audio"
	"github.com/streamvoice/live-dialog-service/internal/config"
	"github.com/streamvoice/live-dialog-service/internal/merge"
	"github.com/streamvoice/live-dialog-service/internal/metrics"
	"github.com/streamvoice/live-dialog-service/internal/segment"
	"github.com/streamvoice/live-dialog-service/internal/server"
	"github.com/streamvoice/live-dialog-service/internal/session"
	"github.com/streamvoice/live-dialog-service/internal/source"
	"github.com/streamvoice/live-dialog-service/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "live-dialog-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// A .env file is optional; secrets may also come from the real
	// environment.
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_concurrent_sessions", cfg.Server.MaxConcurrentSessions),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("partial_interval", cfg.Segmenter.PartialInterval),
		slog.Float64("max_utterance", cfg.Segmenter.MaxUtterance),
		slog.String("vad_mode", cfg.VAD.Mode),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("diarization_enabled", cfg.Diarization.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Build the transcription backend client.
	clientConfig := transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Language:      cfg.Transcription.Language,
		Model:         cfg.Transcription.Model,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	}

	if cfg.Diarization.Enabled && cfg.Diarization.ReferenceVoicePath != "" {
		reference, err := loadReferenceVoice(cfg.Diarization.ReferenceVoicePath)
		if err != nil {
			logger.Error("Failed to load reference voice", slog.String("error", err.Error()))
			os.Exit(1)
		}
		clientConfig.ReferenceVoice = reference
		logger.Info("Reference voice loaded",
			slog.String("path", cfg.Diarization.ReferenceVoicePath),
			slog.Int("bytes", len(reference)),
		)
	}

	client, err := transcription.NewClient(clientConfig)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var identifier transcription.SpeakerIdentifier
	if cfg.Diarization.Enabled {
		identifier = client
	} else {
		identifier = transcription.Unavailable{}
	}

	var outputFs afero.Fs
	if cfg.Output.Enabled {
		outputFs = afero.NewOsFs()
	}

	pipelineConfig := session.PipelineConfig{
		Segmenter:       segmenterConfig(cfg.Segmenter),
		VADMode:         cfg.VAD.Mode,
		VADThreshold:    cfg.VAD.Threshold,
		VADRiseRatio:    cfg.VAD.RiseRatio,
		QueueCapacity:   cfg.Dispatch.QueueCapacity,
		Workers:         cfg.Dispatch.Workers,
		SubmitTimeout:   cfg.Dispatch.GetSubmitTimeoutDuration(),
		MaxNoSpeechProb: cfg.Dispatch.MaxNoSpeechProb,
		Merge: merge.Config{
			ReorderDepth:    cfg.Merge.ReorderDepth,
			InterruptionGap: cfg.Merge.InterruptionGap,
		},
		DiarizeFinals: cfg.Diarization.Enabled,
		OutputFs:      outputFs,
		OutputDir:     cfg.Output.Directory,
	}

	sessionMgr, err := session.NewManager(session.ManagerConfig{
		Pipeline:    pipelineConfig,
		MaxSessions: cfg.Server.MaxConcurrentSessions,
		Timeout:     cfg.Server.GetSessionTimeoutDuration(),
	}, client, identifier, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Server.GetSessionTimeoutDuration()),
	)

	udpSource, err := source.NewUDPSource(source.UDPConfig{
		BindAddress: cfg.Server.BindAddress,
		Port:        cfg.Server.UDPPort,
		BufferSize:  cfg.Server.BufferSize,
	}, sessionMgr, logger)
	if err != nil {
		logger.Error("Failed to create UDP source", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("UDP source initialized")

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, udpSource, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	if err := udpSource.Start(); err != nil {
		logger.Error("Failed to start UDP source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP first (stop accepting new requests), then ingest, then
	// drain sessions, then close the backend client.
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := udpSource.Stop(); err != nil {
		logger.Error("Error stopping UDP source", slog.String("error", err.Error()))
	}

	sessionMgr.Stop()

	if err := client.Close(); err != nil {
		logger.Error("Error closing transcription client", slog.String("error", err.Error()))
	}

	stats := udpSource.GetStats()
	logger.Info("Final ingest statistics",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	logger.Info("Service stopped")
}

// segmenterConfig converts the second-based config values to frame counts.
func segmenterConfig(cfg config.SegmenterConfig) segment.Config {
	framesPerSecond := float64(time.Second / audio.FrameDuration)
	return segment.Config{
		PartialInterval:     time.Duration(cfg.PartialInterval * float64(time.Second)),
		PartialWindowFrames: int(cfg.PartialWindow * framesPerSecond),
		MinSpeechFrames:     int(cfg.MinSpeech * framesPerSecond),
		PostSilenceFrames:   int(cfg.PostSilence * framesPerSecond),
		MaxUtteranceFrames:  int(cfg.MaxUtterance * framesPerSecond),
	}
}

// loadReferenceVoice reads a WAV file and returns its raw PCM payload.
func loadReferenceVoice(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference voice file: %w", err)
	}

	samples, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reference voice: %w", err)
	}
	if sampleRate != audio.SampleRate {
		return nil, fmt.Errorf("reference voice must be %d Hz, got %d", audio.SampleRate, sampleRate)
	}

	return audio.EncodeSamples(samples), nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
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
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
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
