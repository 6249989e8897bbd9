// Command wavetap serves streaming audio and live waveform envelopes for
// user-supplied media URLs.
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

	"github.com/wavetap/wavetap/internal/config"
	"github.com/wavetap/wavetap/internal/observe"
	"github.com/wavetap/wavetap/internal/resilience"
	"github.com/wavetap/wavetap/internal/server"
	"github.com/wavetap/wavetap/internal/session"
	"github.com/wavetap/wavetap/pkg/extract/ytdlp"
	"github.com/wavetap/wavetap/pkg/transcode/ffmpeg"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "wavetap: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "wavetap: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("wavetap starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "wavetap",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("metrics provider shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Pipeline wiring ───────────────────────────────────────────────────────
	resolver := resilience.NewResolver(
		ytdlp.New(
			ytdlp.WithBinary(cfg.Resolver.Binary),
			ytdlp.WithTimeout(cfg.Resolver.Timeout),
		),
		resilience.CircuitBreakerConfig{},
	)

	pipeline := ffmpeg.New(
		ffmpeg.WithBinary(cfg.Transcoder.Binary),
		ffmpeg.WithBitrate(cfg.Transcoder.Bitrate),
		ffmpeg.WithStartupTimeout(cfg.Transcoder.StartupTimeout),
		ffmpeg.WithPCMFormat(cfg.Waveform.SampleRate, cfg.Waveform.Channels),
	)

	coord := session.NewCoordinator(resolver, pipeline, metrics, logger)
	srv := server.New(cfg, coord, resolver, metrics, logger, version)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         wavetap — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEntry("Listen addr", cfg.Server.ListenAddr)
	printEntry("Resolver", cfg.Resolver.Binary)
	printEntry("Transcoder", cfg.Transcoder.Binary)
	printEntry("Bitrate", cfg.Transcoder.Bitrate)
	printEntry("PCM format", fmt.Sprintf("%d Hz / %d ch", cfg.Waveform.SampleRate, cfg.Waveform.Channels))
	if cfg.Server.TLS != nil {
		printEntry("TLS", "enabled")
	} else {
		printEntry("TLS", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEntry(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
