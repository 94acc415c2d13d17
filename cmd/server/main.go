package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talkcoach/coach-gateway/internal/config"
	"github.com/talkcoach/coach-gateway/internal/observability"
	"github.com/talkcoach/coach-gateway/internal/reasoning"
	"github.com/talkcoach/coach-gateway/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_provider", cfg.STTProvider).
		Str("log_level", cfg.LogLevel).
		Bool("barge_in", cfg.BargeInEnabled).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Coach Gateway starting")

	reasoner := reasoning.NewClient(cfg, logger)
	handler := transport.NewHandler(cfg, reasoner, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := map[string]observability.HealthCheckFunc{
		"reasoning": func(ctx context.Context) (bool, error) {
			if err := reasoner.HealthCheck(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
		// Config validation already proved the STT and TTS keys exist;
		// probing those APIs on every readiness poll costs real money.
		"config": func(ctx context.Context) (bool, error) {
			return true, nil
		},
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	endpoint := fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)
	if cfg.GatewayURL != "" {
		endpoint = cfg.GatewayURL + "/ws"
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", endpoint).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Sessions end after the listener stops accepting, so clients get
	// their close frames before the process exits.
	handler.Shutdown()

	logger.Info().Msg("Server exited gracefully")
}
