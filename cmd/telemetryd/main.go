// Package main provides the entry point for the telemetry dashboard API
// daemon. It serves read-only summaries reconstructed from the event
// log; it never writes telemetry itself.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskmill/runtime/api"
	"github.com/taskmill/runtime/config"
	"github.com/taskmill/runtime/internal/telemetry"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP server address")
	dir := flag.String("dir", "", "telemetry directory (overrides TELEMETRY_DIR)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	if *dir != "" {
		cfg.TelemetryDir = *dir
	}

	agg := telemetry.NewAggregator(cfg.TelemetryDir,
		telemetry.WithPriceTable(cfg.Prices),
		telemetry.WithThresholds(cfg.SlowTaskAge, cfg.RetryHeavyAttempts, cfg.ErrorRateWarn),
	)

	server := api.NewServer(*addr, agg, logger)
	logger.Info("telemetryd starting", "addr", *addr, "dir", cfg.TelemetryDir)

	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	if err := server.Start(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
	logger.Info("server stopped")
}
