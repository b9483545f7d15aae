package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vtu-pay/vtu_pay/internal/config"
	"github.com/vtu-pay/vtu_pay/internal/device"
	"github.com/vtu-pay/vtu_pay/internal/events"
	"github.com/vtu-pay/vtu_pay/internal/infra"
	"github.com/vtu-pay/vtu_pay/internal/logging"
	"github.com/vtu-pay/vtu_pay/internal/media"
	"github.com/vtu-pay/vtu_pay/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	backends, err := infra.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer backends.Close(logger)

	var relay *events.RedisRelay
	if backends.Cache != nil {
		relay = events.NewRedisRelay(backends.Cache, cfg.EventStream, logging.Component(logger, "relay"))
	}

	registry := device.NewRegistry(backends.Store, device.Config{
		BackendURL:     cfg.BackendURL,
		RequestTimeout: cfg.RequestTimeout,
		LogoutTimeout:  cfg.LogoutTimeout,
		Uploader:       media.NewHostUploader(cfg.UploadURL, cfg.UploadPreset, cfg.RequestTimeout),
		Relay:          relay,
		Logger:         logger,
	})

	srv, err := server.New(cfg, backends, registry, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Address(), "backend", cfg.BackendURL)
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
