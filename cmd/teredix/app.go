package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/config"
	"github.com/shaharia-lab/terediX/internal/logging"
	"github.com/shaharia-lab/terediX/internal/storage"
	"github.com/shaharia-lab/terediX/internal/telemetry"
)

const closeTimeout = 10 * time.Second

// app holds everything a command needs after startup.
type app struct {
	cfg      *config.AppConfig
	logger   zerolog.Logger
	provider *telemetry.Provider
	metrics  *telemetry.Metrics
	store    storage.Storage
}

// bootstrap loads the config and opens logging, telemetry and storage in that order.
func bootstrap(ctx context.Context, path string, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, logOut)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, provider: provider}

	a.metrics, err = telemetry.NewMetrics(provider.Meter())
	if err != nil {
		_ = a.close()
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Storage, logging.Component(logger, "storage"))
	if err != nil {
		_ = a.close()
		return nil, err
	}
	a.store = store

	if err := store.Prepare(ctx); err != nil {
		_ = a.close()
		return nil, err
	}

	logger.Info().
		Str("discovery", cfg.Discovery.Name).
		Str("engine", cfg.Storage.DefaultEngine).
		Int("sources", len(cfg.Sources)).
		Msg("terediX starting")

	return a, nil
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if err := a.provider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
