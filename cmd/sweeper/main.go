package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/assetpipe"
	"mediagen/internal/credit"
	"mediagen/internal/generation"
	"mediagen/internal/infra"
	"mediagen/internal/providers"
	"mediagen/internal/providers/kling"
	"mediagen/internal/providers/midjourney"
	"mediagen/internal/providers/qwen"
	"mediagen/internal/storage"
	"mediagen/internal/tokencache"
)

const defaultLocale = "en"

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: db connection failed")
	}
	defer pool.Close()

	store, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: failed to configure storage")
	}

	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	pipeline, err := assetpipe.New(assetpipe.Options{
		Store:           store,
		HTTPClient:      &http.Client{Timeout: cfg.DownloadTimeout},
		MaxAssetBytes:   cfg.MaxAssetBytes,
		DownloadTimeout: cfg.DownloadTimeout,
		Logger:          &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: failed to configure asset pipeline")
	}

	registry, err := buildRegistry(cfg, httpClient, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: failed to configure providers")
	}

	credits := credit.NewService(repo.NewLedgerRepository(pool), credit.DefaultPricing(), logger)
	svc := generation.NewService(
		repo.NewJobRepository(pool),
		credits,
		registry,
		pipeline,
		logger,
		generation.Options{
			MaxAttempts:      cfg.MaxAttempts,
			RetryBackoff:     cfg.RetryBackoff,
			MaxJobAge:        cfg.MaxJobAge,
			BatchConcurrency: cfg.BatchConcurrency,
		},
	)

	logger.Info().
		Dur("interval", cfg.SweepInterval).
		Dur("stale_after", cfg.SweepStaleAfter).
		Int("batch_size", cfg.SweepBatchSize).
		Msg("sweeper: started")

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sweeper: stopped")
			return
		case <-ticker.C:
		}

		swept, err := svc.SweepStale(ctx, cfg.SweepStaleAfter, cfg.SweepBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Msg("sweeper: stopped")
				return
			}
			logger.Error().Err(err).Msg("sweeper: sweep failed")
			continue
		}
		if swept > 0 {
			logger.Info().Int("jobs", swept).Msg("sweeper: reconciled stale jobs")
		}
	}
}

// buildBlobStore prefers the object store and falls back to the local
// filesystem when no endpoint is configured.
func buildBlobStore(ctx context.Context, cfg *infra.Config) (storage.BlobStore, error) {
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		return storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			BaseURL:   cfg.StorageBaseURL,
		})
	}
	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	return storage.NewFileStore(storagePath, cfg.StorageBaseURL)
}

// buildRegistry wires every adapter whose credentials are present. Missing
// credentials skip the adapter rather than fail the process.
func buildRegistry(cfg *infra.Config, httpClient *http.Client, logger *infra.Logger) (*providers.Registry, error) {
	var adapters []providers.Adapter

	if cfg.QwenAPIKey != "" {
		client, err := qwen.NewClient(qwen.Options{
			APIKey:     cfg.QwenAPIKey,
			BaseURL:    cfg.QwenBaseURL,
			Model:      cfg.QwenModel,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, qwen.NewAdapter(client, defaultLocale))
	} else {
		logger.Warn().Msg("sweeper: qwen api key missing, sync image adapter disabled")
	}

	if cfg.MidjourneyBaseURL != "" {
		client, err := midjourney.NewClient(midjourney.Options{
			BaseURL:    cfg.MidjourneyBaseURL,
			APISecret:  cfg.MidjourneyAPIKey,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, midjourney.NewAdapter(client, defaultLocale))
	} else {
		logger.Warn().Msg("sweeper: midjourney proxy url missing, grid adapter disabled")
	}

	if cfg.KlingAccessKey != "" && cfg.KlingSecretKey != "" {
		tokens, err := kling.NewTokenSource(cfg.KlingAccessKey, cfg.KlingSecretKey, tokencache.New())
		if err != nil {
			return nil, err
		}
		client, err := kling.NewClient(kling.Options{
			BaseURL:    cfg.KlingBaseURL,
			Tokens:     tokens,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, kling.NewAdapter(client, defaultLocale))
	} else {
		logger.Warn().Msg("sweeper: kling keys missing, video adapter disabled")
	}

	return providers.NewRegistry(adapters...), nil
}
