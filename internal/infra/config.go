package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents orchestrator configuration loaded from environment
// variables.
type Config struct {
	AppEnv      string
	DatabaseURL string

	// Blob storage. When MinioEndpoint is empty the orchestrator falls
	// back to StoragePath on the local filesystem.
	StorageBaseURL string
	StoragePath    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Provider credentials.
	QwenAPIKey        string
	QwenBaseURL       string
	QwenModel         string
	MidjourneyBaseURL string
	MidjourneyAPIKey  string
	KlingBaseURL      string
	KlingAccessKey    string
	KlingSecretKey    string

	// Reconciliation tuning.
	ProviderTimeout  time.Duration
	DownloadTimeout  time.Duration
	MaxAssetBytes    int64
	MaxJobAge        time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
	BatchConcurrency int
	SweepInterval    time.Duration
	SweepStaleAfter  time.Duration
	SweepBatchSize   int
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "generated-media"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		QwenAPIKey:        os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:       getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenModel:         getEnv("QWEN_MODEL", "qwen-image-plus"),
		MidjourneyBaseURL: os.Getenv("MIDJOURNEY_BASE_URL"),
		MidjourneyAPIKey:  os.Getenv("MIDJOURNEY_API_KEY"),
		KlingBaseURL:      getEnv("KLING_BASE_URL", "https://api.klingai.com"),
		KlingAccessKey:    os.Getenv("KLING_ACCESS_KEY"),
		KlingSecretKey:    os.Getenv("KLING_SECRET_KEY"),

		ProviderTimeout:  time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)),
		DownloadTimeout:  time.Second * time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 60)),
		MaxAssetBytes:    int64(getEnvInt("MAX_ASSET_MB", 200)) * 1024 * 1024,
		MaxJobAge:        time.Minute * time.Duration(getEnvInt("MAX_JOB_AGE_MINUTES", 30)),
		MaxAttempts:      getEnvInt("MAX_RECONCILE_ATTEMPTS", 5),
		RetryBackoff:     time.Second * time.Duration(getEnvInt("RETRY_BACKOFF_SECONDS", 10)),
		BatchConcurrency: getEnvInt("BATCH_CONCURRENCY", 4),
		SweepInterval:    time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 30)),
		SweepStaleAfter:  time.Second * time.Duration(getEnvInt("SWEEP_STALE_AFTER_SECONDS", 120)),
		SweepBatchSize:   getEnvInt("SWEEP_BATCH_SIZE", 50),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BatchConcurrency < 1 {
		cfg.BatchConcurrency = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
