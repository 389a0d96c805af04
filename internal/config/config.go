package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Environment   string
	LogLevel      string
	API           APIConfig
	Transcode     TranscodeConfig
	Storage       StorageConfig
	AWS           AWSConfig
	Observability ObservabilityConfig
	CORS          CORSConfig
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Port                 string
	MaxUploadBytes       int64
	ProgressPollInterval time.Duration
}

// TranscodeConfig holds encoder and job configuration.
type TranscodeConfig struct {
	StagingDir     string
	FFmpegPath     string
	FFprobePath    string
	SegmentSeconds int
	JobRetention   time.Duration
}

// StorageConfig selects and configures the blob store.
type StorageConfig struct {
	Backend       string
	Namespace     string
	PublicBaseURL string
}

// AWSConfig holds AWS-specific configuration.
type AWSConfig struct {
	Region        string
	Bucket        string
	DynamoDBTable string
	SQSQueueURL   string
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// Storage backends
const (
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Default values
const (
	DefaultPort                 = "5173"
	DefaultLogLevel             = "info"
	DefaultFFmpegPath           = "ffmpeg"
	DefaultFFprobePath          = "ffprobe"
	DefaultSegmentSeconds       = 30
	DefaultMaxUploadBytes       = 4 << 30 // 4 GiB
	DefaultProgressPollInterval = time.Second
	DefaultJobRetention         = 2 * time.Minute
	DefaultNamespace            = "videos"
	DefaultRegion               = "us-west-2"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", DefaultLogLevel),
		API: APIConfig{
			Port:                 getEnv("PORT", DefaultPort),
			MaxUploadBytes:       getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
			ProgressPollInterval: getEnvDuration("PROGRESS_POLL_INTERVAL", DefaultProgressPollInterval),
		},
		Transcode: TranscodeConfig{
			StagingDir:     getEnv("STAGING_DIR", filepath.Join(os.TempDir(), "hls-publisher")),
			FFmpegPath:     getEnv("FFMPEG_PATH", DefaultFFmpegPath),
			FFprobePath:    getEnv("FFPROBE_PATH", DefaultFFprobePath),
			SegmentSeconds: getEnvInt("HLS_SEGMENT_SECONDS", DefaultSegmentSeconds),
			JobRetention:   getEnvDuration("JOB_RETENTION", DefaultJobRetention),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", BackendS3)),
			Namespace:     strings.Trim(getEnv("STORAGE_NAMESPACE", DefaultNamespace), "/"),
			PublicBaseURL: strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		},
		AWS: AWSConfig{
			Region:        getEnv("AWS_REGION", DefaultRegion),
			Bucket:        os.Getenv("S3_BUCKET"),
			DynamoDBTable: os.Getenv("DYNAMODB_TABLE"),
			SQSQueueURL:   os.Getenv("SQS_QUEUE_URL"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
				"http://localhost:5173",
			}),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Storage.Backend {
	case BackendS3:
		if c.AWS.Bucket == "" {
			errs = append(errs, "S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	case BackendMemory:
		if c.IsProduction() {
			errs = append(errs, "STORAGE_BACKEND=memory is not allowed in production")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND must be %q or %q, got %q", BackendS3, BackendMemory, c.Storage.Backend))
	}

	if c.Storage.Namespace == "" {
		errs = append(errs, "STORAGE_NAMESPACE must not be empty")
	}
	if c.Transcode.StagingDir == "" {
		errs = append(errs, "STAGING_DIR must not be empty")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

func parseLevel(level string) (string, error) {
	switch l := strings.ToLower(level); l {
	case "debug", "info", "warn", "error":
		return l, nil
	default:
		return "", fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", level)
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
