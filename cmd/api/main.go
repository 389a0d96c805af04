package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/amillerrr/hls-publisher/internal/api"
	"github.com/amillerrr/hls-publisher/internal/config"
	"github.com/amillerrr/hls-publisher/internal/health"
	"github.com/amillerrr/hls-publisher/internal/jobs"
	"github.com/amillerrr/hls-publisher/internal/logger"
	"github.com/amillerrr/hls-publisher/internal/observability"
	"github.com/amillerrr/hls-publisher/internal/storage"
	"github.com/amillerrr/hls-publisher/internal/transcoder"
	"github.com/amillerrr/hls-publisher/internal/worker"
)

const (
	ServiceName           = "hls-publisher"
	ShutdownTimeout       = 30 * time.Second
	TracerShutdownTimeout = 5 * time.Second
	AWSConfigTimeout      = 10 * time.Second
)

func main() {
	// Load .env file if present
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel).With("service", ServiceName)
	slog.SetDefault(log)
	if envErr != nil {
		log.Info("No .env file found, using system environment variables")
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), ServiceName, cfg.Observability.OTLPEndpoint, cfg.Environment)
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	if err := os.MkdirAll(cfg.Transcode.StagingDir, 0755); err != nil {
		log.Error("Failed to create staging directory", "dir", cfg.Transcode.StagingDir, "error", err)
		os.Exit(1)
	}

	healthConfig := health.DefaultConfig(ServiceName, log)
	workerCfg := &worker.Config{
		Namespace: cfg.Storage.Namespace,
		Logger:    log,
	}
	var catalog *storage.CatalogRepository

	if cfg.Storage.Backend == config.BackendS3 || cfg.AWS.DynamoDBTable != "" || cfg.AWS.SQSQueueURL != "" {
		awsCfg, err := loadAWSConfig(cfg.AWS.Region)
		if err != nil {
			log.Error("Failed to load AWS config", "error", err)
			os.Exit(1)
		}

		if cfg.Storage.Backend == config.BackendS3 {
			store := storage.NewS3Store(s3.NewFromConfig(awsCfg), cfg.AWS.Bucket, cfg.AWS.Region, cfg.Storage.PublicBaseURL)
			workerCfg.Store = store
			healthConfig.Probes["s3"] = store
			log.Info("S3 blob store initialized", "bucket", cfg.AWS.Bucket)
		}

		if cfg.AWS.DynamoDBTable != "" {
			catalog = storage.NewCatalogRepository(dynamodb.NewFromConfig(awsCfg), cfg.AWS.DynamoDBTable)
			workerCfg.Catalog = catalog
			healthConfig.Probes["dynamodb"] = catalog
			log.Info("DynamoDB video catalog initialized", "table", cfg.AWS.DynamoDBTable)
		}

		if cfg.AWS.SQSQueueURL != "" {
			notifier := worker.NewSQSNotifier(sqs.NewFromConfig(awsCfg), cfg.AWS.SQSQueueURL)
			workerCfg.Notifier = notifier
			healthConfig.Probes["sqs"] = notifier
			log.Info("SQS job notifications enabled", "queue", cfg.AWS.SQSQueueURL)
		}
	}

	if workerCfg.Store == nil {
		workerCfg.Store = storage.NewMemoryStore(cfg.Storage.PublicBaseURL)
		log.Warn("Using in-memory blob store; published videos are lost on restart")
	}

	ffmpegCfg := transcoder.DefaultFFmpegConfig(log)
	ffmpegCfg.FFmpegPath = cfg.Transcode.FFmpegPath
	ffmpegCfg.FFprobePath = cfg.Transcode.FFprobePath
	ffmpegCfg.Profile.SegmentSeconds = cfg.Transcode.SegmentSeconds
	workerCfg.Encoder = transcoder.NewTranscoder(ffmpegCfg)

	registry := jobs.NewRegistry(cfg.Transcode.JobRetention)
	workerCfg.Registry = registry
	w := worker.New(workerCfg)

	healthConfig.ActiveJobs = func() int { return len(registry.Live()) }
	healthConfig.Probes["staging"] = health.ProbeFunc(func(ctx context.Context) error {
		_, err := os.Stat(cfg.Transcode.StagingDir)
		return err
	})

	serverCfg := &api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Runner:        w,
		Stager:        worker.NewStager(cfg.Transcode.StagingDir, log),
		Progress:      registry,
		HealthChecker: health.NewChecker(healthConfig),
	}
	// avoid a typed nil interface when no catalog is configured
	if catalog != nil {
		serverCfg.Catalog = catalog
	}
	server := api.NewServer(serverCfg)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	// live jobs are cancelled before the listener closes
	if err := w.Shutdown(ctx); err != nil {
		log.Error("Jobs did not finish before shutdown", "error", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server shutdown complete")
}

func loadAWSConfig(region string) (aws.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, err
	}
	otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	return awsCfg, nil
}
