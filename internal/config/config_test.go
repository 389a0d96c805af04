package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("S3_BUCKET", "test-bucket")
	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("STORAGE_NAMESPACE", "/webvideos/")
	t.Setenv("PUBLIC_BASE_URL", "https://cdn.test/")
	t.Setenv("PROGRESS_POLL_INTERVAL", "250ms")
	t.Setenv("MAX_UPLOAD_BYTES", "1048576")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AWS.Bucket != "test-bucket" {
		t.Errorf("Bucket = %v, want %v", cfg.AWS.Bucket, "test-bucket")
	}
	if cfg.Storage.Backend != BackendS3 {
		t.Errorf("Backend = %v, want %v", cfg.Storage.Backend, BackendS3)
	}
	if cfg.Storage.Namespace != "webvideos" {
		t.Errorf("Namespace = %q, want webvideos", cfg.Storage.Namespace)
	}
	if cfg.Storage.PublicBaseURL != "https://cdn.test" {
		t.Errorf("PublicBaseURL = %q", cfg.Storage.PublicBaseURL)
	}
	if cfg.API.ProgressPollInterval != 250*time.Millisecond {
		t.Errorf("ProgressPollInterval = %v", cfg.API.ProgressPollInterval)
	}
	if cfg.API.MaxUploadBytes != 1<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.API.MaxUploadBytes)
	}
	if cfg.Transcode.SegmentSeconds != DefaultSegmentSeconds {
		t.Errorf("SegmentSeconds = %d, want %d", cfg.Transcode.SegmentSeconds, DefaultSegmentSeconds)
	}
	if cfg.Transcode.JobRetention != DefaultJobRetention {
		t.Errorf("JobRetention = %v, want %v", cfg.Transcode.JobRetention, DefaultJobRetention)
	}
}

func TestLoad_MissingBucket(t *testing.T) {
	t.Setenv("S3_BUCKET", "")
	t.Setenv("STORAGE_BACKEND", "s3")

	if _, err := Load(); err == nil {
		t.Error("Load() expected error when S3_BUCKET is missing")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Environment: "dev",
			LogLevel:    "info",
			Transcode:   TranscodeConfig{StagingDir: "/tmp/hls"},
			Storage:     StorageConfig{Backend: BackendMemory, Namespace: "videos"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"memory in dev", func(c *Config) {}, ""},
		{"s3 with bucket", func(c *Config) { c.Storage.Backend = BackendS3; c.AWS.Bucket = "b" }, ""},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = BackendS3 }, "S3_BUCKET"},
		{"memory in production", func(c *Config) { c.Environment = "production" }, "not allowed in production"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "gcs" }, "STORAGE_BACKEND"},
		{"empty namespace", func(c *Config) { c.Storage.Namespace = "" }, "STORAGE_NAMESPACE"},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := &Config{LogLevel: "loud", Storage: StorageConfig{Backend: BackendS3}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	if got := strings.Count(err.Error(), "; "); got != 3 {
		t.Errorf("Validate() joined %d problems, want 4: %v", got+1, err)
	}
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"prod", true},
		{"production", true},
		{"PROD", true},
		{"PRODUCTION", true},
		{"dev", false},
		{"staging", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{Environment: tt.env}
			if got := cfg.IsProduction(); got != tt.want {
				t.Errorf("IsProduction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvSlice(t *testing.T) {
	t.Setenv("TEST_SLICE", "a, b, c")

	result := getEnvSlice("TEST_SLICE", nil)
	if len(result) != 3 {
		t.Errorf("getEnvSlice() len = %d, want 3", len(result))
	}
	if result[0] != "a" || result[1] != "b" || result[2] != "c" {
		t.Errorf("getEnvSlice() = %v, want [a b c]", result)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")

	if result := getEnvInt("TEST_INT", 10); result != 42 {
		t.Errorf("getEnvInt() = %d, want 42", result)
	}
	if result := getEnvInt("NONEXISTENT", 10); result != 10 {
		t.Errorf("getEnvInt() = %d, want 10", result)
	}

	t.Setenv("TEST_INT", "-3")
	if result := getEnvInt("TEST_INT", 10); result != 10 {
		t.Errorf("getEnvInt() with negative value = %d, want 10", result)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"5s", 5 * time.Second},
		{"1m30s", 90 * time.Second},
		{"soon", time.Minute},
		{"0s", time.Minute},
		{"-1s", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			if got := getEnvDuration("TEST_DURATION", time.Minute); got != tt.want {
				t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
