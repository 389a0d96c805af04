package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Local layout of a job's staging directory
const (
	SourceBaseName = "source"
	HLSDirName     = "hls"
)

// Stager writes uploaded sources into per-job staging directories.
type Stager struct {
	root string
	log  *slog.Logger
}

// NewStager creates a Stager rooted at root.
func NewStager(root string, log *slog.Logger) *Stager {
	return &Stager{
		root: root,
		log:  log,
	}
}

// JobDir returns the staging directory of jobID. It holds the source and the HLS output.
func (s *Stager) JobDir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

// Stage copies body into jobID's staging directory and returns the source path.
// On failure nothing is left behind.
func (s *Stager) Stage(ctx context.Context, jobID, originalName string, body io.Reader) (string, int64, error) {
	if err := validateJobID(jobID); err != nil {
		return "", 0, err
	}

	ctx, span := tracer.Start(ctx, "stage-source")
	defer span.End()

	jobDir := s.JobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create staging directory: %w", err)
	}

	sourcePath := filepath.Join(jobDir, SourceBaseName+strings.ToLower(filepath.Ext(originalName)))
	file, err := os.Create(sourcePath)
	if err != nil {
		_ = os.RemoveAll(jobDir)
		return "", 0, fmt.Errorf("failed to create source file: %w", err)
	}

	written, err := io.Copy(file, body)
	if err != nil {
		file.Close()
		_ = os.RemoveAll(jobDir)
		return "", 0, fmt.Errorf("failed to write source file: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.RemoveAll(jobDir)
		return "", 0, fmt.Errorf("failed to close source file: %w", err)
	}

	span.SetAttributes(attribute.Int64("video.size_bytes", written))
	s.log.InfoContext(ctx, "Staged source video",
		"jobId", jobID,
		"filename", originalName,
		"sizeBytes", written,
	)

	return sourcePath, written, nil
}

// Discard removes jobID's staging directory.
func (s *Stager) Discard(jobID string) error {
	if err := validateJobID(jobID); err != nil {
		return err
	}
	return os.RemoveAll(s.JobDir(jobID))
}
