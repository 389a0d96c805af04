package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/amillerrr/hls-publisher/internal/metrics"
	"github.com/amillerrr/hls-publisher/internal/storage"
)

// MaxConcurrentDeletes bounds parallel object deletes for one namespace.
const MaxConcurrentDeletes = 8

// Cleaner removes a job's local staging directory and remote objects.
type Cleaner struct {
	store  storage.BlobStore
	layout Layout
	log    *slog.Logger
}

// NewCleaner creates a new Cleaner.
func NewCleaner(store storage.BlobStore, layout Layout, log *slog.Logger) *Cleaner {
	return &Cleaner{
		store:  store,
		layout: layout,
		log:    log,
	}
}

// CleanupLocal recursively removes dir. A missing directory is not an error.
func (c *Cleaner) CleanupLocal(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dir, err)
	}
	return nil
}

// CleanupRemote deletes every object under jobID's namespace and returns how many
// were removed. An empty namespace is a success.
func (c *Cleaner) CleanupRemote(ctx context.Context, jobID string) (int, error) {
	if err := validateJobID(jobID); err != nil {
		return 0, err
	}

	ctx, span := tracer.Start(ctx, "cleanup-remote")
	defer span.End()

	prefix := c.layout.Prefix(jobID)
	keys, err := c.store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	var deleted atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrentDeletes)
	for _, key := range keys {
		g.Go(func() error {
			if err := c.store.Delete(gctx, key); err != nil {
				return err
			}
			deleted.Add(1)
			return nil
		})
	}
	err = g.Wait()

	n := int(deleted.Load())
	metrics.RemoteObjectsDeleted.Add(float64(n))
	span.SetAttributes(
		attribute.String("storage.prefix", prefix),
		attribute.Int("objects.deleted", n),
	)

	if err != nil {
		return n, fmt.Errorf("failed to delete objects under %s: %w", prefix, err)
	}

	c.log.InfoContext(ctx, "Remote objects deleted", "jobId", jobID, "count", n)
	return n, nil
}
