package worker

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/hls-publisher/internal/metrics"
	"github.com/amillerrr/hls-publisher/internal/storage"
	"github.com/amillerrr/hls-publisher/internal/transcoder"
	"github.com/amillerrr/hls-publisher/pkg/models"
)

// Content types for HLS files
const (
	ContentTypePlaylist = "application/x-mpegurl"
	ContentTypeSegment  = "video/mp2t"
	ContentTypeDefault  = "application/octet-stream"
)

// CancelFlag reports whether the owning job has been asked to stop.
type CancelFlag interface {
	CancelRequested() bool
}

// UploadResult is what a (possibly partial) upload left behind.
type UploadResult struct {
	// Manifest is the local manifest text as read before uploading.
	Manifest string
	// URIs maps each uploaded local filename to its public URL.
	URIs map[string]string
	// Keys lists uploaded object keys in upload order.
	Keys    []string
	Bytes   int64
	Aborted bool
}

// Uploader relocates a job's HLS output to the blob store.
type Uploader struct {
	store  storage.BlobStore
	layout Layout
	log    *slog.Logger
}

// NewUploader creates a new Uploader.
func NewUploader(store storage.BlobStore, layout Layout, log *slog.Logger) *Uploader {
	return &Uploader{
		store:  store,
		layout: layout,
		log:    log,
	}
}

// Upload sends every file in localDir except the manifest, one at a time, in the
// manifest's segment order. The cancel flag is checked before each file; when it is
// set the upload stops and the partial result is returned with Aborted set.
func (u *Uploader) Upload(ctx context.Context, jobID, localDir, manifestName string, cancel CancelFlag) (*UploadResult, error) {
	ctx, span := tracer.Start(ctx, "upload-hls")
	defer span.End()

	start := time.Now()

	raw, err := os.ReadFile(filepath.Join(localDir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrManifestIO, err)
	}

	names, err := uploadOrder(localDir, manifestName, string(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrManifestIO, err)
	}

	result := &UploadResult{
		Manifest: string(raw),
		URIs:     make(map[string]string, len(names)),
	}

	for _, name := range names {
		if cancel != nil && cancel.CancelRequested() {
			result.Aborted = true
			break
		}

		key := u.layout.Key(jobID, name)
		size, err := u.putFile(ctx, filepath.Join(localDir, name), key, contentTypeFor(name))
		if err != nil {
			return result, fmt.Errorf("%w: %v", models.ErrUpload, err)
		}
		result.Keys = append(result.Keys, key)
		result.Bytes += size

		uri, err := u.store.PublicURL(ctx, key)
		if err != nil {
			return result, fmt.Errorf("%w: %v", models.ErrUpload, err)
		}
		result.URIs[name] = uri

		metrics.SegmentsUploaded.Inc()
		metrics.UploadedBytes.Add(float64(size))
		u.log.DebugContext(ctx, "Uploaded file", "key", key, "sizeBytes", size)
	}

	span.SetAttributes(
		attribute.Int("files.uploaded", len(result.Keys)),
		attribute.Int64("bytes.total", result.Bytes),
		attribute.Bool("upload.aborted", result.Aborted),
	)

	if !result.Aborted {
		metrics.UploadDuration.Observe(time.Since(start).Seconds())
	}

	u.log.InfoContext(ctx, "HLS upload finished",
		"jobId", jobID,
		"filesUploaded", len(result.Keys),
		"totalBytes", result.Bytes,
		"aborted", result.Aborted,
	)

	return result, nil
}

// PublishManifest uploads the rewritten manifest and returns its public URL.
func (u *Uploader) PublishManifest(ctx context.Context, jobID, manifestName, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "publish-manifest")
	defer span.End()

	key := u.layout.Key(jobID, manifestName)
	if err := u.store.Put(ctx, key, strings.NewReader(text), int64(len(text)), ContentTypePlaylist); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUpload, err)
	}

	url, err := u.store.PublicURL(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUpload, err)
	}

	span.SetAttributes(attribute.String("hls.playlist_url", url))
	return url, nil
}

func (u *Uploader) putFile(ctx context.Context, path, key, contentType string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat file %s: %w", path, err)
	}

	if err := u.store.Put(ctx, key, file, info.Size(), contentType); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// uploadOrder lists the regular files of dir, manifest excluded: first those the
// manifest references in playback order, then any others lexically.
func uploadOrder(dir, manifestName, manifest string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	pending := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && e.Name() != manifestName {
			pending[e.Name()] = true
		}
	}

	names := make([]string, 0, len(pending))
	for _, seg := range transcoder.PlaylistSegments(manifest) {
		if pending[seg] {
			names = append(names, seg)
			delete(pending, seg)
		}
	}

	rest := make([]string, 0, len(pending))
	for name := range pending {
		rest = append(rest, name)
	}
	sort.Strings(rest)

	return append(names, rest...), nil
}

// contentTypeFor returns the content type for an HLS output file.
func contentTypeFor(name string) string {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".m3u8":
		return ContentTypePlaylist
	case ".ts":
		return ContentTypeSegment
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return ContentTypeDefault
	}
}
