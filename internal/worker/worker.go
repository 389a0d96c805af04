package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/hls-publisher/internal/jobs"
	"github.com/amillerrr/hls-publisher/internal/metrics"
	"github.com/amillerrr/hls-publisher/internal/storage"
	"github.com/amillerrr/hls-publisher/internal/transcoder"
	"github.com/amillerrr/hls-publisher/pkg/models"
)

// DefaultNamespace is the blob store prefix jobs are published under.
const DefaultNamespace = "videos"

var tracer = otel.Tracer("hls-worker")

// Catalog records published videos.
type Catalog interface {
	RecordPublished(ctx context.Context, record *models.VideoRecord) error
	DeleteVideo(ctx context.Context, jobID string) error
}

// Encoder probes sources and launches encoder processes.
type Encoder interface {
	ProbeDuration(ctx context.Context, inputPath string) (float64, error)
	Start(ctx context.Context, req transcoder.EncodeRequest, onProgress func(float64)) (*transcoder.Process, error)
	Profile() transcoder.Profile
}

// Config holds worker dependencies. Catalog and Notifier are optional.
type Config struct {
	Encoder   Encoder
	Registry  *jobs.Registry
	Store     storage.BlobStore
	Namespace string
	Catalog   Catalog
	Notifier  Notifier
	Logger    *slog.Logger
}

// Worker runs conversion jobs from staged source to published playlist.
type Worker struct {
	encoder  Encoder
	registry *jobs.Registry
	uploader *Uploader
	cleaner  *Cleaner
	catalog  Catalog
	notifier Notifier
	log      *slog.Logger

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// New creates a new Worker with the given configuration.
func New(cfg *Config) *Worker {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	layout := Layout{Namespace: namespace}

	return &Worker{
		encoder:  cfg.Encoder,
		registry: cfg.Registry,
		uploader: NewUploader(cfg.Store, layout, log),
		cleaner:  NewCleaner(cfg.Store, layout, log),
		catalog:  cfg.Catalog,
		notifier: cfg.Notifier,
		log:      log,
	}
}

// Submission is a staged upload ready to be converted.
type Submission struct {
	ProgressID string
	JobID      string
	JobDir     string
	SourcePath string
	Filename   string
}

// Outcome is the terminal result of a job that ran.
type Outcome struct {
	JobID       string
	State       models.JobState
	PlaylistURL string
	Segments    int
}

// termination classifies how the encoder ended, decided only after it has exited.
type termination int

const (
	finishedNaturally termination = iota
	finishedAfterCancel
	wasKilled
	encodeFailed
)

func (t termination) String() string {
	switch t {
	case finishedNaturally:
		return "finished"
	case finishedAfterCancel:
		return "finished-after-cancel"
	case wasKilled:
		return "killed"
	default:
		return "encode-failed"
	}
}

func classify(exit transcoder.Exit, cancelRequested bool) termination {
	switch {
	case exit.Killed:
		return wasKilled
	case cancelRequested:
		return finishedAfterCancel
	case exit.Err != nil:
		return encodeFailed
	default:
		return finishedNaturally
	}
}

// Process converts sub and blocks until the job reaches a terminal state.
// A cancelled job is an Outcome, not an error. Probe and launch failures return
// before any job is registered.
func (w *Worker) Process(ctx context.Context, sub Submission) (*Outcome, error) {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		w.discardStaging(ctx, sub)
		return nil, models.ErrShuttingDown
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	ctx, span := tracer.Start(ctx, "process-job")
	defer span.End()

	span.SetAttributes(
		attribute.String("job.id", sub.JobID),
		attribute.String("job.progress_id", sub.ProgressID),
		attribute.String("video.filename", sub.Filename),
	)

	w.log.InfoContext(ctx, "Processing video",
		"jobId", sub.JobID,
		"progressId", sub.ProgressID,
		"filename", sub.Filename,
	)

	duration, err := w.encoder.ProbeDuration(ctx, sub.SourcePath)
	if err != nil {
		w.discardStaging(ctx, sub)
		span.RecordError(err)
		return nil, err
	}

	job, err := w.registry.Create(sub.ProgressID, sub.JobID, duration)
	if err != nil {
		w.discardStaging(ctx, sub)
		return nil, err
	}
	if w.isClosing() {
		w.registry.MarkCancelled(sub.ProgressID)
		return w.cancelled(ctx, job, sub, false)
	}

	hlsDir := filepath.Join(sub.JobDir, HLSDirName)
	if err := os.MkdirAll(hlsDir, 0755); err != nil {
		w.registry.Discard(job)
		w.discardStaging(ctx, sub)
		return nil, fmt.Errorf("%w: failed to create HLS directory: %v", models.ErrEncoderLaunch, err)
	}

	req := w.encoder.Profile().RequestFor(sub.SourcePath, hlsDir, duration)
	proc, err := w.encoder.Start(ctx, req, func(percent float64) {
		w.registry.UpdateProgress(sub.ProgressID, percent)
	})
	if err != nil {
		w.registry.Discard(job)
		w.discardStaging(ctx, sub)
		span.RecordError(err)
		return nil, err
	}

	if err := w.registry.AttachProcess(job, proc); err != nil {
		w.log.WarnContext(ctx, "Failed to stop encoder for cancelled job", "jobId", job.ID, "error", err)
	}
	w.log.InfoContext(ctx, "Encoder started",
		"jobId", job.ID,
		"pid", proc.PID(),
		"durationSeconds", duration,
	)

	exit := proc.Wait()
	w.registry.DetachProcess(job)

	term := classify(exit, job.CancelRequested())
	span.SetAttributes(attribute.String("job.termination", term.String()))
	w.log.InfoContext(ctx, "Encoder exited",
		"jobId", job.ID,
		"termination", term.String(),
		"elapsed", exit.Elapsed.String(),
	)

	switch term {
	case wasKilled:
		return w.cancelled(ctx, job, sub, false)
	case finishedAfterCancel:
		return w.cancelled(ctx, job, sub, true)
	case encodeFailed:
		err := fmt.Errorf("%w: %v: %s", models.ErrEncodeFailed, exit.Err, strings.Join(proc.Diagnostics(), " | "))
		return w.failed(ctx, job, sub, err, false)
	default:
		return w.publish(ctx, job, sub, req)
	}
}

// publish uploads the encoder output, rewrites and uploads the manifest and
// completes the job. Cancellation observed at any step rolls everything back.
func (w *Worker) publish(ctx context.Context, job *jobs.Job, sub Submission, req transcoder.EncodeRequest) (*Outcome, error) {
	if err := w.registry.Transition(job, models.StateUploading); err != nil {
		return w.failed(ctx, job, sub, err, false)
	}

	manifestName := filepath.Base(req.ManifestPath)
	result, err := w.uploader.Upload(ctx, job.ID, req.OutputDir, manifestName, job)
	if job.CancelRequested() || (result != nil && result.Aborted) {
		return w.cancelled(ctx, job, sub, true)
	}
	if err != nil {
		return w.failed(ctx, job, sub, err, true)
	}

	manifest := transcoder.RewritePlaylist(result.Manifest, result.URIs)
	playlistURL, err := w.uploader.PublishManifest(ctx, job.ID, manifestName, manifest)
	if job.CancelRequested() {
		return w.cancelled(ctx, job, sub, true)
	}
	if err != nil {
		return w.failed(ctx, job, sub, err, true)
	}

	if err := w.registry.Transition(job, models.StateCompleted); err != nil {
		if job.CancelRequested() {
			return w.cancelled(ctx, job, sub, true)
		}
		return w.failed(ctx, job, sub, err, true)
	}

	w.finalize(ctx, job, sub, false)
	metrics.RecordOutcome(string(models.StateCompleted))

	outcome := &Outcome{
		JobID:       job.ID,
		State:       models.StateCompleted,
		PlaylistURL: playlistURL,
		Segments:    len(result.URIs),
	}
	w.record(ctx, job, sub, outcome)
	w.notify(ctx, job, outcome, nil)

	w.log.InfoContext(ctx, "Video published",
		"jobId", job.ID,
		"playlistUrl", playlistURL,
		"segments", outcome.Segments,
	)
	return outcome, nil
}

// cancelled finalizes a cancelled job. Remote objects are removed when the
// encoder had finished, since an upload may have started.
func (w *Worker) cancelled(ctx context.Context, job *jobs.Job, sub Submission, remote bool) (*Outcome, error) {
	w.finalize(ctx, job, sub, remote)
	if err := w.registry.Transition(job, models.StateCancelled); err != nil {
		w.log.ErrorContext(ctx, "Failed to mark job cancelled", "jobId", job.ID, "error", err)
	}
	metrics.RecordOutcome(string(models.StateCancelled))

	outcome := &Outcome{JobID: job.ID, State: models.StateCancelled}
	w.notify(ctx, job, outcome, nil)

	w.log.InfoContext(ctx, "Job cancelled", "jobId", job.ID, "progressId", job.ProgressID)
	return outcome, nil
}

// failed finalizes a job that could not be completed and returns cause.
func (w *Worker) failed(ctx context.Context, job *jobs.Job, sub Submission, cause error, remote bool) (*Outcome, error) {
	w.finalize(ctx, job, sub, remote)
	if err := w.registry.Transition(job, models.StateFailed); err != nil {
		w.log.ErrorContext(ctx, "Failed to mark job failed", "jobId", job.ID, "error", err)
	}
	metrics.RecordOutcome(string(models.StateFailed))

	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	w.notify(ctx, job, &Outcome{JobID: job.ID, State: models.StateFailed}, cause)

	w.log.ErrorContext(ctx, "Job failed", "jobId", job.ID, "error", cause)
	return nil, cause
}

// finalize removes the job's local files, and its remote objects when remote is
// set. It runs once per job; errors are logged and counted only.
func (w *Worker) finalize(ctx context.Context, job *jobs.Job, sub Submission, remote bool) {
	job.Finalize(func() {
		if err := w.cleaner.CleanupLocal(sub.JobDir); err != nil {
			metrics.RecordCleanupFailure("local")
			w.log.WarnContext(ctx, "Failed to remove staging directory", "jobId", job.ID, "error", err)
		}
		if !remote {
			return
		}
		if _, err := w.cleaner.CleanupRemote(ctx, job.ID); err != nil {
			metrics.RecordCleanupFailure("remote")
			w.log.WarnContext(ctx, "Failed to remove remote objects", "jobId", job.ID, "error", err)
		}
	})
}

// discardStaging removes the staging directory of a submission that never became a job.
func (w *Worker) discardStaging(ctx context.Context, sub Submission) {
	if err := w.cleaner.CleanupLocal(sub.JobDir); err != nil {
		metrics.RecordCleanupFailure("local")
		w.log.WarnContext(ctx, "Failed to remove staging directory", "jobId", sub.JobID, "error", err)
	}
}

func (w *Worker) record(ctx context.Context, job *jobs.Job, sub Submission, outcome *Outcome) {
	if w.catalog == nil {
		return
	}
	record := &models.VideoRecord{
		JobID:           job.ID,
		Filename:        sub.Filename,
		PlaylistURL:     outcome.PlaylistURL,
		RemotePrefix:    w.uploader.layout.Prefix(job.ID),
		SegmentCount:    outcome.Segments,
		DurationSeconds: job.TotalDuration,
	}
	// catalog failures are logged only
	if err := w.catalog.RecordPublished(ctx, record); err != nil {
		w.log.ErrorContext(ctx, "Failed to record video in catalog", "jobId", job.ID, "error", err)
	}
}

func (w *Worker) notify(ctx context.Context, job *jobs.Job, outcome *Outcome, cause error) {
	if w.notifier == nil {
		return
	}
	event := models.JobEvent{
		JobID:       job.ID,
		ProgressID:  job.ProgressID,
		State:       outcome.State,
		PlaylistURL: outcome.PlaylistURL,
		Segments:    outcome.Segments,
		OccurredAt:  time.Now().UTC(),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := w.notifier.Notify(ctx, event); err != nil {
		w.log.WarnContext(ctx, "Failed to publish job event", "jobId", job.ID, "error", err)
	}
}

// Cancel requests cancellation of the job registered under progressID. The request
// is sticky even when it cannot be delivered as a signal. It reports true only
// when a live encoder was found and signalled.
func (w *Worker) Cancel(progressID string) bool {
	job, ok := w.registry.MarkCancelled(progressID)
	if !ok {
		return false
	}

	signalled := w.registry.Terminate(job)
	w.log.Info("Cancellation requested",
		"jobId", job.ID,
		"progressId", progressID,
		"signalled", signalled,
	)
	return signalled
}

// DeleteRemote removes every published object of jobID and its catalog entry.
// It returns the number of objects deleted.
func (w *Worker) DeleteRemote(ctx context.Context, jobID string) (int, error) {
	n, err := w.cleaner.CleanupRemote(ctx, jobID)
	if err != nil {
		return n, err
	}

	if w.catalog != nil {
		if err := w.catalog.DeleteVideo(ctx, jobID); err != nil {
			w.log.WarnContext(ctx, "Failed to delete catalog entry", "jobId", jobID, "error", err)
		}
	}
	return n, nil
}

func (w *Worker) isClosing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closing
}

// Shutdown refuses new jobs, cancels every live job and waits for them to
// finish cleaning up. Jobs registered after the live set is taken see the
// closing flag and cancel themselves.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()

	for _, job := range w.registry.Live() {
		w.Cancel(job.ProgressID)
	}

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("jobs still running at shutdown"), ctx.Err())
	}
}
