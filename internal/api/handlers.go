package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/hls-publisher/internal/jobs"
	"github.com/amillerrr/hls-publisher/internal/metrics"
	"github.com/amillerrr/hls-publisher/internal/worker"
	"github.com/amillerrr/hls-publisher/pkg/models"
)

var tracer = otel.Tracer("hls-api")

// Configuration constants
const (
	MaxFilenameLength    = 255
	MaxProgressIDLength  = 128
	DefaultPollInterval  = time.Second
	DefaultListLimit     = 20
	MaxListLimit         = 100
	DefaultMaxUploadSize = 4 << 30 // 4 GiB
)

// Response messages
const (
	MsgConverted      = "Video converted to HLS format"
	MsgStopped        = "Stop process success"
	MsgCompleted      = "Conversion completed"
	MsgCancelled      = "Conversion cancelled"
	MsgFailed         = "Conversion failed"
	MsgNotFound       = "Process not found or already completed."
	MsgFolderEmpty    = "Folder empty or not exist"
	MsgDeleteSuccess  = "Delete success"
	MsgDeleteFailed   = "Delete failed"
	MsgConvertFailure = "Failed to convert video"
)

// AllowedExtensions lists the source containers accepted for upload.
var AllowedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
	".flv":  true,
	".m4v":  true,
	".ts":   true,
}

var (
	errMalformedForm = errors.New("malformed multipart form")
	errMissingFile   = errors.New("file is required")
)

// Runner executes and controls conversion jobs.
type Runner interface {
	Process(ctx context.Context, sub worker.Submission) (*worker.Outcome, error)
	Cancel(progressID string) bool
	DeleteRemote(ctx context.Context, jobID string) (int, error)
}

// Stager stores uploaded sources until a job picks them up.
type Stager interface {
	Stage(ctx context.Context, jobID, originalName string, body io.Reader) (string, int64, error)
	JobDir(jobID string) string
	Discard(jobID string) error
}

// ProgressSource lets progress streams observe jobs.
type ProgressSource interface {
	Watch(progressID string) *jobs.Job
	Unwatch(job *jobs.Job)
}

// Catalog serves published video records.
type Catalog interface {
	GetVideo(ctx context.Context, jobID string) (*models.VideoRecord, error)
	GetLatestVideo(ctx context.Context) (*models.VideoRecord, error)
	ListVideos(ctx context.Context, limit int32) ([]models.VideoRecord, error)
}

// Handlers contains all HTTP handlers for the API.
type Handlers struct {
	log            *slog.Logger
	runner         Runner
	stager         Stager
	progress       ProgressSource
	catalog        Catalog
	maxUploadBytes int64
	pollInterval   time.Duration
}

// HandlersConfig holds dependencies for handlers. Catalog is optional.
type HandlersConfig struct {
	Logger         *slog.Logger
	Runner         Runner
	Stager         Stager
	Progress       ProgressSource
	Catalog        Catalog
	MaxUploadBytes int64
	PollInterval   time.Duration
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	h := &Handlers{
		log:            cfg.Logger,
		runner:         cfg.Runner,
		stager:         cfg.Stager,
		progress:       cfg.Progress,
		catalog:        cfg.Catalog,
		maxUploadBytes: cfg.MaxUploadBytes,
		pollInterval:   cfg.PollInterval,
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = DefaultMaxUploadSize
	}
	if h.pollInterval <= 0 {
		h.pollInterval = DefaultPollInterval
	}
	return h
}

// writeJSON writes a JSON response.
func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.ErrorContext(ctx, "Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	h.writeJSON(ctx, w, status, map[string]string{"error": message})
}

// liftDeadlines removes the server-wide deadlines for long-lived requests.
func (h *Handlers) liftDeadlines(ctx context.Context, w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.DebugContext(ctx, "Failed to clear read deadline", "error", err)
	}
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.DebugContext(ctx, "Failed to clear write deadline", "error", err)
	}
}

// HelloHandler answers the root path.
func (h *Handlers) HelloHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]string{"message": "hello"})
}

// UploadResponse is the response payload of the upload endpoint. Code mirrors the
// outcome: "200" published, "204" cancelled, anything else an error status.
type UploadResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
	JobID   string `json:"jobId,omitempty"`
}

// UploadHandler stages a multipart upload, converts it and publishes the playlist.
// The response is written once the job is finished.
func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()
	ctx, span := tracer.Start(r.Context(), "upload-handler",
		trace.WithAttributes(
			attribute.String("handler", "upload"),
			attribute.String("request.id", requestID),
		))
	defer span.End()

	h.liftDeadlines(ctx, w)
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	sub, err := h.receiveUpload(ctx, r)
	if err != nil {
		span.RecordError(err)
		h.log.WarnContext(ctx, "Rejected upload", "requestId", requestID, "error", err)
		h.writeUploadError(ctx, w, err)
		return
	}
	metrics.UploadsReceived.Inc()

	span.SetAttributes(
		attribute.String("job.id", sub.JobID),
		attribute.String("job.progress_id", sub.ProgressID),
	)

	// jobs outlive the request; only the cancel endpoint stops them
	outcome, err := h.runner.Process(context.WithoutCancel(ctx), *sub)
	if err != nil {
		span.RecordError(err)
		h.writeUploadError(ctx, w, err)
		return
	}

	if outcome.State == models.StateCancelled {
		h.writeJSON(ctx, w, http.StatusOK, UploadResponse{
			Code:    "204",
			Message: MsgStopped,
			JobID:   outcome.JobID,
		})
		return
	}

	h.writeJSON(ctx, w, http.StatusOK, UploadResponse{
		Code:    "200",
		Message: MsgConverted,
		URL:     outcome.PlaylistURL,
		JobID:   outcome.JobID,
	})
}

// receiveUpload streams the multipart body, staging the file part under a new job id.
func (h *Handlers) receiveUpload(ctx context.Context, r *http.Request) (*worker.Submission, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedForm, err)
	}

	sub := &worker.Submission{}
	fail := func(err error) (*worker.Submission, error) {
		if sub.JobID != "" {
			if derr := h.stager.Discard(sub.JobID); derr != nil {
				h.log.WarnContext(ctx, "Failed to discard staged upload", "jobId", sub.JobID, "error", derr)
			}
		}
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(formError(err))
		}

		switch part.FormName() {
		case "progressId":
			raw, err := io.ReadAll(io.LimitReader(part, MaxProgressIDLength+1))
			if err != nil {
				part.Close()
				return fail(formError(err))
			}
			if len(raw) > MaxProgressIDLength {
				part.Close()
				return fail(fmt.Errorf("%w: progressId longer than %d bytes", errMalformedForm, MaxProgressIDLength))
			}
			sub.ProgressID = strings.TrimSpace(string(raw))

		case "file":
			if sub.JobID != "" {
				break
			}
			filename := filepath.Base(part.FileName())
			if err := validateFilename(filename); err != nil {
				part.Close()
				return fail(err)
			}
			jobID := uuid.New().String()
			sourcePath, _, err := h.stager.Stage(ctx, jobID, filename, part)
			if err != nil {
				part.Close()
				return fail(formError(err))
			}
			sub.JobID = jobID
			sub.JobDir = h.stager.JobDir(jobID)
			sub.SourcePath = sourcePath
			sub.Filename = filename
		}
		part.Close()
	}

	if sub.JobID == "" {
		return fail(errMissingFile)
	}
	if sub.ProgressID == "" {
		return fail(models.ErrMissingProgressID)
	}
	return sub, nil
}

// formError keeps size-limit errors recognizable and marks the rest as malformed input.
func formError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return err
	}
	return fmt.Errorf("%w: %v", errMalformedForm, err)
}

func uploadStatus(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrProgressIDInUse):
		return http.StatusConflict
	case errors.Is(err, models.ErrDurationProbe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, errMalformedForm),
		errors.Is(err, errMissingFile),
		errors.Is(err, models.ErrMissingProgressID),
		errors.Is(err, models.ErrInvalidFileType),
		errors.Is(err, models.ErrFilenameTooLong):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeUploadError(ctx context.Context, w http.ResponseWriter, err error) {
	status := uploadStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = MsgConvertFailure
	}
	h.writeJSON(ctx, w, status, UploadResponse{
		Code:    strconv.Itoa(status),
		Message: message,
	})
}

// ProgressEvent is one server-sent progress update.
type ProgressEvent struct {
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`
}

// ProgressHandler streams a job's progress as server-sent events until it reaches
// 100 or the job ends. Unknown ids report 0 until the job is registered.
func (h *Handlers) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	progressID := mux.Vars(r)["progressId"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(ctx, w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	h.liftDeadlines(ctx, w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	metrics.ProgressStreams.Inc()
	defer metrics.ProgressStreams.Dec()

	var job *jobs.Job
	defer func() {
		if job != nil {
			h.progress.Unwatch(job)
		}
	}()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		if job == nil {
			job = h.progress.Watch(progressID)
		}

		var snap jobs.Snapshot
		if job != nil {
			snap = job.Snapshot()
		}

		if err := writeEvent(w, ProgressEvent{Progress: snap.Progress}); err != nil {
			return
		}

		final := ""
		switch {
		case snap.State == models.StateCancelled:
			final = MsgCancelled
		case snap.State == models.StateFailed:
			final = MsgFailed
		case snap.Progress >= 100:
			final = MsgCompleted
		}
		if final != "" {
			_ = writeEvent(w, ProgressEvent{Progress: snap.Progress, Message: final})
			flusher.Flush()
			return
		}
		flusher.Flush()

		var done <-chan struct{}
		if job != nil {
			done = job.Done()
		}
		select {
		case <-ctx.Done():
			return
		case <-done:
		case <-ticker.C:
		}
	}
}

func writeEvent(w io.Writer, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// CancelHandler requests cancellation of the job registered under the progress id.
func (h *Handlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	progressID := mux.Vars(r)["id"]

	if h.runner.Cancel(progressID) {
		h.writeJSON(ctx, w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Process %s has been cancelled.", progressID),
		})
		return
	}
	h.writeJSON(ctx, w, http.StatusNotFound, map[string]string{"message": MsgNotFound})
}

// DeleteResponse is the response payload of the delete endpoint.
type DeleteResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Deleted int    `json:"deleted,omitempty"`
}

// DeleteHandler removes every published object of a job.
func (h *Handlers) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "delete-handler")
	defer span.End()

	jobID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("job.id", jobID))

	if _, err := uuid.Parse(jobID); err != nil {
		h.writeJSON(ctx, w, http.StatusBadRequest, DeleteResponse{Code: "400", Message: MsgDeleteFailed})
		return
	}

	n, err := h.runner.DeleteRemote(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		h.log.ErrorContext(ctx, "Failed to delete published video", "jobId", jobID, "error", err)
		h.writeJSON(ctx, w, http.StatusBadRequest, DeleteResponse{Code: "400", Message: MsgDeleteFailed})
		return
	}

	if n == 0 {
		h.writeJSON(ctx, w, http.StatusOK, DeleteResponse{Code: "204", Message: MsgFolderEmpty})
		return
	}

	h.log.InfoContext(ctx, "Deleted published video", "jobId", jobID, "objects", n)
	h.writeJSON(ctx, w, http.StatusOK, DeleteResponse{Code: "200", Message: MsgDeleteSuccess, Deleted: n})
}

// GetVideoHandler returns the catalog record of one published video.
func (h *Handlers) GetVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get-video")
	defer span.End()

	jobID := mux.Vars(r)["id"]
	if _, err := uuid.Parse(jobID); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, models.ErrInvalidJobID.Error())
		return
	}
	if h.catalog == nil {
		h.writeError(ctx, w, http.StatusNotFound, "Video catalog not configured")
		return
	}

	video, err := h.catalog.GetVideo(ctx, jobID)
	if err != nil {
		h.writeCatalogError(ctx, w, span, err)
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, video)
}

// GetLatestVideoHandler returns the most recently published video.
func (h *Handlers) GetLatestVideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "get-latest-video")
	defer span.End()

	if h.catalog == nil {
		h.writeError(ctx, w, http.StatusNotFound, "No published videos found")
		return
	}

	video, err := h.catalog.GetLatestVideo(ctx)
	if err != nil {
		h.writeCatalogError(ctx, w, span, err)
		return
	}

	span.SetAttributes(attribute.String("job.id", video.JobID))
	h.writeJSON(ctx, w, http.StatusOK, video)
}

// ListVideosHandler returns the most recently published videos, newest first.
func (h *Handlers) ListVideosHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "list-videos")
	defer span.End()

	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(ctx, w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxListLimit)
	}

	if h.catalog == nil {
		h.writeJSON(ctx, w, http.StatusOK, map[string]any{"videos": []models.VideoRecord{}})
		return
	}

	videos, err := h.catalog.ListVideos(ctx, int32(limit))
	if err != nil {
		h.writeCatalogError(ctx, w, span, err)
		return
	}
	if videos == nil {
		videos = []models.VideoRecord{}
	}
	h.writeJSON(ctx, w, http.StatusOK, map[string]any{"videos": videos})
}

func (h *Handlers) writeCatalogError(ctx context.Context, w http.ResponseWriter, span trace.Span, err error) {
	if errors.Is(err, models.ErrVideoNotFound) {
		h.writeError(ctx, w, http.StatusNotFound, "Video not found")
		return
	}
	span.RecordError(err)
	h.log.ErrorContext(ctx, "Failed to read video catalog", "error", err)
	h.writeError(ctx, w, http.StatusInternalServerError, "Failed to retrieve video")
}

// Validation functions

func validateFilename(filename string) error {
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return fmt.Errorf("%w: filename is required", models.ErrInvalidFileType)
	}
	if len(filename) > MaxFilenameLength {
		return models.ErrFilenameTooLong
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !AllowedExtensions[ext] {
		return fmt.Errorf("%w: allowed extensions are mp4, mov, avi, mkv, webm, flv, m4v, ts", models.ErrInvalidFileType)
	}

	return nil
}
