package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/amillerrr/hls-publisher/pkg/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// diagnosticsTail is the number of stderr lines kept for error reports.
	diagnosticsTail = 20

	// maxDiagnosticLine bounds a single stderr line.
	maxDiagnosticLine = 1 << 20
)

var tracer = otel.Tracer("hls-transcoder")

// FFmpegConfig holds configuration for FFmpeg execution.
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
	Profile     Profile
	Logger      *slog.Logger
}

// DefaultFFmpegConfig returns the default FFmpeg configuration.
func DefaultFFmpegConfig(logger *slog.Logger) *FFmpegConfig {
	return &FFmpegConfig{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		Profile:     DefaultProfile,
		Logger:      logger,
	}
}

// Transcoder launches and supervises FFmpeg processes.
type Transcoder struct {
	config *FFmpegConfig
}

// NewTranscoder creates a new Transcoder with the given configuration.
func NewTranscoder(config *FFmpegConfig) *Transcoder {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Transcoder{config: config}
}

// Profile returns the packaging profile used for every encode.
func (t *Transcoder) Profile() Profile {
	return t.config.Profile
}

// Start launches FFmpeg for req and returns a handle to the running process.
// onProgress receives every percentage extracted from the diagnostic stream.
// The process is not bound to ctx; it runs until it exits or is terminated.
func (t *Transcoder) Start(ctx context.Context, req EncodeRequest, onProgress func(float64)) (*Process, error) {
	_, span := tracer.Start(ctx, "ffmpeg-start")
	defer span.End()

	args := t.config.Profile.BuildEncodeArgs(req)
	cmd := exec.Command(t.config.FFmpegPath, args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get stderr pipe: %v", models.ErrEncoderLaunch, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEncoderLaunch, err)
	}

	span.SetAttributes(
		attribute.Int("process.pid", cmd.Process.Pid),
		attribute.String("hls.manifest", req.ManifestPath),
	)

	proc := newProcess(cmd, t.config.Logger)
	go proc.supervise(stderrPipe, func(line string) {
		t.handleDiagnostic(line, req.TotalSeconds, onProgress)
	})

	return proc, nil
}

// handleDiagnostic logs a stderr line and forwards any progress it carries.
func (t *Transcoder) handleDiagnostic(line string, totalSeconds float64, onProgress func(float64)) {
	if pct, ok := ExtractProgress(line, totalSeconds); ok {
		if onProgress != nil {
			onProgress(pct)
		}
		t.config.Logger.Debug("FFmpeg progress", "output", line, "percent", pct)
		return
	}
	if strings.Contains(line, "error") || strings.Contains(line, "Error") {
		t.config.Logger.Warn("FFmpeg warning", "output", line)
	}
}

// readDiagnostics feeds each stderr line to onLine until EOF.
func readDiagnostics(r io.Reader, onLine func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxDiagnosticLine)
	scanner.Split(scanDiagnosticLines)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			onLine(line)
		}
	}
	if err := scanner.Err(); err != nil {
		// keep the pipe drained so the encoder never blocks on a full buffer
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

// scanDiagnosticLines splits on '\n' or '\r'; FFmpeg rewrites its stats line with carriage returns.
func scanDiagnosticLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
