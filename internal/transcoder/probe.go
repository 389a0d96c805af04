package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/amillerrr/hls-publisher/pkg/models"
	"go.opentelemetry.io/otel/attribute"
)

// ProbeDuration returns the duration of inputPath in seconds as reported by ffprobe.
// A stream without a known duration yields 0, which disables progress reporting.
func (t *Transcoder) ProbeDuration(ctx context.Context, inputPath string) (float64, error) {
	ctx, span := tracer.Start(ctx, "probe-duration")
	defer span.End()

	cmd := exec.CommandContext(ctx, t.config.FFprobePath,
		"-i", inputPath,
		"-show_entries", "format=duration",
		"-v", "quiet",
		"-of", "csv=p=0",
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrDurationProbe, err)
	}

	raw := strings.TrimSpace(stdout.String())
	if raw == "N/A" {
		return 0, nil
	}
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable duration %q", models.ErrDurationProbe, raw)
	}
	if duration < 0 {
		return 0, fmt.Errorf("%w: negative duration %v", models.ErrDurationProbe, duration)
	}

	span.SetAttributes(attribute.Float64("media.duration_seconds", duration))
	return duration, nil
}
