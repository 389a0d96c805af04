package transcoder

import (
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/amillerrr/hls-publisher/internal/metrics"
)

// Exit describes how an encoder process ended.
type Exit struct {
	// Killed is true when a termination signal reached the process before it was reaped.
	Killed  bool
	Err     error
	Elapsed time.Duration
}

// Process is a handle to a running encoder.
type Process struct {
	cmd     *exec.Cmd
	log     *slog.Logger
	started time.Time
	done    chan struct{}

	mu          sync.Mutex
	exited      bool
	terminated  bool
	exit        Exit
	diagnostics []string
}

func newProcess(cmd *exec.Cmd, log *slog.Logger) *Process {
	return &Process{
		cmd:     cmd,
		log:     log,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Terminate asks the encoder to stop with SIGTERM and returns without waiting.
// It returns os.ErrProcessDone once the process has exited.
func (p *Process) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return os.ErrProcessDone
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	p.terminated = true
	return nil
}

// Wait blocks until the process exits.
func (p *Process) Wait() Exit {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// Diagnostics returns the most recent stderr lines.
func (p *Process) Diagnostics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.diagnostics))
	copy(out, p.diagnostics)
	return out
}

func (p *Process) record(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.diagnostics) == diagnosticsTail {
		p.diagnostics = append(p.diagnostics[:0], p.diagnostics[1:]...)
	}
	p.diagnostics = append(p.diagnostics, line)
}

// supervise drains stderr, reaps the process and publishes the exit.
func (p *Process) supervise(stderr io.Reader, onLine func(string)) {
	if err := readDiagnostics(stderr, func(line string) {
		p.record(line)
		onLine(line)
	}); err != nil {
		p.log.Warn("FFmpeg output scanner error", "error", err, "pid", p.PID())
	}

	waitErr := p.cmd.Wait()
	elapsed := time.Since(p.started)

	p.mu.Lock()
	p.exited = true
	p.exit = Exit{Killed: p.terminated, Err: waitErr, Elapsed: elapsed}
	p.mu.Unlock()

	if waitErr == nil {
		metrics.TranscodeDuration.Observe(elapsed.Seconds())
	}
	close(p.done)
}
