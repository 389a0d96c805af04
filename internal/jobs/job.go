package jobs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/amillerrr/hls-publisher/pkg/models"
)

// Terminator is a running encoder that can be asked to stop.
type Terminator interface {
	Terminate() error
}

// Job is the registry record for one upload request.
type Job struct {
	ID            string
	ProgressID    string
	TotalDuration float64
	CreatedAt     time.Time

	cancelRequested atomic.Bool
	done            chan struct{}
	finalize        sync.Once

	mu       sync.Mutex
	state    models.JobState
	progress float64
	process  Terminator
	watchers int
	settled  bool
}

func newJob(progressID, jobID string, totalDuration float64) *Job {
	return &Job{
		ID:            jobID,
		ProgressID:    progressID,
		TotalDuration: totalDuration,
		CreatedAt:     time.Now(),
		done:          make(chan struct{}),
		state:         models.StateConverting,
	}
}

// Snapshot is a consistent view of a job's mutable fields.
type Snapshot struct {
	State           models.JobState
	Progress        float64
	CancelRequested bool
}

// Snapshot returns the job's current state and progress.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		State:           j.state,
		Progress:        j.progress,
		CancelRequested: j.cancelRequested.Load(),
	}
}

// State returns the current lifecycle state.
func (j *Job) State() models.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Progress returns the current completion percentage.
func (j *Job) Progress() float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// CancelRequested reports whether cancellation was ever requested. Once true it stays true.
func (j *Job) CancelRequested() bool {
	return j.cancelRequested.Load()
}

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Finalize runs fn the first time it is called for this job and never again.
func (j *Job) Finalize(fn func()) {
	j.finalize.Do(fn)
}
