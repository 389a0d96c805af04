// Package jobs tracks in-flight conversion jobs by their caller-supplied progress id.
package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/amillerrr/hls-publisher/internal/metrics"
	"github.com/amillerrr/hls-publisher/pkg/models"
)

// DefaultRetention is how long a finished job stays visible when nobody is watching it.
const DefaultRetention = 2 * time.Minute

// Registry is the concurrency-safe set of jobs keyed by progress id.
// The map lock is only held for lookups; job fields are guarded per job.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	retention time.Duration
}

// NewRegistry creates an empty registry. Finished jobs that were never
// watched are dropped after retention; zero drops them immediately.
func NewRegistry(retention time.Duration) *Registry {
	return &Registry{
		jobs:      make(map[string]*Job),
		retention: retention,
	}
}

// Create registers a new converting job. A progress id that still belongs to an
// unfinished job is rejected; a finished one is replaced.
func (r *Registry) Create(progressID, jobID string, totalDuration float64) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.jobs[progressID]; ok && !existing.State().IsTerminal() {
		return nil, fmt.Errorf("%w: %s", models.ErrProgressIDInUse, progressID)
	}

	job := newJob(progressID, jobID, totalDuration)
	r.jobs[progressID] = job
	metrics.ActiveJobs.Inc()
	return job, nil
}

// Get returns the job registered under progressID.
func (r *Registry) Get(progressID string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[progressID]
	return job, ok
}

// UpdateProgress records percent for a converting job, keeping the highest value seen.
// It reports whether the stored value changed.
func (r *Registry) UpdateProgress(progressID string, percent float64) bool {
	job, ok := r.Get(progressID)
	if !ok {
		return false
	}
	return job.updateProgress(percent)
}

func (j *Job) updateProgress(percent float64) bool {
	percent = min(100, max(0, percent))

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state != models.StateConverting || percent <= j.progress {
		return false
	}
	j.progress = percent
	return true
}

// MarkCancelled sets the sticky cancel flag on the job. Repeated calls have no further effect.
func (r *Registry) MarkCancelled(progressID string) (*Job, bool) {
	job, ok := r.Get(progressID)
	if !ok {
		return nil, false
	}
	job.mu.Lock()
	job.cancelRequested.Store(true)
	job.mu.Unlock()
	return job, true
}

// Remove erases the entry for progressID.
func (r *Registry) Remove(progressID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, progressID)
}

// removeJob erases job only if it still owns its progress id.
func (r *Registry) removeJob(job *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[job.ProgressID] == job {
		delete(r.jobs, job.ProgressID)
	}
}

// Discard drops a job that never got past launch.
func (r *Registry) Discard(job *Job) {
	job.mu.Lock()
	live := !job.state.IsTerminal() && !job.settled
	job.settled = true
	job.mu.Unlock()

	if live {
		metrics.ActiveJobs.Dec()
	}
	r.removeJob(job)
}

// AttachProcess hands the running encoder to the job. If cancellation was requested
// before the process existed, it is terminated immediately.
func (r *Registry) AttachProcess(job *Job, proc Terminator) error {
	job.mu.Lock()
	job.process = proc
	cancelled := job.cancelRequested.Load()
	job.mu.Unlock()

	if cancelled {
		return proc.Terminate()
	}
	return nil
}

// DetachProcess clears the process handle after the encoder has exited.
func (r *Registry) DetachProcess(job *Job) {
	job.mu.Lock()
	defer job.mu.Unlock()
	job.process = nil
}

// Terminate signals the job's live encoder. It reports false when there is none.
func (r *Registry) Terminate(job *Job) bool {
	job.mu.Lock()
	proc := job.process
	job.mu.Unlock()

	if proc == nil {
		return false
	}
	return proc.Terminate() == nil
}

// Transition moves the job to next. Entering uploading pins progress at 100;
// entering a terminal state closes Done and schedules removal from the registry.
// A job whose cancellation was requested can never become completed.
func (r *Registry) Transition(job *Job, next models.JobState) error {
	job.mu.Lock()
	if !job.state.CanTransitionTo(next) {
		current := job.state
		job.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, current, next)
	}
	if next == models.StateCompleted && job.cancelRequested.Load() {
		job.mu.Unlock()
		return fmt.Errorf("%w: cancellation requested", models.ErrInvalidTransition)
	}

	job.state = next
	if next == models.StateUploading {
		job.progress = 100
	}

	terminal := next.IsTerminal()
	unwatched := job.watchers == 0
	if terminal {
		job.process = nil
		close(job.done)
		if !job.settled {
			job.settled = true
			metrics.ActiveJobs.Dec()
		}
	}
	job.mu.Unlock()

	if terminal && unwatched {
		r.expire(job)
	}
	return nil
}

func (r *Registry) expire(job *Job) {
	if r.retention <= 0 {
		r.removeJob(job)
		return
	}
	time.AfterFunc(r.retention, func() { r.removeJob(job) })
}

// Watch attaches a progress reader to the job registered under progressID.
// It returns nil when no such job exists yet.
func (r *Registry) Watch(progressID string) *Job {
	job, ok := r.Get(progressID)
	if !ok {
		return nil
	}
	job.mu.Lock()
	job.watchers++
	job.mu.Unlock()
	return job
}

// Unwatch detaches a progress reader. The last reader to leave a finished job erases it.
func (r *Registry) Unwatch(job *Job) {
	job.mu.Lock()
	if job.watchers > 0 {
		job.watchers--
	}
	drop := job.watchers == 0 && job.state.IsTerminal()
	job.mu.Unlock()

	if drop {
		r.removeJob(job)
	}
}

// Live returns every job that has not reached a terminal state.
func (r *Registry) Live() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		if !job.State().IsTerminal() {
			live = append(live, job)
		}
	}
	return live
}

// size returns the number of registered jobs.
func (r *Registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
