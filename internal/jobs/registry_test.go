package jobs

import (
	"errors"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/amillerrr/hls-publisher/pkg/models"
)

type mockTerminator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockTerminator) Terminate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

func (m *mockTerminator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry(0)

	job, err := r.Create("p1", "job-1", 10)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if job.State() != models.StateConverting {
		t.Errorf("State() = %v, want %v", job.State(), models.StateConverting)
	}
	if job.Progress() != 0 {
		t.Errorf("Progress() = %v, want 0", job.Progress())
	}

	got, ok := r.Get("p1")
	if !ok || got != job {
		t.Errorf("Get() = %v, %v, want created job", got, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) ok = true, want false")
	}
}

func TestCreateRejectsLiveProgressID(t *testing.T) {
	r := NewRegistry(time.Hour)

	first, err := r.Create("p1", "job-1", 10)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.Create("p1", "job-2", 10); !errors.Is(err, models.ErrProgressIDInUse) {
		t.Fatalf("Create() duplicate error = %v, want ErrProgressIDInUse", err)
	}

	if err := r.Transition(first, models.StateFailed); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	second, err := r.Create("p1", "job-2", 10)
	if err != nil {
		t.Fatalf("Create() after terminal error = %v", err)
	}

	// the retired job must not evict its successor
	r.removeJob(first)
	if got, _ := r.Get("p1"); got != second {
		t.Error("removing the old job evicted the new one")
	}
}

func TestUpdateProgressKeepsMax(t *testing.T) {
	r := NewRegistry(0)
	job, _ := r.Create("p1", "job-1", 10)

	updates := []struct {
		percent float64
		want    float64
	}{
		{10, 10},
		{50, 50},
		{30, 50},
		{150, 100},
		{-5, 100},
	}
	for _, u := range updates {
		r.UpdateProgress("p1", u.percent)
		if got := job.Progress(); got != u.want {
			t.Errorf("after UpdateProgress(%v) Progress() = %v, want %v", u.percent, got, u.want)
		}
	}

	if r.UpdateProgress("missing", 10) {
		t.Error("UpdateProgress(missing) = true, want false")
	}
}

func TestUpdateProgressOnlyWhileConverting(t *testing.T) {
	r := NewRegistry(time.Hour)
	job, _ := r.Create("p1", "job-1", 10)
	r.UpdateProgress("p1", 20)

	if err := r.Transition(job, models.StateCancelled); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if r.UpdateProgress("p1", 80) {
		t.Error("UpdateProgress() on cancelled job = true, want false")
	}
	if job.Progress() != 20 {
		t.Errorf("Progress() = %v, want 20", job.Progress())
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	f := func(values []float64) bool {
		r := NewRegistry(0)
		job, _ := r.Create("p", "j", 1)
		last := 0.0
		for _, v := range values {
			r.UpdateProgress("p", v)
			p := job.Progress()
			if p < last || p < 0 || p > 100 {
				return false
			}
			last = p
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestMarkCancelledIsSticky(t *testing.T) {
	r := NewRegistry(time.Hour)
	job, _ := r.Create("p1", "job-1", 10)

	for i := 0; i < 3; i++ {
		got, ok := r.MarkCancelled("p1")
		if !ok || got != job {
			t.Fatalf("MarkCancelled() = %v, %v", got, ok)
		}
	}
	if !job.CancelRequested() {
		t.Fatal("CancelRequested() = false after MarkCancelled")
	}

	_ = r.Transition(job, models.StateUploading)
	if err := r.Transition(job, models.StateCompleted); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Transition(completed) after cancel error = %v, want ErrInvalidTransition", err)
	}
	if err := r.Transition(job, models.StateCancelled); err != nil {
		t.Errorf("Transition(cancelled) error = %v", err)
	}
	if !job.CancelRequested() {
		t.Error("CancelRequested() reverted after transitions")
	}

	if _, ok := r.MarkCancelled("missing"); ok {
		t.Error("MarkCancelled(missing) ok = true, want false")
	}
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []models.JobState
		wantErr bool
	}{
		{"complete", []models.JobState{models.StateUploading, models.StateCompleted}, false},
		{"cancel while converting", []models.JobState{models.StateCancelled}, false},
		{"cancel while uploading", []models.JobState{models.StateUploading, models.StateCancelled}, false},
		{"fail while uploading", []models.JobState{models.StateUploading, models.StateFailed}, false},
		{"skip uploading", []models.JobState{models.StateCompleted}, true},
		{"leave terminal", []models.JobState{models.StateCancelled, models.StateUploading}, true},
		{"repeat terminal", []models.JobState{models.StateFailed, models.StateFailed}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(time.Hour)
			job, _ := r.Create("p", "j", 10)

			var err error
			for _, next := range tt.path {
				if err = r.Transition(job, next); err != nil {
					break
				}
			}
			if tt.wantErr != (err != nil) {
				t.Fatalf("Transition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, models.ErrInvalidTransition) {
				t.Errorf("Transition() error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestUploadingPinsProgress(t *testing.T) {
	r := NewRegistry(0)
	job, _ := r.Create("p1", "job-1", 10)
	r.UpdateProgress("p1", 42)

	if err := r.Transition(job, models.StateUploading); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if job.Progress() != 100 {
		t.Errorf("Progress() = %v, want 100", job.Progress())
	}
}

func TestTerminalClosesDone(t *testing.T) {
	r := NewRegistry(time.Hour)
	job, _ := r.Create("p1", "job-1", 10)

	select {
	case <-job.Done():
		t.Fatal("Done() closed before terminal state")
	default:
	}

	_ = r.Transition(job, models.StateFailed)
	select {
	case <-job.Done():
	default:
		t.Fatal("Done() not closed after terminal state")
	}
}

func TestRemovalAfterObservation(t *testing.T) {
	t.Run("unwatched with zero retention is removed at once", func(t *testing.T) {
		r := NewRegistry(0)
		job, _ := r.Create("p1", "job-1", 10)
		_ = r.Transition(job, models.StateCancelled)
		if r.size() != 0 {
			t.Errorf("size() = %d, want 0", r.size())
		}
	})

	t.Run("unwatched is kept for retention", func(t *testing.T) {
		r := NewRegistry(50 * time.Millisecond)
		job, _ := r.Create("p1", "job-1", 10)
		_ = r.Transition(job, models.StateCancelled)
		if _, ok := r.Get("p1"); !ok {
			t.Fatal("job removed before retention elapsed")
		}
		deadline := time.Now().Add(2 * time.Second)
		for r.size() != 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if r.size() != 0 {
			t.Error("job not removed after retention")
		}
	})

	t.Run("watched job waits for the last watcher", func(t *testing.T) {
		r := NewRegistry(0)
		job, _ := r.Create("p1", "job-1", 10)
		w1 := r.Watch("p1")
		w2 := r.Watch("p1")
		if w1 != job || w2 != job {
			t.Fatal("Watch() did not return the job")
		}

		_ = r.Transition(job, models.StateUploading)
		_ = r.Transition(job, models.StateCompleted)
		if r.size() != 1 {
			t.Fatalf("size() = %d, want 1 while watched", r.size())
		}

		r.Unwatch(w1)
		if r.size() != 1 {
			t.Fatalf("size() = %d, want 1 with one watcher left", r.size())
		}
		r.Unwatch(w2)
		if r.size() != 0 {
			t.Errorf("size() = %d, want 0 after last watcher", r.size())
		}
	})

	t.Run("disconnect before terminal keeps the job", func(t *testing.T) {
		r := NewRegistry(0)
		job, _ := r.Create("p1", "job-1", 10)
		r.Unwatch(r.Watch("p1"))
		if _, ok := r.Get("p1"); !ok {
			t.Fatal("running job removed when its watcher left")
		}
		_ = r.Transition(job, models.StateCancelled)
		if r.size() != 0 {
			t.Errorf("size() = %d, want 0", r.size())
		}
	})

	t.Run("watch unknown id", func(t *testing.T) {
		r := NewRegistry(0)
		if r.Watch("missing") != nil {
			t.Error("Watch(missing) != nil")
		}
	})
}

func TestProcessHandle(t *testing.T) {
	r := NewRegistry(0)
	job, _ := r.Create("p1", "job-1", 10)

	if r.Terminate(job) {
		t.Error("Terminate() without process = true, want false")
	}

	proc := &mockTerminator{}
	if err := r.AttachProcess(job, proc); err != nil {
		t.Fatalf("AttachProcess() error = %v", err)
	}
	if !r.Terminate(job) {
		t.Error("Terminate() with process = false, want true")
	}
	if proc.Calls() != 1 {
		t.Errorf("Terminate calls = %d, want 1", proc.Calls())
	}

	r.DetachProcess(job)
	if r.Terminate(job) {
		t.Error("Terminate() after detach = true, want false")
	}

	failing := &mockTerminator{err: errors.New("no such process")}
	_ = r.AttachProcess(job, failing)
	if r.Terminate(job) {
		t.Error("Terminate() with failing signal = true, want false")
	}
}

func TestAttachAfterCancelTerminates(t *testing.T) {
	r := NewRegistry(0)
	job, _ := r.Create("p1", "job-1", 10)
	r.MarkCancelled("p1")

	proc := &mockTerminator{}
	if err := r.AttachProcess(job, proc); err != nil {
		t.Fatalf("AttachProcess() error = %v", err)
	}
	if proc.Calls() != 1 {
		t.Errorf("Terminate calls = %d, want 1", proc.Calls())
	}
}

func TestDiscardAndLive(t *testing.T) {
	r := NewRegistry(time.Hour)
	a, _ := r.Create("a", "job-a", 10)
	b, _ := r.Create("b", "job-b", 10)
	c, _ := r.Create("c", "job-c", 10)
	_ = r.Transition(c, models.StateFailed)

	if got := len(r.Live()); got != 2 {
		t.Errorf("len(Live()) = %d, want 2", got)
	}

	r.Discard(a)
	if _, ok := r.Get("a"); ok {
		t.Error("Discard() left the job registered")
	}
	live := r.Live()
	if len(live) != 1 || live[0] != b {
		t.Errorf("Live() = %v, want [b]", live)
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry(time.Hour)
	_, _ = r.Create("p1", "job-1", 10)

	r.Remove("p1")
	if _, ok := r.Get("p1"); ok {
		t.Error("Remove() left the job registered")
	}
	r.Remove("p1")
	r.Remove("unknown")

	if _, err := r.Create("p1", "job-2", 10); err != nil {
		t.Errorf("Create() after Remove() error = %v", err)
	}
}

func TestFinalizeRunsOnce(t *testing.T) {
	r := NewRegistry(0)
	job, _ := r.Create("p1", "job-1", 10)

	var calls int
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.Finalize(func() { calls++ })
		}()
	}
	wg.Wait()
	if calls != 1 {
		t.Errorf("Finalize ran %d times, want 1", calls)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry(0)
	job, _ := r.Create("p1", "job-1", 100)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(v float64) {
			defer wg.Done()
			r.UpdateProgress("p1", v)
		}(float64(i))
		go func() {
			defer wg.Done()
			r.MarkCancelled("p1")
		}()
		go func() {
			defer wg.Done()
			if w := r.Watch("p1"); w != nil {
				_ = w.Snapshot()
				r.Unwatch(w)
			}
		}()
	}
	wg.Wait()

	if job.Progress() != 49 {
		t.Errorf("Progress() = %v, want 49", job.Progress())
	}
	if !job.CancelRequested() {
		t.Error("CancelRequested() = false")
	}
}
