package models

import "time"

// JobState represents the lifecycle state of a conversion job.
type JobState string

const (
	StateConverting JobState = "converting"
	StateUploading  JobState = "uploading"
	StateCompleted  JobState = "completed"
	StateCancelled  JobState = "cancelled"
	StateFailed     JobState = "failed"
)

// IsTerminal returns true once no further transitions are possible.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s JobState) CanTransitionTo(next JobState) bool {
	switch s {
	case StateConverting:
		return next == StateUploading || next == StateCancelled || next == StateFailed
	case StateUploading:
		return next == StateCompleted || next == StateCancelled || next == StateFailed
	}
	return false
}

// JobEvent is published to the notification queue when a job reaches a terminal state.
type JobEvent struct {
	JobID       string    `json:"jobId"`
	ProgressID  string    `json:"progressId"`
	State       JobState  `json:"state"`
	PlaylistURL string    `json:"playlistUrl,omitempty"`
	Segments    int       `json:"segments,omitempty"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}
