package models

import "errors"

// Sentinel errors for HLS publishing jobs.
var (
	// Job lifecycle errors
	ErrEncoderLaunch   = errors.New("failed to launch encoder")
	ErrDurationProbe   = errors.New("failed to probe media duration")
	ErrEncodeFailed    = errors.New("encoder exited with error")
	ErrUpload          = errors.New("failed to upload HLS files")
	ErrManifestIO      = errors.New("failed to read or write manifest")
	ErrProgressIDInUse = errors.New("progressId already in use")
	ErrShuttingDown    = errors.New("service is shutting down")

	// Registry errors
	ErrInvalidTransition = errors.New("invalid job state transition")

	// Storage errors
	ErrVideoNotFound = errors.New("video not found")

	// Validation errors for uploads
	ErrMissingProgressID = errors.New("progressId is required")
	ErrInvalidFileType   = errors.New("invalid file type")
	ErrFilenameTooLong   = errors.New("filename too long")
	ErrInvalidJobID      = errors.New("invalid job id")
	ErrMissingPlaylist   = errors.New("playlistUrl is required")
)
