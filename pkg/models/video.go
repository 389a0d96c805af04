package models

// VideoRecord is the catalog entry written once a job's playlist is published.
type VideoRecord struct {
	// Keys
	PK     string `dynamodbav:"pk" json:"-"`
	SK     string `dynamodbav:"sk" json:"-"`
	GSI1PK string `dynamodbav:"gsi1pk,omitempty" json:"-"`
	GSI1SK string `dynamodbav:"gsi1sk,omitempty" json:"-"`

	// Attributes
	JobID           string  `dynamodbav:"job_id" json:"jobId"`
	Filename        string  `dynamodbav:"filename,omitempty" json:"filename,omitempty"`
	PlaylistURL     string  `dynamodbav:"playlist_url" json:"playlistUrl"`
	RemotePrefix    string  `dynamodbav:"remote_prefix" json:"remotePrefix"`
	SegmentCount    int     `dynamodbav:"segment_count" json:"segmentCount"`
	DurationSeconds float64 `dynamodbav:"duration_seconds,omitempty" json:"durationSeconds,omitempty"`
	PublishedAt     string  `dynamodbav:"published_at" json:"publishedAt"`
}

// Validate checks that the record carries the fields required to be served.
func (r *VideoRecord) Validate() error {
	if r.JobID == "" {
		return ErrInvalidJobID
	}
	if r.PlaylistURL == "" {
		return ErrMissingPlaylist
	}
	return nil
}
