package worker

import (
	"path"
	"strings"

	"github.com/amillerrr/hls-publisher/pkg/models"
)

// Layout maps a job's files onto blob store keys: <namespace>/<jobId>/<filename>.
type Layout struct {
	Namespace string
}

// Prefix returns the key prefix that holds every object of jobID.
func (l Layout) Prefix(jobID string) string {
	return path.Join(l.Namespace, jobID) + "/"
}

// Key returns the object key for one of jobID's files.
func (l Layout) Key(jobID, name string) string {
	return path.Join(l.Namespace, jobID, name)
}

// validateJobID rejects ids that would address more than one job's namespace.
func validateJobID(jobID string) error {
	if jobID == "" || jobID == "." || jobID == ".." || strings.ContainsAny(jobID, `/\`) {
		return models.ErrInvalidJobID
	}
	return nil
}
