// Package idgen generates caller-facing job identifiers for embedders
// that don't already have a natural job_id of their own, such as the
// CLI's run command invoked without --job-id.
package idgen

import "github.com/google/uuid"

// New returns a fresh random identifier suitable for use as a job_id.
func New() string {
	return uuid.NewString()
}
