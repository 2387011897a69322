package sync

import (
	"fmt"
	"time"
)

// SyncReport is the output aggregate of one sync cycle.
type SyncReport struct {
	// Totals per side.
	LocalActive    int
	LocalArchived  int
	RemoteActive   int
	RemoteArchived int

	ConflictsDetected int
	ConflictsResolved int

	IssuesNeedsPush int
	IssuesNeedsPull int
	IssuesPushed    int
	IssuesPulled    int
	IssuesUpToDate  int

	DuplicatesDetected int
	DuplicatesResolved int
	DuplicatesDeleted  int
	DuplicatesArchived int

	Changes []IssueChange

	// Errors maps item id to failure message. Partial failure is an
	// expected outcome, not a cycle abort.
	Errors map[string]string
	// Error is the cycle-level failure, "" on success.
	Error string

	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewSyncReport creates an empty report stamped with the start time.
func NewSyncReport() *SyncReport {
	return &SyncReport{
		Errors:    make(map[string]string),
		StartedAt: time.Now().UTC(),
	}
}

// AddError records a per-item error. Colliding ids get a numeric suffix
// so no failure is silently overwritten.
func (r *SyncReport) AddError(id, msg string) {
	if _, exists := r.Errors[id]; !exists {
		r.Errors[id] = msg
		return
	}
	for i := 2; ; i++ {
		key := fmt.Sprintf("%s#%d", id, i)
		if _, exists := r.Errors[key]; !exists {
			r.Errors[key] = msg
			return
		}
	}
}

// Finish stamps the end time.
func (r *SyncReport) Finish() {
	r.FinishedAt = time.Now().UTC()
}

// Duration is the wall-clock time of the cycle.
func (r *SyncReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the cycle completed without a top-level error.
func (r *SyncReport) Succeeded() bool {
	return r.Error == ""
}
