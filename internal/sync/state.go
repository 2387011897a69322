// Package sync implements three-way synchronization between the local
// issue store and a remote issue tracker. A sync cycle compares the
// current local and remote snapshots against the baseline recorded by
// the previous successful cycle, classifies what changed on each side,
// resolves conflicts, applies a plan of idempotent actions, and commits
// a new baseline.
package sync

import (
	"sort"
	"strings"
	"time"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/remote"
)

// BaseItemState is a snapshot of one work item's synchronizable fields
// at a point in time. Instances are built fresh each cycle and never
// mutated after construction.
type BaseItemState struct {
	ID        string
	Title     string
	Headline  string
	Content   string
	Status    string
	Priority  string
	Assignee  string
	Labels    []string
	BlockedBy []string
	Archived  bool
	Custom    map[string]string

	// UpdatedAt is valid only when HasUpdatedAt is true. Remote
	// payloads may omit timestamps entirely.
	UpdatedAt    time.Time
	HasUpdatedAt bool
}

// SyncState aggregates the three per-cycle views of the item universe.
// The Baseline partition is the only part that is persisted.
type SyncState struct {
	Baseline map[string]BaseItemState
	Local    map[string]BaseItemState
	Remote   map[string]BaseItemState
	LastSync time.Time

	// Ids present in baseline but missing from the live snapshot on
	// the respective side.
	DeletedLocal  map[string]bool
	DeletedRemote map[string]bool
}

// NewSyncState returns an empty SyncState with all partitions allocated.
func NewSyncState() *SyncState {
	return &SyncState{
		Baseline:      make(map[string]BaseItemState),
		Local:         make(map[string]BaseItemState),
		Remote:        make(map[string]BaseItemState),
		DeletedLocal:  make(map[string]bool),
		DeletedRemote: make(map[string]bool),
	}
}

// StateFromIssue snapshots a local issue.
func StateFromIssue(issue *models.Issue) BaseItemState {
	s := BaseItemState{
		ID:        issue.ID,
		Title:     issue.Title,
		Headline:  issue.Headline,
		Content:   issue.Content,
		Status:    string(issue.Status),
		Priority:  string(issue.Priority),
		Assignee:  issue.Assignee,
		Labels:    append([]string(nil), issue.Labels...),
		BlockedBy: append([]string(nil), issue.BlockedBy...),
		Archived:  issue.Archived,
	}
	if len(issue.CustomFields) > 0 {
		s.Custom = make(map[string]string, len(issue.CustomFields))
		for k, v := range issue.CustomFields {
			s.Custom[k] = v
		}
	}
	if !issue.UpdatedAt.IsZero() {
		s.UpdatedAt = issue.UpdatedAt
		s.HasUpdatedAt = true
	}
	return s
}

// StateFromRemote snapshots a remote item under the given id, which may
// be a resolved local id or a synthetic key for unmatched remote items.
func StateFromRemote(id string, ri remote.Issue) BaseItemState {
	s := BaseItemState{
		ID:      id,
		Title:   ri.Title,
		Content: ri.Body,
		Status:  string(models.ParseStatus(ri.State)),
		// Backends that don't track priority report it empty; parse it
		// so absence compares equal to the local default.
		Priority: string(models.ParsePriority(ri.Priority)),
		Assignee: ri.Assignee,
		Labels:   append([]string(nil), ri.Labels...),
	}
	if len(ri.Fields) > 0 {
		s.Custom = make(map[string]string, len(ri.Fields))
		for k, v := range ri.Fields {
			s.Custom[k] = v
		}
	}
	if ts, ok := ParseTimestamp(ri.UpdatedAt); ok {
		s.UpdatedAt = ts
		s.HasUpdatedAt = true
	}
	return s
}

// ParseTimestamp extracts a timestamp from a native time value or an
// ISO-8601 string (with or without a trailing Z or sub-second part).
// A missing or unparseable value reports ok=false rather than an error:
// comparands without a remote timestamp are handled conservatively by
// the caller, not failed.
func ParseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// normalizeValue collapses nil/empty representations into "" so absent
// and empty-string never register as a field difference.
func normalizeValue(s string) string {
	return strings.TrimSpace(s)
}

// normalizeLabels produces an order-insensitive canonical form.
func normalizeLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	sorted := make([]string, 0, len(labels))
	for _, l := range labels {
		if v := normalizeValue(l); v != "" {
			sorted = append(sorted, v)
		}
	}
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// FieldValue returns the normalized comparison value of a synchronized
// field. Unknown field names yield "".
func (s *BaseItemState) FieldValue(field string) string {
	if s == nil {
		return ""
	}
	switch field {
	case FieldStatus:
		return normalizeValue(s.Status)
	case FieldPriority:
		// Absent priority compares equal to the default; persisted
		// baselines don't carry priority at all.
		return string(models.ParsePriority(s.Priority))
	case FieldContent:
		return normalizeValue(s.Content)
	case FieldLabels:
		return normalizeLabels(s.Labels)
	case FieldAssignee:
		return normalizeValue(s.Assignee)
	case FieldTitle:
		return normalizeValue(s.Title)
	case FieldHeadline:
		return normalizeValue(s.Headline)
	default:
		return ""
	}
}

// Synchronized field names.
const (
	FieldStatus   = "status"
	FieldPriority = "priority"
	FieldContent  = "content"
	FieldLabels   = "labels"
	FieldAssignee = "assignee"
	FieldTitle    = "title"
	FieldHeadline = "headline"
)

// DefaultSyncFields is the field set compared for conflicts. Title is
// deliberately excluded: it is presentation metadata, and title-only
// divergence should not block a sync.
func DefaultSyncFields() []string {
	return []string{FieldStatus, FieldPriority, FieldContent, FieldLabels, FieldAssignee}
}
