package models

import "time"

// IssueStatus represents the state of an issue.
type IssueStatus string

const (
	IssueStatusTodo       IssueStatus = "todo"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusDone       IssueStatus = "done"
	IssueStatusClosed     IssueStatus = "closed"
	IssueStatusArchived   IssueStatus = "archived"
)

// IssuePriority represents the urgency of an issue.
type IssuePriority string

const (
	IssuePriorityLow      IssuePriority = "low"
	IssuePriorityMedium   IssuePriority = "medium"
	IssuePriorityHigh     IssuePriority = "high"
	IssuePriorityCritical IssuePriority = "critical"
)

// ParseStatus maps a raw status string to an IssueStatus, defaulting to
// todo for anything unrecognized. Remote backends report states the local
// model doesn't know about; those must not fail a sync.
func ParseStatus(s string) IssueStatus {
	switch IssueStatus(s) {
	case IssueStatusTodo, IssueStatusInProgress, IssueStatusDone, IssueStatusClosed, IssueStatusArchived:
		return IssueStatus(s)
	case "open":
		return IssueStatusTodo
	default:
		return IssueStatusTodo
	}
}

// ParsePriority maps a raw priority string to an IssuePriority, defaulting
// to medium for anything unrecognized.
func ParsePriority(s string) IssuePriority {
	switch IssuePriority(s) {
	case IssuePriorityLow, IssuePriorityMedium, IssuePriorityHigh, IssuePriorityCritical:
		return IssuePriority(s)
	default:
		return IssuePriorityMedium
	}
}

// Issue represents a tracked work item for a project.
type Issue struct {
	ID        string
	ProjectID string
	Title     string
	Headline  string // one-line summary shown in listings
	Content   string // free-text body
	Status    IssueStatus
	Priority  IssuePriority
	Assignee  string
	Labels    []string
	BlockedBy []string
	Blocks    []string
	// RemoteIDs maps a backend name (e.g. "github") to the identifier
	// the issue carries in that backend.
	RemoteIDs    map[string]string
	CustomFields map[string]string
	Archived     bool
	SourceFile   string // on-disk file the issue was loaded from, if any
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
}

// RemoteID returns the issue's identifier in the given backend, or ""
// if the issue has never been linked there.
func (i *Issue) RemoteID(backend string) string {
	if i.RemoteIDs == nil {
		return ""
	}
	return i.RemoteIDs[backend]
}

// SetRemoteID records the issue's identifier in the given backend.
func (i *Issue) SetRemoteID(backend, id string) {
	if i.RemoteIDs == nil {
		i.RemoteIDs = make(map[string]string)
	}
	i.RemoteIDs[backend] = id
}
