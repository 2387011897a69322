package remote

import (
	"context"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
)

// Issue is a work item as reported by a remote backend. The ID is the
// backend's own identifier and is not necessarily a local issue id.
type Issue struct {
	ID       string
	Title    string
	Body     string
	State    string
	Assignee string
	Labels   []string
	Priority string
	// UpdatedAt is the backend's last-modified timestamp, RFC3339 /
	// ISO-8601 formatted. Backends may omit it entirely.
	UpdatedAt string
	// Fields carries backend-specific extras not covered above.
	Fields map[string]string
}

// PushResult reports the outcome of a batch push: ids that landed and
// per-id errors for the ones that didn't.
type PushResult struct {
	Pushed []string
	Errors map[string]string
}

// PullResult mirrors PushResult for batch pulls.
type PullResult struct {
	Pulled []string
	Errors map[string]string
}

// Client is the sync core's view of a remote issue tracker. The
// implementation owns transport, authentication state, and timeouts;
// the core only classifies and reacts to the errors it returns.
type Client interface {
	// Backend returns the backend name used for remote-id namespacing,
	// e.g. "github".
	Backend() string

	Authenticate(ctx context.Context) (bool, error)
	GetIssues(ctx context.Context) (map[string]Issue, error)
	GetMilestones(ctx context.Context) ([]models.Milestone, error)

	PushIssue(ctx context.Context, issue *models.Issue) (bool, error)
	PushIssues(ctx context.Context, issues []*models.Issue) (PushResult, error)
	PullIssue(ctx context.Context, remoteID string) (bool, error)
	PullIssues(ctx context.Context, remoteIDs []string) (PullResult, error)

	// ResolveConflict informs the backend of the chosen resolution for a
	// conflicted item (e.g. leaves an audit comment). Best effort.
	ResolveConflict(ctx context.Context, remoteID, resolution string) (bool, error)
}
