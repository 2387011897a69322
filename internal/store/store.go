package store

import (
	"context"
	"time"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
)

// IssueListFilter specifies filters for listing issues.
type IssueListFilter struct {
	ProjectID       string
	Status          models.IssueStatus
	Priority        models.IssuePriority
	Label           string
	IncludeArchived bool
}

// BaselineItem is one persisted row of the sync baseline snapshot.
//
// Only the listed fields survive a process restart; content, priority and
// blocking relations are tracked in-memory per sync cycle but are not part
// of the persisted baseline. Conflict detection on those fields is only
// guaranteed within a single process lifetime.
type BaselineItem struct {
	ID          string
	Status      string
	Assignee    string
	Title       string
	Description string
	Labels      []string
}

// Store defines the persistence interface for roadmap.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error

	// Issues
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error)
	UpdateIssue(ctx context.Context, issue *models.Issue) error
	DeleteIssue(ctx context.Context, id string) error
	BulkDeleteIssues(ctx context.Context, ids []string) (int64, error)

	// Remote links map (backend, remoteID) <-> local issue id.
	LinkRemote(ctx context.Context, backend, remoteID, issueID string) error
	UnlinkRemote(ctx context.Context, backend, remoteID string) error
	ResolveRemote(ctx context.Context, backend, remoteID string) (string, error)
	RemoteLinks(ctx context.Context, backend string) (map[string]string, error)

	// Baseline snapshot for three-way sync.
	LoadBaseline(ctx context.Context) ([]BaselineItem, error)
	SaveBaseline(ctx context.Context, items []BaselineItem, lastSync time.Time) error
	UpsertBaselineItem(ctx context.Context, item BaselineItem) error
	DeleteBaselineItems(ctx context.Context, ids []string) error
	LastSyncAt(ctx context.Context) (time.Time, bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
