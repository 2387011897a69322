package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/remote"
	"github.com/shanewilkins/roadmap-sub007/internal/store"
)

// mockStore is an in-memory store.Store for sync tests.
type mockStore struct {
	issues   map[string]*models.Issue
	links    map[string]string // remoteID -> issueID
	baseline map[string]store.BaselineItem
	lastSync time.Time
	hasSync  bool

	nextID            int
	saveBaselineCalls int
	createCalls       int
	updateCalls       int
	deleteCalls       []string
}

func newMockStore() *mockStore {
	return &mockStore{
		issues:   make(map[string]*models.Issue),
		links:    make(map[string]string),
		baseline: make(map[string]store.BaselineItem),
	}
}

func (m *mockStore) addIssue(issue *models.Issue) *models.Issue {
	m.issues[issue.ID] = issue
	return issue
}

func (m *mockStore) CreateProject(ctx context.Context, p *models.Project) error { return nil }
func (m *mockStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return nil, fmt.Errorf("project not found: %s", id)
}
func (m *mockStore) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	return nil, fmt.Errorf("project not found: %s", name)
}
func (m *mockStore) ListProjects(ctx context.Context) ([]*models.Project, error) { return nil, nil }
func (m *mockStore) UpdateProject(ctx context.Context, p *models.Project) error  { return nil }
func (m *mockStore) DeleteProject(ctx context.Context, id string) error          { return nil }

func (m *mockStore) CreateIssue(ctx context.Context, issue *models.Issue) error {
	m.createCalls++
	if issue.ID == "" {
		m.nextID++
		issue.ID = fmt.Sprintf("issue-%d", m.nextID)
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = time.Now().UTC()
	}
	m.issues[issue.ID] = issue
	return nil
}

func (m *mockStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	issue, ok := m.issues[id]
	if !ok {
		return nil, fmt.Errorf("issue not found: %s", id)
	}
	return issue, nil
}

func (m *mockStore) ListIssues(ctx context.Context, filter store.IssueListFilter) ([]*models.Issue, error) {
	var out []*models.Issue
	for _, issue := range m.issues {
		if !filter.IncludeArchived && issue.Archived {
			continue
		}
		out = append(out, issue)
	}
	return out, nil
}

func (m *mockStore) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	if _, ok := m.issues[issue.ID]; !ok {
		return fmt.Errorf("issue not found: %s", issue.ID)
	}
	m.updateCalls++
	m.issues[issue.ID] = issue
	return nil
}

func (m *mockStore) DeleteIssue(ctx context.Context, id string) error {
	if _, ok := m.issues[id]; !ok {
		return fmt.Errorf("issue not found: %s", id)
	}
	delete(m.issues, id)
	m.deleteCalls = append(m.deleteCalls, id)
	// Like the SQLite store, links survive the issue.
	return nil
}

func (m *mockStore) BulkDeleteIssues(ctx context.Context, ids []string) (int64, error) {
	var n int64
	for _, id := range ids {
		if err := m.DeleteIssue(ctx, id); err == nil {
			n++
		}
	}
	return n, nil
}

func (m *mockStore) LinkRemote(ctx context.Context, backend, remoteID, issueID string) error {
	m.links[remoteID] = issueID
	return nil
}

func (m *mockStore) UnlinkRemote(ctx context.Context, backend, remoteID string) error {
	delete(m.links, remoteID)
	return nil
}

func (m *mockStore) ResolveRemote(ctx context.Context, backend, remoteID string) (string, error) {
	return m.links[remoteID], nil
}

func (m *mockStore) RemoteLinks(ctx context.Context, backend string) (map[string]string, error) {
	out := make(map[string]string, len(m.links))
	for rid, iid := range m.links {
		out[rid] = iid
	}
	return out, nil
}

func (m *mockStore) LoadBaseline(ctx context.Context) ([]store.BaselineItem, error) {
	out := make([]store.BaselineItem, 0, len(m.baseline))
	for _, item := range m.baseline {
		out = append(out, item)
	}
	return out, nil
}

func (m *mockStore) SaveBaseline(ctx context.Context, items []store.BaselineItem, lastSync time.Time) error {
	m.saveBaselineCalls++
	m.baseline = make(map[string]store.BaselineItem, len(items))
	for _, item := range items {
		m.baseline[item.ID] = item
	}
	m.lastSync = lastSync
	m.hasSync = true
	return nil
}

func (m *mockStore) UpsertBaselineItem(ctx context.Context, item store.BaselineItem) error {
	m.baseline[item.ID] = item
	return nil
}

func (m *mockStore) DeleteBaselineItems(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(m.baseline, id)
	}
	return nil
}

func (m *mockStore) LastSyncAt(ctx context.Context) (time.Time, bool, error) {
	return m.lastSync, m.hasSync, nil
}

func (m *mockStore) Migrate(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                      { return nil }

// mockClient is a scripted remote.Client that records every mutation.
// With assignNumbers set it behaves like a real backend: pushes are
// reflected into the issue map and unlinked items get a fresh remote id.
type mockClient struct {
	issues  map[string]remote.Issue
	authErr error
	getErr  error
	pushErr error
	pullErr error

	assignNumbers bool
	nextNumber    int

	pushed   []string // local issue ids sent to the backend
	pulled   []string // remote ids materialized locally
	resolved []string // remote ids notified of a conflict resolution
}

func newMockClient(issues map[string]remote.Issue) *mockClient {
	if issues == nil {
		issues = make(map[string]remote.Issue)
	}
	return &mockClient{issues: issues}
}

func (c *mockClient) Backend() string { return "github" }

func (c *mockClient) Authenticate(ctx context.Context) (bool, error) {
	if c.authErr != nil {
		return false, c.authErr
	}
	return true, nil
}

func (c *mockClient) GetIssues(ctx context.Context) (map[string]remote.Issue, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	out := make(map[string]remote.Issue, len(c.issues))
	for id, ri := range c.issues {
		out[id] = ri
	}
	return out, nil
}

func (c *mockClient) GetMilestones(ctx context.Context) ([]models.Milestone, error) {
	return nil, nil
}

func (c *mockClient) PushIssue(ctx context.Context, issue *models.Issue) (bool, error) {
	if c.pushErr != nil {
		return false, c.pushErr
	}
	c.pushed = append(c.pushed, issue.ID)
	c.reflectPush(issue)
	return true, nil
}

func (c *mockClient) PushIssues(ctx context.Context, issues []*models.Issue) (remote.PushResult, error) {
	if c.pushErr != nil {
		return remote.PushResult{}, c.pushErr
	}
	result := remote.PushResult{Errors: make(map[string]string)}
	for _, issue := range issues {
		c.pushed = append(c.pushed, issue.ID)
		c.reflectPush(issue)
		result.Pushed = append(result.Pushed, issue.ID)
	}
	return result, nil
}

// reflectPush mirrors a pushed item into the backend snapshot, assigning
// a remote id when the item has none yet.
func (c *mockClient) reflectPush(issue *models.Issue) {
	if !c.assignNumbers {
		return
	}
	rid := issue.RemoteID(c.Backend())
	if rid == "" {
		c.nextNumber++
		rid = strconv.Itoa(100 + c.nextNumber)
		issue.SetRemoteID(c.Backend(), rid)
	}
	c.issues[rid] = remote.Issue{
		ID:       rid,
		Title:    issue.Title,
		Body:     issue.Content,
		State:    string(issue.Status),
		Assignee: issue.Assignee,
		Labels:   append([]string(nil), issue.Labels...),
	}
}

func (c *mockClient) PullIssue(ctx context.Context, remoteID string) (bool, error) {
	if c.pullErr != nil {
		return false, c.pullErr
	}
	c.pulled = append(c.pulled, remoteID)
	return true, nil
}

func (c *mockClient) PullIssues(ctx context.Context, remoteIDs []string) (remote.PullResult, error) {
	if c.pullErr != nil {
		return remote.PullResult{}, c.pullErr
	}
	result := remote.PullResult{Errors: make(map[string]string)}
	for _, rid := range remoteIDs {
		c.pulled = append(c.pulled, rid)
		result.Pulled = append(result.Pulled, rid)
	}
	return result, nil
}

func (c *mockClient) ResolveConflict(ctx context.Context, remoteID, resolution string) (bool, error) {
	c.resolved = append(c.resolved, remoteID)
	return true, nil
}
