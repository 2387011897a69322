package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/store"
	"github.com/shanewilkins/roadmap-sub007/internal/sync"
)

// ---------------------------------------------------------------------------
// Mock store
// ---------------------------------------------------------------------------

// mockStore implements store.Store for testing.
type mockStore struct {
	projects []*models.Project
	issues   []*models.Issue
	links    map[string]string
	baseline []store.BaselineItem
	lastSync time.Time
	hasSync  bool

	// Track calls for verification.
	createdIssues []*models.Issue
	updatedIssues []*models.Issue

	// Optional error injection.
	listProjectsErr error
	listIssuesErr   error
	createIssueErr  error
	updateIssueErr  error
}

func (m *mockStore) CreateProject(_ context.Context, p *models.Project) error {
	m.projects = append(m.projects, p)
	return nil
}
func (m *mockStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	for _, p := range m.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("project not found: %s", id)
}
func (m *mockStore) GetProjectByName(_ context.Context, name string) (*models.Project, error) {
	for _, p := range m.projects {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("project not found: %s", name)
}
func (m *mockStore) ListProjects(_ context.Context) ([]*models.Project, error) {
	if m.listProjectsErr != nil {
		return nil, m.listProjectsErr
	}
	return m.projects, nil
}
func (m *mockStore) UpdateProject(_ context.Context, _ *models.Project) error { return nil }
func (m *mockStore) DeleteProject(_ context.Context, _ string) error          { return nil }

func (m *mockStore) CreateIssue(_ context.Context, issue *models.Issue) error {
	if m.createIssueErr != nil {
		return m.createIssueErr
	}
	if issue.ID == "" {
		issue.ID = fmt.Sprintf("ISSUE-%d", len(m.issues)+1)
	}
	issue.CreatedAt = time.Now()
	issue.UpdatedAt = time.Now()
	m.issues = append(m.issues, issue)
	m.createdIssues = append(m.createdIssues, issue)
	return nil
}
func (m *mockStore) GetIssue(_ context.Context, id string) (*models.Issue, error) {
	for _, i := range m.issues {
		if i.ID == id {
			return i, nil
		}
	}
	return nil, fmt.Errorf("issue not found: %s", id)
}
func (m *mockStore) ListIssues(_ context.Context, filter store.IssueListFilter) ([]*models.Issue, error) {
	if m.listIssuesErr != nil {
		return nil, m.listIssuesErr
	}
	var result []*models.Issue
	for _, i := range m.issues {
		if i.Archived && !filter.IncludeArchived {
			continue
		}
		if filter.ProjectID != "" && i.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && i.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && i.Priority != filter.Priority {
			continue
		}
		result = append(result, i)
	}
	return result, nil
}
func (m *mockStore) UpdateIssue(_ context.Context, issue *models.Issue) error {
	if m.updateIssueErr != nil {
		return m.updateIssueErr
	}
	m.updatedIssues = append(m.updatedIssues, issue)
	return nil
}
func (m *mockStore) DeleteIssue(_ context.Context, _ string) error { return nil }
func (m *mockStore) BulkDeleteIssues(_ context.Context, ids []string) (int64, error) {
	return int64(len(ids)), nil
}

func (m *mockStore) LinkRemote(_ context.Context, _, remoteID, issueID string) error {
	if m.links == nil {
		m.links = make(map[string]string)
	}
	m.links[remoteID] = issueID
	return nil
}
func (m *mockStore) UnlinkRemote(_ context.Context, _, remoteID string) error {
	delete(m.links, remoteID)
	return nil
}
func (m *mockStore) ResolveRemote(_ context.Context, _, remoteID string) (string, error) {
	if id, ok := m.links[remoteID]; ok {
		return id, nil
	}
	return "", fmt.Errorf("no link for remote id %s", remoteID)
}
func (m *mockStore) RemoteLinks(_ context.Context, _ string) (map[string]string, error) {
	return m.links, nil
}

func (m *mockStore) LoadBaseline(_ context.Context) ([]store.BaselineItem, error) {
	return m.baseline, nil
}
func (m *mockStore) SaveBaseline(_ context.Context, items []store.BaselineItem, lastSync time.Time) error {
	m.baseline = items
	m.lastSync = lastSync
	m.hasSync = true
	return nil
}
func (m *mockStore) UpsertBaselineItem(_ context.Context, _ store.BaselineItem) error { return nil }
func (m *mockStore) DeleteBaselineItems(_ context.Context, _ []string) error          { return nil }
func (m *mockStore) LastSyncAt(_ context.Context) (time.Time, bool, error) {
	return m.lastSync, m.hasSync, nil
}

func (m *mockStore) Migrate(_ context.Context) error { return nil }
func (m *mockStore) Close() error                    { return nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Server, *mockStore) {
	t.Helper()

	ms := &mockStore{}
	srv := NewServer(ms, nil)
	require.NotNil(t, srv)

	return srv, ms
}

// callToolReq builds a mcpgo.CallToolRequest with the given name and arguments.
func callToolReq(name string, args map[string]any) mcpgo.CallToolRequest {
	return mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// resultText extracts the concatenated text from a CallToolResult.
func resultText(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	var b strings.Builder
	for _, c := range result.Content {
		tc, ok := c.(mcpgo.TextContent)
		if ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// resultJSON parses the text result as JSON into the provided target.
func resultJSON(t *testing.T, result *mcpgo.CallToolResult, target any) {
	t.Helper()
	text := resultText(t, result)
	err := json.Unmarshal([]byte(text), target)
	require.NoError(t, err, "failed to parse result JSON: %s", text)
}

// seedProject adds a project to the mock store and returns it.
func seedProject(t *testing.T, ms *mockStore, name string) *models.Project {
	t.Helper()
	p := &models.Project{
		ID:          fmt.Sprintf("proj-%s", name),
		Name:        name,
		Backend:     "github",
		RemoteOwner: "acme",
		RemoteRepo:  name,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	ms.projects = append(ms.projects, p)
	return p
}

// seedIssue adds an issue to the mock store and returns it.
func seedIssue(t *testing.T, ms *mockStore, projectID, title string, status models.IssueStatus) *models.Issue {
	t.Helper()
	i := &models.Issue{
		ID:        fmt.Sprintf("ISSUE-%d", len(ms.issues)+1),
		ProjectID: projectID,
		Title:     title,
		Status:    status,
		Priority:  models.IssuePriorityMedium,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	ms.issues = append(ms.issues, i)
	return i
}

// ---------------------------------------------------------------------------
// Tests: MCPServer registration
// ---------------------------------------------------------------------------

func TestNewServer(t *testing.T) {
	srv, _ := newTestServer(t)
	mcpSrv := srv.MCPServer()
	require.NotNil(t, mcpSrv, "MCPServer() should return non-nil")
}

// ---------------------------------------------------------------------------
// Tests: roadmap_list_projects
// ---------------------------------------------------------------------------

func TestHandleListProjects_Empty(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	req := callToolReq("roadmap_list_projects", nil)
	result, err := srv.handleListProjects(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.NotEmpty(t, text, "should return some output even with no projects")
}

func TestHandleListProjects_WithProjects(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	seedProject(t, ms, "alpha")
	seedProject(t, ms, "beta")

	req := callToolReq("roadmap_list_projects", nil)
	result, err := srv.handleListProjects(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "alpha")
	assert.Contains(t, text, "beta")
	assert.Contains(t, text, "acme/alpha")
}

func TestHandleListProjects_StoreError(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	ms.listProjectsErr = fmt.Errorf("db connection failed")

	req := callToolReq("roadmap_list_projects", nil)
	result, err := srv.handleListProjects(ctx, req)
	require.NoError(t, err, "handler should not return Go error; should wrap in result")
	require.NotNil(t, result)
	assert.True(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "db connection failed")
}

// ---------------------------------------------------------------------------
// Tests: roadmap_list_issues
// ---------------------------------------------------------------------------

func TestHandleListIssues_All(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	p := seedProject(t, ms, "alpha")
	seedIssue(t, ms, p.ID, "fix login", models.IssueStatusTodo)
	seedIssue(t, ms, p.ID, "add search", models.IssueStatusInProgress)

	req := callToolReq("roadmap_list_issues", nil)
	result, err := srv.handleListIssues(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out []issueOut
	resultJSON(t, result, &out)
	assert.Len(t, out, 2)
}

func TestHandleListIssues_FilterByProject(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	pa := seedProject(t, ms, "app-a")
	pb := seedProject(t, ms, "app-b")
	seedIssue(t, ms, pa.ID, "a issue", models.IssueStatusTodo)
	seedIssue(t, ms, pb.ID, "b issue", models.IssueStatusTodo)

	req := callToolReq("roadmap_list_issues", map[string]any{"project": "app-a"})
	result, err := srv.handleListIssues(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "a issue")
	assert.NotContains(t, text, "b issue")
}

func TestHandleListIssues_FilterByStatus(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	p := seedProject(t, ms, "alpha")
	seedIssue(t, ms, p.ID, "todo issue", models.IssueStatusTodo)
	seedIssue(t, ms, p.ID, "done issue", models.IssueStatusDone)

	req := callToolReq("roadmap_list_issues", map[string]any{"status": "todo"})
	result, err := srv.handleListIssues(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "todo issue")
	assert.NotContains(t, text, "done issue")
}

func TestHandleListIssues_ArchivedHiddenByDefault(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	p := seedProject(t, ms, "alpha")
	seedIssue(t, ms, p.ID, "live issue", models.IssueStatusTodo)
	archived := seedIssue(t, ms, p.ID, "old issue", models.IssueStatusArchived)
	archived.Archived = true

	req := callToolReq("roadmap_list_issues", nil)
	result, err := srv.handleListIssues(ctx, req)
	require.NoError(t, err)
	assert.NotContains(t, resultText(t, result), "old issue")

	req = callToolReq("roadmap_list_issues", map[string]any{"include_archived": true})
	result, err = srv.handleListIssues(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "old issue")
}

func TestHandleListIssues_UnknownProject(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	req := callToolReq("roadmap_list_issues", map[string]any{"project": "nonexistent"})
	result, err := srv.handleListIssues(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListIssues_StoreError(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	ms.listIssuesErr = fmt.Errorf("db locked")

	req := callToolReq("roadmap_list_issues", nil)
	result, err := srv.handleListIssues(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "db locked")
}

// ---------------------------------------------------------------------------
// Tests: roadmap_show_issue
// ---------------------------------------------------------------------------

func TestHandleShowIssue_ByPrefix(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	p := seedProject(t, ms, "alpha")
	issue := seedIssue(t, ms, p.ID, "fix login", models.IssueStatusTodo)
	issue.Content = "login form rejects valid passwords"

	req := callToolReq("roadmap_show_issue", map[string]any{"issue_id": issue.ID[:5]})
	result, err := srv.handleShowIssue(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "fix login")
	assert.Contains(t, text, "login form rejects valid passwords")
}

func TestHandleShowIssue_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	req := callToolReq("roadmap_show_issue", map[string]any{"issue_id": "NOPE"})
	result, err := srv.handleShowIssue(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleShowIssue_MissingParam(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	req := callToolReq("roadmap_show_issue", nil)
	result, err := srv.handleShowIssue(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ---------------------------------------------------------------------------
// Tests: roadmap_create_issue
// ---------------------------------------------------------------------------

func TestHandleCreateIssue(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	seedProject(t, ms, "alpha")

	req := callToolReq("roadmap_create_issue", map[string]any{
		"project":  "alpha",
		"title":    "new feature",
		"body":     "details here",
		"priority": "high",
	})
	result, err := srv.handleCreateIssue(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, ms.createdIssues, 1)
	created := ms.createdIssues[0]
	assert.Equal(t, "new feature", created.Title)
	assert.Equal(t, "details here", created.Content)
	assert.Equal(t, models.IssuePriorityHigh, created.Priority)
	assert.Equal(t, models.IssueStatusTodo, created.Status)
}

func TestHandleCreateIssue_DefaultPriority(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	seedProject(t, ms, "alpha")

	req := callToolReq("roadmap_create_issue", map[string]any{
		"project": "alpha",
		"title":   "plain issue",
	})
	result, err := srv.handleCreateIssue(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, ms.createdIssues, 1)
	assert.Equal(t, models.IssuePriorityMedium, ms.createdIssues[0].Priority)
}

func TestHandleCreateIssue_MissingTitle(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	seedProject(t, ms, "alpha")

	req := callToolReq("roadmap_create_issue", map[string]any{"project": "alpha"})
	result, err := srv.handleCreateIssue(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, ms.createdIssues)
}

func TestHandleCreateIssue_UnknownProject(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	req := callToolReq("roadmap_create_issue", map[string]any{
		"project": "nonexistent",
		"title":   "orphan",
	})
	result, err := srv.handleCreateIssue(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ---------------------------------------------------------------------------
// Tests: roadmap_update_issue
// ---------------------------------------------------------------------------

func TestHandleUpdateIssue_Status(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	p := seedProject(t, ms, "alpha")
	issue := seedIssue(t, ms, p.ID, "fix login", models.IssueStatusTodo)

	req := callToolReq("roadmap_update_issue", map[string]any{
		"issue_id": issue.ID,
		"status":   "closed",
	})
	result, err := srv.handleUpdateIssue(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, ms.updatedIssues, 1)
	assert.Equal(t, models.IssueStatusClosed, ms.updatedIssues[0].Status)
	assert.NotNil(t, ms.updatedIssues[0].ClosedAt, "closing should stamp ClosedAt")
}

func TestHandleUpdateIssue_NoFields(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	p := seedProject(t, ms, "alpha")
	issue := seedIssue(t, ms, p.ID, "fix login", models.IssueStatusTodo)

	req := callToolReq("roadmap_update_issue", map[string]any{"issue_id": issue.ID})
	result, err := srv.handleUpdateIssue(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, ms.updatedIssues)
}

func TestHandleUpdateIssue_StoreError(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	p := seedProject(t, ms, "alpha")
	issue := seedIssue(t, ms, p.ID, "fix login", models.IssueStatusTodo)
	ms.updateIssueErr = fmt.Errorf("write failed")

	req := callToolReq("roadmap_update_issue", map[string]any{
		"issue_id": issue.ID,
		"title":    "renamed",
	})
	result, err := srv.handleUpdateIssue(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "write failed")
}

// ---------------------------------------------------------------------------
// Tests: roadmap_sync_status
// ---------------------------------------------------------------------------

func TestHandleSyncStatus_NeverSynced(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	req := callToolReq("roadmap_sync_status", nil)
	result, err := srv.handleSyncStatus(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, false, out["synced"])
	assert.NotContains(t, out, "last_sync")
}

func TestHandleSyncStatus_AfterSync(t *testing.T) {
	srv, ms := newTestServer(t)
	ctx := context.Background()

	ms.hasSync = true
	ms.lastSync = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ms.baseline = []store.BaselineItem{{ID: "a"}, {ID: "b"}}
	ms.links = map[string]string{"7": "a"}

	req := callToolReq("roadmap_sync_status", nil)
	result, err := srv.handleSyncStatus(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, true, out["synced"])
	assert.Equal(t, "2026-03-01T12:00:00Z", out["last_sync"])
	assert.Equal(t, float64(2), out["baseline_items"])
	assert.Equal(t, float64(1), out["linked_issues"])
}

// ---------------------------------------------------------------------------
// Tests: roadmap_sync
// ---------------------------------------------------------------------------

func TestHandleSync_NoRunner(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	req := callToolReq("roadmap_sync", nil)
	result, err := srv.handleSync(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no remote backend")
}

func TestHandleSync_PassesOptions(t *testing.T) {
	ms := &mockStore{}
	var gotOpts sync.Options
	runSync := func(_ context.Context, opts sync.Options) *sync.SyncReport {
		gotOpts = opts
		report := sync.NewSyncReport()
		report.DryRun = opts.DryRun
		report.IssuesPushed = 3
		report.Finish()
		return report
	}
	srv := NewServer(ms, runSync)
	ctx := context.Background()

	req := callToolReq("roadmap_sync", map[string]any{
		"dry_run":  true,
		"strategy": "keep_local",
	})
	result, err := srv.handleSync(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.True(t, gotOpts.DryRun)
	assert.Equal(t, sync.StrategyKeepLocal, gotOpts.Strategy)

	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, true, out["dry_run"])
	assert.Equal(t, float64(3), out["pushed"])
}

func TestHandleSync_InvalidStrategy(t *testing.T) {
	ms := &mockStore{}
	called := false
	runSync := func(_ context.Context, _ sync.Options) *sync.SyncReport {
		called = true
		return sync.NewSyncReport()
	}
	srv := NewServer(ms, runSync)
	ctx := context.Background()

	req := callToolReq("roadmap_sync", map[string]any{"strategy": "coin_flip"})
	result, err := srv.handleSync(ctx, req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.False(t, called, "invalid strategy should not start a cycle")
}

func TestHandleSync_ReportsCycleError(t *testing.T) {
	ms := &mockStore{}
	runSync := func(_ context.Context, _ sync.Options) *sync.SyncReport {
		report := sync.NewSyncReport()
		report.Error = "authentication failed"
		report.Finish()
		return report
	}
	srv := NewServer(ms, runSync)
	ctx := context.Background()

	req := callToolReq("roadmap_sync", nil)
	result, err := srv.handleSync(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError, "cycle errors are data, not protocol errors")

	var out map[string]any
	resultJSON(t, result, &out)
	assert.Equal(t, "authentication failed", out["error"])
}
