package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/store"
	"github.com/shanewilkins/roadmap-sub007/internal/sync"
)

// SyncFunc runs one sync cycle. Injected so the server stays decoupled
// from remote client construction.
type SyncFunc func(ctx context.Context, opts sync.Options) *sync.SyncReport

// Server wraps the roadmap data layer and exposes it as MCP tools.
type Server struct {
	store   store.Store
	runSync SyncFunc
}

// NewServer creates the MCP server wrapper. runSync may be nil, in
// which case the roadmap_sync tool reports an error.
func NewServer(s store.Store, runSync SyncFunc) *Server {
	return &Server{store: s, runSync: runSync}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("roadmap", "1.0.0", server.WithToolCapabilities(true))

	// Register all tools
	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.showIssueTool())
	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.updateIssueTool())
	srv.AddTool(s.syncStatusTool())
	srv.AddTool(s.syncTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// roadmap_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("roadmap_list_projects",
		mcp.WithDescription("List all tracked projects. Returns a JSON array of projects with id, name, description, backend, and remote repository."),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}

	type projectOut struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Backend     string `json:"backend"`
		Remote      string `json:"remote"`
	}

	out := make([]projectOut, len(projects))
	for i, p := range projects {
		remote := ""
		if p.RemoteOwner != "" && p.RemoteRepo != "" {
			remote = p.RemoteOwner + "/" + p.RemoteRepo
		}
		out[i] = projectOut{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Backend:     p.Backend,
			Remote:      remote,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal projects: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// roadmap_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("roadmap_list_issues",
		mcp.WithDescription("List issues, optionally filtered. Returns a JSON array with id, title, status, priority, assignee, labels, and remote link."),
		mcp.WithString("project", mcp.Description("Filter by project name")),
		mcp.WithString("status", mcp.Description("Filter by status: todo, in_progress, done, closed")),
		mcp.WithString("priority", mcp.Description("Filter by priority: low, medium, high, critical")),
		mcp.WithString("label", mcp.Description("Filter by label")),
		mcp.WithBoolean("include_archived", mcp.Description("Include archived issues (default false)")),
	)
	return tool, s.handleListIssues
}

type issueOut struct {
	ID       string   `json:"id"`
	Project  string   `json:"project_id"`
	Title    string   `json:"title"`
	Headline string   `json:"headline,omitempty"`
	Status   string   `json:"status"`
	Priority string   `json:"priority"`
	Assignee string   `json:"assignee,omitempty"`
	Labels   []string `json:"labels,omitempty"`
	Remote   string   `json:"remote,omitempty"`
	Archived bool     `json:"archived,omitempty"`
}

func issueToOut(issue *models.Issue) issueOut {
	return issueOut{
		ID:       issue.ID,
		Project:  issue.ProjectID,
		Title:    issue.Title,
		Headline: issue.Headline,
		Status:   string(issue.Status),
		Priority: string(issue.Priority),
		Assignee: issue.Assignee,
		Labels:   issue.Labels,
		Remote:   issue.RemoteID("github"),
		Archived: issue.Archived,
	}
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.IssueListFilter{
		Status:          models.IssueStatus(request.GetString("status", "")),
		Priority:        models.IssuePriority(request.GetString("priority", "")),
		Label:           request.GetString("label", ""),
		IncludeArchived: request.GetBool("include_archived", false),
	}

	if projectName := request.GetString("project", ""); projectName != "" {
		p, err := s.resolveProject(ctx, projectName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
		}
		filter.ProjectID = p.ID
	}

	issues, err := s.store.ListIssues(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}

	out := make([]issueOut, len(issues))
	for i, issue := range issues {
		out[i] = issueToOut(issue)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issues: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// roadmap_show_issue
func (s *Server) showIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("roadmap_show_issue",
		mcp.WithDescription("Show one issue in full, including body text. Accepts a full issue ID or a unique prefix."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID or unique prefix")),
	)
	return tool, s.handleShowIssue
}

func (s *Server) handleShowIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}

	issue, err := s.findIssue(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"id":         issue.ID,
		"project_id": issue.ProjectID,
		"title":      issue.Title,
		"headline":   issue.Headline,
		"body":       issue.Content,
		"status":     string(issue.Status),
		"priority":   string(issue.Priority),
		"assignee":   issue.Assignee,
		"labels":     issue.Labels,
		"archived":   issue.Archived,
		"created_at": issue.CreatedAt.Format(time.RFC3339),
	}
	if rid := issue.RemoteID("github"); rid != "" {
		result["remote"] = rid
	}
	if issue.ClosedAt != nil {
		result["closed_at"] = issue.ClosedAt.Format(time.RFC3339)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// roadmap_create_issue
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("roadmap_create_issue",
		mcp.WithDescription("Create a new issue in a project. The issue is pushed to the remote backend on the next sync."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Issue title")),
		mcp.WithString("headline", mcp.Description("One-line summary")),
		mcp.WithString("body", mcp.Description("Free-text body")),
		mcp.WithString("priority", mcp.Description("Priority: low, medium, high, critical (default medium)")),
		mcp.WithString("assignee", mcp.Description("Assignee")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectName, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}
	title, err := request.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: title"), nil
	}

	p, err := s.resolveProject(ctx, projectName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", projectName)), nil
	}

	issue := &models.Issue{
		ProjectID: p.ID,
		Title:     title,
		Headline:  request.GetString("headline", ""),
		Content:   request.GetString("body", ""),
		Status:    models.IssueStatusTodo,
		Priority:  models.ParsePriority(request.GetString("priority", "")),
		Assignee:  request.GetString("assignee", ""),
	}

	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %v", err)), nil
	}

	data, err := json.Marshal(issueToOut(issue))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// roadmap_update_issue
func (s *Server) updateIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("roadmap_update_issue",
		mcp.WithDescription("Update fields on an existing issue. Only the fields provided are changed."),
		mcp.WithString("issue_id", mcp.Required(), mcp.Description("Issue ID or unique prefix")),
		mcp.WithString("status", mcp.Description("New status: todo, in_progress, done, closed")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("headline", mcp.Description("New headline")),
		mcp.WithString("body", mcp.Description("New body text")),
		mcp.WithString("priority", mcp.Description("New priority")),
		mcp.WithString("assignee", mcp.Description("New assignee")),
	)
	return tool, s.handleUpdateIssue
}

func (s *Server) handleUpdateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("issue_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: issue_id"), nil
	}

	issue, err := s.findIssue(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	updated := false
	if status := request.GetString("status", ""); status != "" {
		issue.Status = models.ParseStatus(status)
		if issue.Status == models.IssueStatusClosed && issue.ClosedAt == nil {
			now := time.Now().UTC()
			issue.ClosedAt = &now
		}
		updated = true
	}
	if title := request.GetString("title", ""); title != "" {
		issue.Title = title
		updated = true
	}
	if headline := request.GetString("headline", ""); headline != "" {
		issue.Headline = headline
		updated = true
	}
	if body := request.GetString("body", ""); body != "" {
		issue.Content = body
		updated = true
	}
	if priority := request.GetString("priority", ""); priority != "" {
		issue.Priority = models.ParsePriority(priority)
		updated = true
	}
	if assignee := request.GetString("assignee", ""); assignee != "" {
		issue.Assignee = assignee
		updated = true
	}

	if !updated {
		return mcp.NewToolResultError("no fields provided to update; specify at least one of: status, title, headline, body, priority, assignee"), nil
	}

	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update issue: %v", err)), nil
	}

	data, err := json.Marshal(issueToOut(issue))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal issue: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// roadmap_sync_status
func (s *Server) syncStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("roadmap_sync_status",
		mcp.WithDescription("Show sync state: when the last sync ran, how many items the baseline tracks, and how many issues are linked to the remote backend."),
	)
	return tool, s.handleSyncStatus
}

func (s *Server) handleSyncStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	when, ok, err := s.store.LastSyncAt(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read sync state: %v", err)), nil
	}

	result := map[string]any{
		"synced": ok,
	}
	if ok {
		result["last_sync"] = when.Format(time.RFC3339)

		items, err := s.store.LoadBaseline(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to load baseline: %v", err)), nil
		}
		result["baseline_items"] = len(items)
	}

	links, err := s.store.RemoteLinks(ctx, "github")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read remote links: %v", err)), nil
	}
	result["linked_issues"] = len(links)

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sync status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// roadmap_sync
func (s *Server) syncTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("roadmap_sync",
		mcp.WithDescription("Run one sync cycle against the remote backend. With dry_run, the full analysis runs but nothing is written on either side."),
		mcp.WithBoolean("dry_run", mcp.Description("Analyze without applying changes (default false)")),
		mcp.WithString("strategy", mcp.Description("Conflict strategy: auto_merge, keep_local, keep_remote")),
		mcp.WithBoolean("push_only", mcp.Description("Only push local changes")),
		mcp.WithBoolean("pull_only", mcp.Description("Only pull remote changes")),
	)
	return tool, s.handleSync
}

func (s *Server) handleSync(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.runSync == nil {
		return mcp.NewToolResultError("sync is not available: no remote backend configured"), nil
	}

	opts := sync.Options{
		DryRun:   request.GetBool("dry_run", false),
		PushOnly: request.GetBool("push_only", false),
		PullOnly: request.GetBool("pull_only", false),
	}
	if name := request.GetString("strategy", ""); name != "" {
		strategy, err := sync.ParseStrategy(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		opts.Strategy = strategy
	}

	report := s.runSync(ctx, opts)

	result := map[string]any{
		"dry_run":             report.DryRun,
		"local_active":        report.LocalActive,
		"remote_active":       report.RemoteActive,
		"pushed":              report.IssuesPushed,
		"pulled":              report.IssuesPulled,
		"up_to_date":          report.IssuesUpToDate,
		"needs_push":          report.IssuesNeedsPush,
		"needs_pull":          report.IssuesNeedsPull,
		"conflicts_detected":  report.ConflictsDetected,
		"conflicts_resolved":  report.ConflictsResolved,
		"duplicates_detected": report.DuplicatesDetected,
		"duplicates_resolved": report.DuplicatesResolved,
		"duration_ms":         report.Duration().Milliseconds(),
	}
	if len(report.Errors) > 0 {
		result["item_errors"] = report.Errors
	}
	if report.Error != "" {
		result["error"] = report.Error
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sync report: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// resolveProject tries to find a project by name first, then by ID.
func (s *Server) resolveProject(ctx context.Context, name string) (*models.Project, error) {
	if p, err := s.store.GetProjectByName(ctx, name); err == nil {
		return p, nil
	}
	if p, err := s.store.GetProject(ctx, name); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", name)
}

// findIssue finds an issue by full ID or unique prefix.
func (s *Server) findIssue(ctx context.Context, id string) (*models.Issue, error) {
	// Try exact match first
	if issue, err := s.store.GetIssue(ctx, id); err == nil {
		return issue, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	issues, err := s.store.ListIssues(ctx, store.IssueListFilter{IncludeArchived: true})
	if err != nil {
		return nil, err
	}

	var matches []*models.Issue
	for _, issue := range issues {
		if strings.HasPrefix(issue.ID, upper) {
			matches = append(matches, issue)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("issue not found: %s", id)
	case 1:
		// Re-fetch to get labels and links loaded
		return s.store.GetIssue(ctx, matches[0].ID)
	default:
		return nil, fmt.Errorf("ambiguous issue ID %s: matches %d issues", id, len(matches))
	}
}
