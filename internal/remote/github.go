package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/store"
)

// GitHubClient implements Client against a GitHub repository using the
// gh CLI. Authentication is whatever `gh auth` is configured with.
type GitHubClient struct {
	owner string
	repo  string
	store store.Store
}

// NewGitHubClient creates a client for owner/repo. The store is used to
// materialize pulled issues through the local write path.
func NewGitHubClient(owner, repo string, s store.Store) *GitHubClient {
	return &GitHubClient{owner: owner, repo: repo, store: s}
}

// Backend implements Client.
func (c *GitHubClient) Backend() string { return "github" }

func (c *GitHubClient) repoSlug() string {
	return fmt.Sprintf("%s/%s", c.owner, c.repo)
}

func ghCmd(args ...string) (string, error) {
	out, err := exec.Command("gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Authenticate implements Client by checking gh auth status.
func (c *GitHubClient) Authenticate(ctx context.Context) (bool, error) {
	if _, err := ghCmd("auth", "status"); err != nil {
		return false, fmt.Errorf("github authentication: %w", err)
	}
	return true, nil
}

type ghIssueRaw struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	UpdatedAt string `json:"updatedAt"`
}

const priorityLabelPrefix = "priority:"

func (r ghIssueRaw) toIssue() Issue {
	issue := Issue{
		ID:        strconv.Itoa(r.Number),
		Title:     r.Title,
		Body:      r.Body,
		State:     strings.ToLower(r.State),
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Assignees) > 0 {
		issue.Assignee = r.Assignees[0].Login
	}
	for _, l := range r.Labels {
		if strings.HasPrefix(l.Name, priorityLabelPrefix) {
			issue.Priority = strings.TrimPrefix(l.Name, priorityLabelPrefix)
			continue
		}
		issue.Labels = append(issue.Labels, l.Name)
	}
	return issue
}

// GetIssues implements Client. Returns all issues keyed by issue number.
func (c *GitHubClient) GetIssues(ctx context.Context) (map[string]Issue, error) {
	out, err := ghCmd("issue", "list",
		"--repo", c.repoSlug(),
		"--state", "all",
		"--limit", "1000",
		"--json", "number,title,body,state,assignees,labels,updatedAt",
	)
	if err != nil {
		return nil, err
	}

	var raw []ghIssueRaw
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parse issues: %w", err)
	}

	issues := make(map[string]Issue, len(raw))
	for _, r := range raw {
		issue := r.toIssue()
		issues[issue.ID] = issue
	}
	return issues, nil
}

type ghMilestoneRaw struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	DueOn       string `json:"due_on"`
}

// GetMilestones implements Client.
func (c *GitHubClient) GetMilestones(ctx context.Context) ([]models.Milestone, error) {
	out, err := ghCmd("api",
		fmt.Sprintf("repos/%s/milestones?state=all", c.repoSlug()))
	if err != nil {
		return nil, err
	}

	var raw []ghMilestoneRaw
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parse milestones: %w", err)
	}

	milestones := make([]models.Milestone, 0, len(raw))
	for _, r := range raw {
		m := models.Milestone{
			Title:       r.Title,
			Description: r.Description,
			State:       models.MilestoneState(strings.ToLower(r.State)),
			RemoteID:    strconv.Itoa(r.Number),
		}
		if r.DueOn != "" {
			if due, err := time.Parse(time.RFC3339, r.DueOn); err == nil {
				m.DueDate = &due
			}
		}
		milestones = append(milestones, m)
	}
	return milestones, nil
}

// PushIssue implements Client. Creates the remote issue when the local
// item carries no github id, edits it otherwise.
func (c *GitHubClient) PushIssue(ctx context.Context, issue *models.Issue) (bool, error) {
	remoteID := issue.RemoteID(c.Backend())
	if remoteID == "" {
		return c.createRemote(ctx, issue)
	}
	return c.updateRemote(ctx, remoteID, issue)
}

func (c *GitHubClient) createRemote(ctx context.Context, issue *models.Issue) (bool, error) {
	args := []string{"issue", "create",
		"--repo", c.repoSlug(),
		"--title", issue.Title,
		"--body", issue.Content,
	}
	for _, label := range issue.Labels {
		args = append(args, "--label", label)
	}
	if issue.Priority != "" {
		args = append(args, "--label", priorityLabelPrefix+string(issue.Priority))
	}
	if issue.Assignee != "" {
		args = append(args, "--assignee", issue.Assignee)
	}

	out, err := ghCmd(args...)
	if err != nil {
		return false, err
	}

	// gh prints the new issue URL; the trailing segment is the number
	if idx := strings.LastIndex(out, "/"); idx >= 0 {
		issue.SetRemoteID(c.Backend(), out[idx+1:])
	}
	return true, nil
}

func (c *GitHubClient) updateRemote(ctx context.Context, remoteID string, issue *models.Issue) (bool, error) {
	_, err := ghCmd("issue", "edit", remoteID,
		"--repo", c.repoSlug(),
		"--title", issue.Title,
		"--body", issue.Content,
	)
	if err != nil {
		return false, err
	}

	closed := issue.Status == models.IssueStatusClosed || issue.Status == models.IssueStatusDone
	if closed {
		if _, err := ghCmd("issue", "close", remoteID, "--repo", c.repoSlug()); err != nil {
			return false, err
		}
		return true, nil
	}

	// Reopening an already-open issue fails; that case is not an error.
	if _, err := ghCmd("issue", "reopen", remoteID, "--repo", c.repoSlug()); err != nil && !strings.Contains(err.Error(), "not closed") {
		return false, err
	}
	return true, nil
}

// PushIssues implements Client. GitHub has no batch mutation endpoint, so
// the batch is a per-item loop with per-id error attribution.
func (c *GitHubClient) PushIssues(ctx context.Context, issues []*models.Issue) (PushResult, error) {
	result := PushResult{Errors: make(map[string]string)}
	for _, issue := range issues {
		if _, err := c.PushIssue(ctx, issue); err != nil {
			result.Errors[issue.ID] = err.Error()
			continue
		}
		result.Pushed = append(result.Pushed, issue.ID)
	}
	return result, nil
}

// PullIssue implements Client. Fetches the remote issue and writes it
// through the local store, linking it if it wasn't linked before.
func (c *GitHubClient) PullIssue(ctx context.Context, remoteID string) (bool, error) {
	out, err := ghCmd("issue", "view", remoteID,
		"--repo", c.repoSlug(),
		"--json", "number,title,body,state,assignees,labels,updatedAt",
	)
	if err != nil {
		return false, err
	}

	var raw ghIssueRaw
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return false, fmt.Errorf("parse issue %s: %w", remoteID, err)
	}
	ri := raw.toIssue()

	localID, err := c.store.ResolveRemote(ctx, c.Backend(), remoteID)
	if err != nil {
		return false, err
	}

	var issue *models.Issue
	if localID != "" {
		// A link can outlive its issue when the local record was
		// deleted; materialize a fresh one in that case.
		issue, err = c.store.GetIssue(ctx, localID)
		if err != nil {
			issue = nil
		}
	}

	if issue == nil {
		issue := &models.Issue{
			Title:    ri.Title,
			Content:  ri.Body,
			Status:   models.ParseStatus(ri.State),
			Priority: models.ParsePriority(ri.Priority),
			Assignee: ri.Assignee,
			Labels:   ri.Labels,
		}
		issue.SetRemoteID(c.Backend(), remoteID)
		if err := c.store.CreateIssue(ctx, issue); err != nil {
			return false, err
		}
		if err := c.store.LinkRemote(ctx, c.Backend(), remoteID, issue.ID); err != nil {
			return false, err
		}
		return true, nil
	}

	issue.Title = ri.Title
	issue.Content = ri.Body
	issue.Status = models.ParseStatus(ri.State)
	if ri.Priority != "" {
		issue.Priority = models.ParsePriority(ri.Priority)
	}
	issue.Assignee = ri.Assignee
	issue.Labels = ri.Labels
	if err := c.store.UpdateIssue(ctx, issue); err != nil {
		return false, err
	}
	return true, nil
}

// PullIssues implements Client.
func (c *GitHubClient) PullIssues(ctx context.Context, remoteIDs []string) (PullResult, error) {
	result := PullResult{Errors: make(map[string]string)}
	for _, id := range remoteIDs {
		if _, err := c.PullIssue(ctx, id); err != nil {
			result.Errors[id] = err.Error()
			continue
		}
		result.Pulled = append(result.Pulled, id)
	}
	return result, nil
}

// ResolveConflict implements Client. Leaves an audit comment on the
// remote issue recording which side won.
func (c *GitHubClient) ResolveConflict(ctx context.Context, remoteID, resolution string) (bool, error) {
	_, err := ghCmd("issue", "comment", remoteID,
		"--repo", c.repoSlug(),
		"--body", fmt.Sprintf("Sync conflict resolved: %s", resolution),
	)
	if err != nil {
		return false, err
	}
	return true, nil
}
