package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/output"
	"github.com/shanewilkins/roadmap-sub007/internal/store"
)

var (
	issueTitle    string
	issueHeadline string
	issueBody     string
	issuePriority string
	issueStatus   string
	issueAssignee string
	issueLabels   []string
	issueAll      bool
	issueGitHub   int
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Manage project issues",
	Long:  "Track issues for your projects and link them to remote trackers.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun("")
	},
}

var issueAddCmd = &cobra.Command{
	Use:   "add <project>",
	Short: "Add a new issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueAddRun(args[0])
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list [project]",
	Aliases: []string{"ls"},
	Short:   "List issues",
	Long:    "List issues. Without <project>, shows issues across all projects.",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var projectRef string
		if len(args) > 0 {
			projectRef = args[0]
		}
		return issueListRun(projectRef)
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <issue-id>",
	Short: "Update an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueUpdateRun(args[0])
	},
}

var issueCloseCmd = &cobra.Command{
	Use:   "close <issue-id>",
	Short: "Close an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCloseRun(args[0])
	},
}

var issueArchiveCmd = &cobra.Command{
	Use:   "archive <issue-id>",
	Short: "Archive an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueArchiveRun(args[0])
	},
}

var issueLinkCmd = &cobra.Command{
	Use:   "link <issue-id>",
	Short: "Link to a remote issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueLinkRun(args[0])
	},
}

func init() {
	issueAddCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	issueAddCmd.Flags().StringVar(&issueHeadline, "headline", "", "One-line summary")
	issueAddCmd.Flags().StringVar(&issueBody, "body", "", "Free-text body")
	issueAddCmd.Flags().StringVar(&issuePriority, "priority", "medium", "Priority: low, medium, high, critical")
	issueAddCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Assignee")
	issueAddCmd.Flags().StringSliceVar(&issueLabels, "label", nil, "Label to apply (repeatable)")
	_ = issueAddCmd.MarkFlagRequired("title")

	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status: todo, in_progress, done, closed")
	issueListCmd.Flags().StringVar(&issuePriority, "priority", "", "Filter by priority")
	issueListCmd.Flags().StringSliceVar(&issueLabels, "label", nil, "Filter by label")
	issueListCmd.Flags().BoolVar(&issueAll, "all", false, "Include archived issues")

	issueUpdateCmd.Flags().StringVar(&issueStatus, "status", "", "New status")
	issueUpdateCmd.Flags().StringVar(&issuePriority, "priority", "", "New priority")
	issueUpdateCmd.Flags().StringVar(&issueTitle, "title", "", "New title")
	issueUpdateCmd.Flags().StringVar(&issueHeadline, "headline", "", "New headline")
	issueUpdateCmd.Flags().StringVar(&issueBody, "body", "", "New body text")
	issueUpdateCmd.Flags().StringVar(&issueAssignee, "assignee", "", "New assignee")

	issueLinkCmd.Flags().IntVar(&issueGitHub, "github", 0, "GitHub issue number")
	_ = issueLinkCmd.MarkFlagRequired("github")

	issueCmd.AddCommand(issueAddCmd)
	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueCloseCmd)
	issueCmd.AddCommand(issueArchiveCmd)
	issueCmd.AddCommand(issueLinkCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueAddRun(projectRef string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, projectRef)
	if err != nil {
		return err
	}

	issue := &models.Issue{
		ProjectID: p.ID,
		Title:     issueTitle,
		Headline:  issueHeadline,
		Content:   issueBody,
		Status:    models.IssueStatusTodo,
		Priority:  models.ParsePriority(issuePriority),
		Assignee:  issueAssignee,
		Labels:    issueLabels,
	}

	if dryRun {
		ui.DryRunMsg("Would add issue: %s [%s] to %s", issueTitle, issuePriority, p.Name)
		return nil
	}

	if err := s.CreateIssue(ctx, issue); err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	ui.Success("Created issue %s: %s", output.Cyan(shortID(issue.ID)), issueTitle)
	return nil
}

func issueListRun(projectRef string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.IssueListFilter{
		Status:          models.IssueStatus(issueStatus),
		Priority:        models.IssuePriority(issuePriority),
		IncludeArchived: issueAll,
	}
	if len(issueLabels) > 0 {
		filter.Label = issueLabels[0]
	}

	if projectRef != "" {
		p, err := resolveProject(ctx, s, projectRef)
		if err != nil {
			return err
		}
		filter.ProjectID = p.ID
	}

	issues, err := s.ListIssues(ctx, filter)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	// Build a project name cache for display
	projectNames := make(map[string]string)

	table := ui.Table([]string{"ID", "Project", "Title", "Status", "Priority", "Remote"})
	for _, issue := range issues {
		projName := projectNames[issue.ProjectID]
		if projName == "" {
			if p, err := s.GetProject(ctx, issue.ProjectID); err == nil {
				projName = p.Name
				projectNames[issue.ProjectID] = projName
			}
		}

		remoteStr := ""
		if rid := issue.RemoteID("github"); rid != "" {
			remoteStr = "#" + rid
		}

		_ = table.Append([]string{
			shortID(issue.ID),
			projName,
			issue.Title,
			output.StatusColor(string(issue.Status)),
			output.PriorityColor(string(issue.Priority)),
			remoteStr,
		})
	}
	_ = table.Render()
	return nil
}

func issueShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	projName := ""
	if p, err := s.GetProject(ctx, issue.ProjectID); err == nil {
		projName = p.Name
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(shortID(issue.ID)), issue.Title)
	fmt.Fprintf(ui.Out, "  Project:    %s\n", projName)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(issue.Status)))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(string(issue.Priority)))
	if issue.Assignee != "" {
		fmt.Fprintf(ui.Out, "  Assignee:   %s\n", issue.Assignee)
	}
	if issue.Headline != "" {
		fmt.Fprintf(ui.Out, "  Headline:   %s\n", issue.Headline)
	}
	if issue.Content != "" {
		fmt.Fprintf(ui.Out, "  Body:       %s\n", issue.Content)
	}
	if len(issue.Labels) > 0 {
		fmt.Fprintf(ui.Out, "  Labels:     %s\n", strings.Join(issue.Labels, ", "))
	}
	for backend, rid := range issue.RemoteIDs {
		fmt.Fprintf(ui.Out, "  Remote:     %s #%s\n", backend, rid)
	}
	if issue.Archived {
		fmt.Fprintf(ui.Out, "  Archived:   yes\n")
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", issue.CreatedAt.Format(time.RFC3339))
	if issue.ClosedAt != nil {
		fmt.Fprintf(ui.Out, "  Closed:     %s\n", issue.ClosedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(ui.Out, "  Full ID:    %s\n", issue.ID)

	return nil
}

func issueUpdateRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	changed := false
	if issueStatus != "" {
		issue.Status = models.ParseStatus(issueStatus)
		changed = true
	}
	if issuePriority != "" {
		issue.Priority = models.ParsePriority(issuePriority)
		changed = true
	}
	if issueTitle != "" {
		issue.Title = issueTitle
		changed = true
	}
	if issueHeadline != "" {
		issue.Headline = issueHeadline
		changed = true
	}
	if issueBody != "" {
		issue.Content = issueBody
		changed = true
	}
	if issueAssignee != "" {
		issue.Assignee = issueAssignee
		changed = true
	}

	if !changed {
		return fmt.Errorf("no updates specified (use --status, --priority, --title, --headline, --body, or --assignee)")
	}

	if dryRun {
		ui.DryRunMsg("Would update issue %s", shortID(issue.ID))
		return nil
	}

	if err := s.UpdateIssue(ctx, issue); err != nil {
		return fmt.Errorf("update issue: %w", err)
	}

	ui.Success("Updated issue %s", output.Cyan(shortID(issue.ID)))
	return nil
}

func issueCloseRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	issue.Status = models.IssueStatusClosed
	issue.ClosedAt = &now

	if dryRun {
		ui.DryRunMsg("Would close issue %s: %s", shortID(issue.ID), issue.Title)
		return nil
	}

	if err := s.UpdateIssue(ctx, issue); err != nil {
		return fmt.Errorf("close issue: %w", err)
	}

	ui.Success("Closed issue %s: %s", output.Cyan(shortID(issue.ID)), issue.Title)
	return nil
}

func issueArchiveRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	issue.Status = models.IssueStatusArchived
	issue.Archived = true

	if dryRun {
		ui.DryRunMsg("Would archive issue %s: %s", shortID(issue.ID), issue.Title)
		return nil
	}

	if err := s.UpdateIssue(ctx, issue); err != nil {
		return fmt.Errorf("archive issue: %w", err)
	}

	ui.Success("Archived issue %s: %s", output.Cyan(shortID(issue.ID)), issue.Title)
	return nil
}

func issueLinkRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	remoteID := strconv.Itoa(issueGitHub)

	if dryRun {
		ui.DryRunMsg("Would link issue %s to GitHub #%s", shortID(issue.ID), remoteID)
		return nil
	}

	if err := s.LinkRemote(ctx, "github", remoteID, issue.ID); err != nil {
		return fmt.Errorf("link issue: %w", err)
	}

	issue.SetRemoteID("github", remoteID)
	if err := s.UpdateIssue(ctx, issue); err != nil {
		return fmt.Errorf("link issue: %w", err)
	}

	ui.Success("Linked issue %s to GitHub #%s", output.Cyan(shortID(issue.ID)), remoteID)
	return nil
}

// findIssue finds an issue by full ID or prefix match.
func findIssue(ctx context.Context, s store.Store, id string) (*models.Issue, error) {
	// Try exact match first
	if issue, err := s.GetIssue(ctx, id); err == nil {
		return issue, nil
	}

	// Try prefix match - list all and filter
	upper := strings.ToUpper(id)
	issues, err := s.ListIssues(ctx, store.IssueListFilter{IncludeArchived: true})
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
		return s.GetIssue(ctx, matches[0].ID)
	default:
		return nil, fmt.Errorf("ambiguous issue ID %s: matches %d issues", id, len(matches))
	}
}

// shortID returns a truncated ULID for display (first 12 chars).
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
