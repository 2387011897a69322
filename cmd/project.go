package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/output"
	"github.com/shanewilkins/roadmap-sub007/internal/store"
)

var (
	projectPath    string
	projectDesc    string
	projectBackend string
	projectOwner   string
	projectRepo    string
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage tracked projects",
	Long:  "Add, remove, list, and show tracked projects.",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a project to tracking",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a project from tracking",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectRemoveRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show detailed project information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectShowRun(args[0])
	},
}

func init() {
	projectAddCmd.Flags().StringVar(&projectPath, "path", "", "Project directory")
	projectAddCmd.Flags().StringVar(&projectDesc, "desc", "", "Project description")
	projectAddCmd.Flags().StringVar(&projectBackend, "backend", "github", "Remote backend")
	projectAddCmd.Flags().StringVar(&projectOwner, "owner", "", "Remote repository owner")
	projectAddCmd.Flags().StringVar(&projectRepo, "repo", "", "Remote repository name")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectRemoveCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectShowCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	path := projectPath
	if path != "" {
		if path, err = filepath.Abs(path); err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
	}

	p := &models.Project{
		Name:        name,
		Path:        path,
		Description: projectDesc,
		Backend:     projectBackend,
		RemoteOwner: projectOwner,
		RemoteRepo:  projectRepo,
	}

	if dryRun {
		ui.DryRunMsg("Would add project: %s", name)
		return nil
	}

	if err := s.CreateProject(context.Background(), p); err != nil {
		return fmt.Errorf("add project: %w", err)
	}

	ui.Success("Added project: %s", output.Cyan(name))
	if projectOwner != "" && projectRepo != "" {
		ui.VerboseLog("Remote: %s/%s (%s)", projectOwner, projectRepo, projectBackend)
	}
	return nil
}

func projectRemoveRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove project: %s", p.Name)
		return nil
	}

	if err := s.DeleteProject(ctx, p.ID); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}

	ui.Success("Removed project: %s", output.Cyan(p.Name))
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := s.ListProjects(ctx)
	if err != nil {
		return err
	}

	if len(projects) == 0 {
		ui.Info("No projects tracked. Use 'roadmap project add <name>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "Backend", "Remote", "Open Issues"})
	for _, p := range projects {
		issues, _ := s.ListIssues(ctx, store.IssueListFilter{ProjectID: p.ID, Status: models.IssueStatusTodo})
		openCount := fmt.Sprintf("%d", len(issues))

		remoteStr := ""
		if p.RemoteOwner != "" && p.RemoteRepo != "" {
			remoteStr = p.RemoteOwner + "/" + p.RemoteRepo
		}

		_ = table.Append([]string{
			output.Cyan(p.Name),
			p.Backend,
			remoteStr,
			openCount,
		})
	}
	_ = table.Render()
	return nil
}

func projectShowRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := resolveProject(ctx, s, name)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(p.Name))
	if p.Path != "" {
		fmt.Fprintf(ui.Out, "  Path:       %s\n", p.Path)
	}
	if p.Description != "" {
		fmt.Fprintf(ui.Out, "  Desc:       %s\n", p.Description)
	}
	if p.RemoteOwner != "" && p.RemoteRepo != "" {
		fmt.Fprintf(ui.Out, "  Remote:     %s/%s (%s)\n", p.RemoteOwner, p.RemoteRepo, p.Backend)
	}

	// Issue counts
	issues, err := s.ListIssues(ctx, store.IssueListFilter{ProjectID: p.ID})
	if err == nil && len(issues) > 0 {
		todo, inProg, done := 0, 0, 0
		for _, i := range issues {
			switch i.Status {
			case models.IssueStatusTodo:
				todo++
			case models.IssueStatusInProgress:
				inProg++
			case models.IssueStatusDone:
				done++
			}
		}
		fmt.Fprintf(ui.Out, "  Issues:     %d todo, %d in-progress, %d done\n", todo, inProg, done)
	}

	// Last sync
	if when, ok, err := s.LastSyncAt(ctx); err == nil && ok {
		fmt.Fprintf(ui.Out, "  Last sync:  %s (%s)\n", when.Format(time.RFC3339), timeAgo(when))
	}

	return nil
}

// resolveProject finds a project by name first, then by ID.
func resolveProject(ctx context.Context, s store.Store, ref string) (*models.Project, error) {
	if p, err := s.GetProjectByName(ctx, ref); err == nil {
		return p, nil
	}
	if p, err := s.GetProject(ctx, ref); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", ref)
}

// timeAgo formats a timestamp as a human-friendly relative duration.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
