package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/shanewilkins/roadmap-sub007/internal/mcp"
	"github.com/shanewilkins/roadmap-sub007/internal/sync"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This allows Claude Code to query roadmap natively for projects,
issues, and sync state. Configure in Claude Code with:

  {
    "mcpServers": {
      "roadmap": { "command": "roadmap", "args": ["mcp"] }
    }
  }

Available tools: roadmap_list_projects, roadmap_list_issues,
roadmap_show_issue, roadmap_create_issue, roadmap_update_issue,
roadmap_sync_status, roadmap_sync`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		runSync := func(ctx context.Context, opts sync.Options) *sync.SyncReport {
			orch, err := buildOrchestrator(s)
			if err != nil {
				report := sync.NewSyncReport()
				report.Error = err.Error()
				report.Finish()
				return report
			}
			return orch.Run(ctx, opts)
		}

		srv := mcp.NewServer(s, runSync)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
