package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var milestoneCmd = &cobra.Command{
	Use:   "milestone",
	Short: "Work with remote milestones",
}

var milestoneListCmd = &cobra.Command{
	Use:   "list",
	Short: "List milestones on the remote backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return milestoneListRun(cmd.Context())
	},
}

func init() {
	milestoneCmd.AddCommand(milestoneListCmd)
	rootCmd.AddCommand(milestoneCmd)
}

func milestoneListRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	client, err := buildClient(s)
	if err != nil {
		return err
	}

	milestones, err := client.GetMilestones(ctx)
	if err != nil {
		return err
	}
	if len(milestones) == 0 {
		ui.Info("No milestones on %s/%s", viper.GetString("github.owner"), viper.GetString("github.repo"))
		return nil
	}

	table := ui.Table([]string{"Title", "State", "Due"})
	for _, m := range milestones {
		due := "-"
		if m.DueDate != nil {
			due = m.DueDate.Format("2006-01-02")
		}
		_ = table.Append([]string{m.Title, string(m.State), due})
	}
	return table.Render()
}
