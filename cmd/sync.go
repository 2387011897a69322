package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shanewilkins/roadmap-sub007/internal/output"
	"github.com/shanewilkins/roadmap-sub007/internal/remote"
	"github.com/shanewilkins/roadmap-sub007/internal/store"
	"github.com/shanewilkins/roadmap-sub007/internal/sync"
)

var (
	syncForceLocal      bool
	syncForceRemote     bool
	syncPushOnly        bool
	syncPullOnly        bool
	syncInteractiveDups bool
	syncContinueOnError bool
	syncStrategy        string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize issues with the remote backend",
	Long: `Run one sync cycle against the configured remote backend.

The cycle fetches both sides, resolves duplicates, classifies every
item against the last synced baseline, resolves conflicts per the
chosen strategy, applies the resulting plan, and commits a new
baseline. With --dry-run the full analysis runs but nothing is
written on either side.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncRun(cmd.Context())
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return syncStatusRun(cmd.Context())
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncForceLocal, "force-local", false, "Resolve all conflicts in favor of local")
	syncCmd.Flags().BoolVar(&syncForceRemote, "force-remote", false, "Resolve all conflicts in favor of remote")
	syncCmd.Flags().BoolVar(&syncPushOnly, "push-only", false, "Only push local changes")
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull-only", false, "Only pull remote changes")
	syncCmd.Flags().BoolVar(&syncInteractiveDups, "interactive-duplicates", false, "Prompt on low-confidence duplicate matches")
	syncCmd.Flags().BoolVar(&syncContinueOnError, "continue-on-error", false, "Record per-item failures and keep going")
	syncCmd.Flags().StringVar(&syncStrategy, "strategy", "", "Conflict strategy: auto_merge, keep_local, keep_remote (default from config)")

	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}

func buildClient(s store.Store) (remote.Client, error) {
	owner := viper.GetString("github.owner")
	repo := viper.GetString("github.repo")
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("remote repository not configured: set github.owner and github.repo (roadmap config edit)")
	}
	return remote.NewGitHubClient(owner, repo, s), nil
}

func buildOrchestrator(s store.Store) (*sync.Orchestrator, error) {
	client, err := buildClient(s)
	if err != nil {
		return nil, err
	}

	cfg := sync.DetectorConfig{
		TitleThreshold:       viper.GetFloat64("sync.title_threshold"),
		ContentThreshold:     viper.GetFloat64("sync.content_threshold"),
		AutoResolveThreshold: viper.GetFloat64("sync.auto_resolve_threshold"),
	}

	policy := sync.RetryPolicy{
		MaxAttempts:  viper.GetUint64("sync.retry.max_attempts"),
		InitialDelay: viper.GetDuration("sync.retry.initial_delay"),
		Multiplier:   viper.GetFloat64("sync.retry.multiplier"),
	}

	return sync.NewOrchestrator(s, client).
		WithDetectorConfig(cfg, promptDuplicate).
		WithRetryPolicy(policy), nil
}

func syncRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if syncForceLocal && syncForceRemote {
		return fmt.Errorf("--force-local and --force-remote are mutually exclusive")
	}
	if syncPushOnly && syncPullOnly {
		return fmt.Errorf("--push-only and --pull-only are mutually exclusive")
	}

	strategyName := syncStrategy
	if strategyName == "" {
		strategyName = viper.GetString("sync.strategy")
	}
	strategy, err := sync.ParseStrategy(strategyName)
	if err != nil {
		return err
	}

	orch, err := buildOrchestrator(s)
	if err != nil {
		return err
	}

	opts := sync.Options{
		DryRun:                dryRun,
		ForceLocal:            syncForceLocal,
		ForceRemote:           syncForceRemote,
		PushOnly:              syncPushOnly,
		PullOnly:              syncPullOnly,
		InteractiveDuplicates: syncInteractiveDups,
		ContinueOnError:       syncContinueOnError,
		Strategy:              strategy,
	}

	if dryRun {
		ui.DryRunMsg("Analyzing without applying changes")
	}

	report := orch.Run(ctx, opts)
	printReport(report)

	if report.Error != "" {
		return fmt.Errorf("sync failed: %s", report.Error)
	}
	return nil
}

func printReport(r *sync.SyncReport) {
	table := ui.Table([]string{"", "Count"})
	_ = table.Append([]string{"Local issues", fmt.Sprintf("%d (+%d archived)", r.LocalActive, r.LocalArchived)})
	_ = table.Append([]string{"Remote issues", fmt.Sprintf("%d (+%d archived)", r.RemoteActive, r.RemoteArchived)})
	_ = table.Append([]string{"Pushed", fmt.Sprintf("%d", r.IssuesPushed)})
	_ = table.Append([]string{"Pulled", fmt.Sprintf("%d", r.IssuesPulled)})
	_ = table.Append([]string{"Up to date", fmt.Sprintf("%d", r.IssuesUpToDate)})
	_ = table.Append([]string{"Conflicts", fmt.Sprintf("%d resolved of %d", r.ConflictsResolved, r.ConflictsDetected)})
	_ = table.Append([]string{"Duplicates", fmt.Sprintf("%d resolved of %d", r.DuplicatesResolved, r.DuplicatesDetected)})
	_ = table.Render()

	for id, msg := range r.Errors {
		ui.Warning("%s: %s", shortID(id), msg)
	}

	switch {
	case r.Error != "":
		ui.Error("Sync failed after %s: %s", r.Duration().Round(time.Millisecond), r.Error)
	case r.DryRun:
		ui.Info("Dry run finished in %s: %d to push, %d to pull", r.Duration().Round(time.Millisecond), r.IssuesNeedsPush, r.IssuesNeedsPull)
	default:
		ui.Success("Sync finished in %s", r.Duration().Round(time.Millisecond))
	}
}

// promptDuplicate asks the user what to do with a duplicate match.
// Used only when --interactive-duplicates routes matches here.
func promptDuplicate(m sync.DuplicateMatch) sync.DuplicateResolution {
	fmt.Fprintf(ui.Out, "\nPossible %s duplicate (%.0f%% confidence): %s\n", m.Side, m.Confidence*100, m.Reason)
	fmt.Fprintf(ui.Out, "  keep:      %s\n", output.Cyan(shortID(m.KeepID)))
	fmt.Fprintf(ui.Out, "  duplicate: %s\n", output.Cyan(shortID(m.DupID)))
	fmt.Fprint(ui.Out, "[s]kip, [a]rchive duplicate, [d]elete duplicate? ")

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return sync.ResolutionSkip
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "d", "delete":
		return sync.ResolutionDelete
	case "a", "archive":
		return sync.ResolutionArchive
	default:
		return sync.ResolutionSkip
	}
}

func syncStatusRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	when, ok, err := s.LastSyncAt(ctx)
	if err != nil {
		return err
	}
	if !ok {
		ui.Info("Never synced. Run 'roadmap sync' to perform the first sync.")
		return nil
	}

	fmt.Fprintf(ui.Out, "  Last sync:  %s (%s)\n", when.Format(time.RFC3339), timeAgo(when))

	items, err := s.LoadBaseline(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "  Baseline:   %d items\n", len(items))

	links, err := s.RemoteLinks(ctx, "github")
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Out, "  Linked:     %d issues\n", len(links))

	return nil
}
