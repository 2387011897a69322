package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/remote"
	"github.com/shanewilkins/roadmap-sub007/internal/store"
)

// Options control one sync cycle.
type Options struct {
	DryRun      bool
	ForceLocal  bool
	ForceRemote bool
	PushOnly    bool
	PullOnly    bool
	// InteractiveDuplicates routes low-confidence duplicate matches to
	// the manual decision function instead of leaving them unresolved.
	InteractiveDuplicates bool
	// ContinueOnError records per-item action failures and keeps going
	// instead of aborting the plan.
	ContinueOnError bool
	// Strategy for conflict resolution; defaults to auto-merge.
	Strategy Strategy
}

// Orchestrator coordinates one full sync cycle: authenticate, fetch,
// deduplicate, analyze, resolve, apply, commit baseline. Cycles are
// single-threaded; callers must not run two cycles against the same
// store concurrently.
type Orchestrator struct {
	store    store.Store
	client   remote.Client
	compare  *Comparator
	resolver *Resolver
	detector *Detector
	dups     *DuplicateResolver
	baseline *BaselineManager
	executor *Executor
	retry    RetryPolicy
}

// NewOrchestrator wires an orchestrator with default components.
func NewOrchestrator(s store.Store, client remote.Client) *Orchestrator {
	baseline := NewBaselineManager(s)
	cfg := DefaultDetectorConfig()
	return &Orchestrator{
		store:    s,
		client:   client,
		compare:  NewComparator(client.Backend()),
		resolver: NewResolver(),
		detector: NewDetector(cfg),
		dups:     NewDuplicateResolver(cfg, s, nil),
		baseline: baseline,
		executor: NewExecutor(client, s, baseline, nil),
		retry:    DefaultRetryPolicy(),
	}
}

// WithDetectorConfig overrides the duplicate thresholds.
func (o *Orchestrator) WithDetectorConfig(cfg DetectorConfig, decide DecisionFunc) *Orchestrator {
	o.detector = NewDetector(cfg)
	o.dups = NewDuplicateResolver(cfg, o.store, decide)
	return o
}

// WithRetryPolicy overrides the remote retry policy.
func (o *Orchestrator) WithRetryPolicy(p RetryPolicy) *Orchestrator {
	o.retry = p
	o.executor.WithRetryPolicy(p)
	return o
}

// WithService wires the rich item service used by the executor.
func (o *Orchestrator) WithService(svc IssueService) *Orchestrator {
	o.executor.service = svc
	return o
}

// Baseline exposes the baseline manager, mainly for status surfaces.
func (o *Orchestrator) Baseline() *BaselineManager {
	return o.baseline
}

// Run executes one sync cycle and always returns a report. Cycle-level
// failures land in report.Error; per-item failures in report.Errors.
func (o *Orchestrator) Run(ctx context.Context, opts Options) *SyncReport {
	report := NewSyncReport()
	report.DryRun = opts.DryRun
	defer report.Finish()

	if opts.Strategy == "" {
		opts.Strategy = StrategyAutoMerge
	}
	o.executor.StopOnError = !opts.ContinueOnError

	// Phase: authenticate. Failure short-circuits the whole cycle.
	if err := o.retry.Do(ctx, func() error {
		_, err := o.client.Authenticate(ctx)
		return err
	}); err != nil {
		report.Error = fmt.Sprintf("authenticate: %v", err)
		return report
	}

	// Phase: fetch local.
	localIssues, err := o.store.ListIssues(ctx, store.IssueListFilter{IncludeArchived: true})
	if err != nil {
		report.Error = fmt.Sprintf("fetch local issues: %v", err)
		return report
	}
	local := make(map[string]*models.Issue, len(localIssues))
	for _, issue := range localIssues {
		local[issue.ID] = issue
		if issue.Archived || issue.Status == models.IssueStatusArchived {
			report.LocalArchived++
		} else {
			report.LocalActive++
		}
	}

	// Phase: fetch remote.
	var remoteItems map[string]remote.Issue
	if err := o.retry.Do(ctx, func() error {
		var fetchErr error
		remoteItems, fetchErr = o.client.GetIssues(ctx)
		return fetchErr
	}); err != nil {
		report.Error = fmt.Sprintf("fetch remote issues: %v", err)
		return report
	}
	for _, ri := range remoteItems {
		if models.ParseStatus(ri.State) == models.IssueStatusArchived {
			report.RemoteArchived++
		} else {
			report.RemoteActive++
		}
	}

	// Phase: deduplicate. Local matches are decided now and pruned from
	// the snapshot; the store mutations run after the plan executes.
	// Remote matches are reported only.
	localMatches, remoteMatches := o.detector.DetectAll(local, remoteItems)
	decided, unresolved := o.dups.Decide(append(localMatches, remoteMatches...), opts.InteractiveDuplicates)
	o.dups.Prune(decided, local)

	// Phase: load baseline. Read once per cycle.
	baselineMap, lastSync, hasBaseline, err := o.baseline.Load(ctx)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	if !hasBaseline {
		baselineMap = nil
	}

	links, err := o.store.RemoteLinks(ctx, o.client.Backend())
	if err != nil {
		report.Error = fmt.Sprintf("load remote links: %v", err)
		return report
	}

	// Phase: analyze.
	state, remoteIDs := o.compare.BuildState(local, remoteItems, links, baselineMap)
	state.LastSync = lastSync
	changes := o.compare.AnalyzeState(state, remoteIDs)
	report.Changes = changes
	for _, change := range changes {
		switch change.Type {
		case ChangeBoth:
			report.ConflictsDetected++
		case ChangeLocalOnly:
			if change.Local != nil {
				report.IssuesNeedsPush++
			}
		case ChangeRemoteOnly:
			if change.Remote != nil {
				report.IssuesNeedsPull++
			}
		case ChangeNone:
			report.IssuesUpToDate++
		}
	}

	// Phase: resolve conflicts.
	resolved := make(map[string]*ResolvedItem)
	if !opts.ForceLocal && !opts.ForceRemote {
		var conflicts []IssueChange
		for _, change := range changes {
			if change.Conflict {
				conflicts = append(conflicts, change)
			}
		}
		items, failures, resolveErr := o.resolver.ResolveBatch(conflicts, opts.Strategy)
		for id, msg := range failures {
			report.AddError(id, msg)
		}
		if resolveErr != nil {
			report.Error = fmt.Sprintf("resolve conflicts: %v", resolveErr)
		}
		for _, item := range items {
			resolved[item.ID] = item
		}
	}

	// Phase: build and apply plan.
	plan := BuildPlan(changes, resolved, PlannerOptions{
		PushOnly:    opts.PushOnly,
		PullOnly:    opts.PullOnly,
		ForceLocal:  opts.ForceLocal,
		ForceRemote: opts.ForceRemote,
	})
	if err := o.executor.executeInto(ctx, plan, opts.DryRun, report); err != nil {
		report.Error = fmt.Sprintf("apply plan: %v", err)
	}

	// Successful propagation moves items from pending to up-to-date.
	report.IssuesUpToDate += report.IssuesPushed + report.IssuesPulled
	if report.IssuesNeedsPush >= report.IssuesPushed {
		report.IssuesNeedsPush -= report.IssuesPushed
	} else {
		report.IssuesNeedsPush = 0
	}
	if report.IssuesNeedsPull >= report.IssuesPulled {
		report.IssuesNeedsPull -= report.IssuesPulled
	} else {
		report.IssuesNeedsPull = 0
	}

	// Phase: execute duplicate resolutions.
	dupOutcome := o.dups.Execute(ctx, decided, unresolved, opts.DryRun)
	report.DuplicatesDetected = dupOutcome.Detected
	report.DuplicatesResolved = dupOutcome.Resolved
	report.DuplicatesDeleted = dupOutcome.Deleted
	report.DuplicatesArchived = dupOutcome.Archived
	for id, msg := range dupOutcome.Errors {
		report.AddError(id, msg)
	}

	// Phase: update baseline. Dry runs leave all persisted state alone.
	if !opts.DryRun && report.Error == "" {
		if err := o.commitBaseline(ctx, changes, baselineMap, dupOutcome.DeletedIDs); err != nil {
			report.Error = err.Error()
		}
	}

	return report
}

// commitBaseline rebuilds the baseline from the final local state. Items
// whose pending change did not converge this cycle keep their previous
// anchor (or none), so the next cycle retries instead of treating the
// failure as synced. Ids deleted by the duplicate pass are dropped.
// Items deleted locally while the remote twin survives keep their old
// anchor as a tombstone, so the twin is recognized instead of being
// re-imported.
func (o *Orchestrator) commitBaseline(ctx context.Context, changes []IssueChange, previous map[string]BaseItemState, deletedIDs []string) error {
	issues, err := o.store.ListIssues(ctx, store.IssueListFilter{IncludeArchived: true})
	if err != nil {
		return fmt.Errorf("rebuild baseline: %w", err)
	}

	deleted := make(map[string]bool, len(deletedIDs))
	for _, id := range deletedIDs {
		deleted[id] = true
	}

	pending := make(map[string]bool)
	for _, change := range changes {
		if change.Type != ChangeNone && !o.executor.converged[change.ID] {
			pending[change.ID] = true
		}
	}

	baseline := make(map[string]BaseItemState, len(issues))
	for _, issue := range issues {
		if deleted[issue.ID] {
			continue
		}
		if pending[issue.ID] {
			if old, ok := previous[issue.ID]; ok {
				baseline[issue.ID] = old
			}
			continue
		}
		baseline[issue.ID] = StateFromIssue(issue)
	}

	for _, change := range changes {
		if deleted[change.ID] {
			continue
		}
		if change.Base == nil || change.Local != nil || change.Remote == nil {
			continue
		}
		// A pull may have restored the item; the fresh anchor wins.
		if _, ok := baseline[change.ID]; ok {
			continue
		}
		if old, ok := previous[change.ID]; ok {
			baseline[change.ID] = old
		}
	}

	return o.baseline.Save(ctx, baseline, time.Now().UTC())
}
