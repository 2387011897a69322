package sync

import (
	"context"
	"fmt"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/remote"
	"github.com/shanewilkins/roadmap-sub007/internal/store"
)

// IssueService is the optional rich path for local item mutation. When
// nil, the executor falls back to the store directly.
type IssueService interface {
	CreateFromRemote(ctx context.Context, issue *models.Issue, remoteID string) (*models.Issue, error)
}

// Executor applies a SyncPlan strictly in plan order. With dryRun set,
// every handler is a pure no-op; no network or persisted-state call is
// made.
type Executor struct {
	client   remote.Client
	store    store.Store
	baseline *BaselineManager
	service  IssueService
	retry    RetryPolicy

	// converged tracks which local ids were successfully brought in
	// line during the current plan; it is reset on each execution.
	converged map[string]bool

	// StopOnError aborts the rest of the plan on the first
	// unrecoverable action error. Per-item batch failures are recorded,
	// never treated as unrecoverable.
	StopOnError bool
}

// NewExecutor creates an Executor. service may be nil.
func NewExecutor(client remote.Client, s store.Store, baseline *BaselineManager, service IssueService) *Executor {
	return &Executor{
		client:      client,
		store:       s,
		baseline:    baseline,
		service:     service,
		retry:       DefaultRetryPolicy(),
		StopOnError: true,
	}
}

// WithRetryPolicy overrides the remote retry policy.
func (e *Executor) WithRetryPolicy(p RetryPolicy) *Executor {
	e.retry = p
	return e
}

// Execute applies the plan and returns a fresh report.
func (e *Executor) Execute(ctx context.Context, plan *SyncPlan, dryRun bool) *SyncReport {
	report := NewSyncReport()
	report.DryRun = dryRun
	if err := e.executeInto(ctx, plan, dryRun, report); err != nil {
		report.Error = err.Error()
	}
	report.Finish()
	return report
}

// executeInto applies the plan, accumulating into an existing report.
// Contiguous push (and pull) actions are executed as one batch.
func (e *Executor) executeInto(ctx context.Context, plan *SyncPlan, dryRun bool, report *SyncReport) error {
	e.converged = make(map[string]bool)
	i := 0
	for i < len(plan.Actions) {
		action := plan.Actions[i]

		switch action.Type {
		case ActionPush:
			j := i
			for j < len(plan.Actions) && plan.Actions[j].Type == ActionPush {
				j++
			}
			if err := e.executePush(ctx, plan.Actions[i:j], dryRun, report); err != nil {
				if e.StopOnError {
					return err
				}
				report.AddError(action.IssueID, err.Error())
			}
			i = j

		case ActionPull:
			j := i
			for j < len(plan.Actions) && plan.Actions[j].Type == ActionPull {
				j++
			}
			if err := e.executePull(ctx, plan.Actions[i:j], dryRun, report); err != nil {
				if e.StopOnError {
					return err
				}
				report.AddError(action.IssueID, err.Error())
			}
			i = j

		default:
			if err := e.executeOne(ctx, action, dryRun, report); err != nil {
				if e.StopOnError {
					return err
				}
				report.AddError(action.IssueID, err.Error())
			}
			i++
		}
	}
	return nil
}

// executePush pushes a batch of queued items. A batch remote call is
// preferred for more than one item; on batch failure it degrades to
// per-item calls so one bad item can't sink the rest.
func (e *Executor) executePush(ctx context.Context, actions []Action, dryRun bool, report *SyncReport) error {
	if dryRun {
		return nil
	}

	items := make([]*models.Issue, 0, len(actions))
	for _, a := range actions {
		if a.Issue == nil {
			continue
		}
		// Materialized items lose their remote-id map; restore it from
		// the plan so a linked item is updated, not re-created.
		if a.RemoteID != "" && a.Issue.RemoteID(e.client.Backend()) == "" {
			a.Issue.SetRemoteID(e.client.Backend(), a.RemoteID)
		}
		items = append(items, a.Issue)
	}
	if len(items) == 0 {
		return nil
	}

	if len(items) > 1 {
		var result remote.PushResult
		err := e.retry.Do(ctx, func() error {
			var callErr error
			result, callErr = e.client.PushIssues(ctx, items)
			return callErr
		})
		if err == nil {
			e.recordPush(ctx, items, result, report)
			return nil
		}
		// Batch call itself failed; fall through to per-item pushes.
	}

	for _, item := range items {
		item := item
		err := e.retry.Do(ctx, func() error {
			_, callErr := e.client.PushIssue(ctx, item)
			return callErr
		})
		if err != nil {
			report.AddError(item.ID, err.Error())
			continue
		}
		report.IssuesPushed++
		e.persistRemoteLink(ctx, item, report)
		e.markConvergedLocal(ctx, item, report)
	}
	return nil
}

func (e *Executor) recordPush(ctx context.Context, items []*models.Issue, result remote.PushResult, report *SyncReport) {
	byID := make(map[string]*models.Issue, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	for _, id := range result.Pushed {
		report.IssuesPushed++
		if item, ok := byID[id]; ok {
			e.persistRemoteLink(ctx, item, report)
			e.markConvergedLocal(ctx, item, report)
		}
	}
	for id, msg := range result.Errors {
		report.AddError(id, msg)
	}
}

// persistRemoteLink records the backend id of a pushed item in the link
// table and on the stored record, so the next cycle resolves the remote
// twin instead of importing it as new. Pushing an unlinked item makes
// the client assign a fresh backend id on the in-memory copy; without
// this step that id would be lost when the process exits.
func (e *Executor) persistRemoteLink(ctx context.Context, item *models.Issue, report *SyncReport) {
	if e.store == nil {
		return
	}
	rid := item.RemoteID(e.client.Backend())
	if rid == "" {
		return
	}
	if err := e.store.LinkRemote(ctx, e.client.Backend(), rid, item.ID); err != nil {
		report.AddError(item.ID, err.Error())
		return
	}
	stored, err := e.store.GetIssue(ctx, item.ID)
	if err != nil || stored.RemoteID(e.client.Backend()) == rid {
		return
	}
	stored.SetRemoteID(e.client.Backend(), rid)
	if err := e.store.UpdateIssue(ctx, stored); err != nil {
		report.AddError(item.ID, err.Error())
	}
}

// executePull pulls a batch of remote ids. Pulled items are fed back to
// the baseline so they are marked converged.
func (e *Executor) executePull(ctx context.Context, actions []Action, dryRun bool, report *SyncReport) error {
	if dryRun {
		return nil
	}

	remoteIDs := make([]string, 0, len(actions))
	for _, a := range actions {
		if a.RemoteID != "" {
			remoteIDs = append(remoteIDs, a.RemoteID)
		}
	}
	if len(remoteIDs) == 0 {
		return nil
	}

	if len(remoteIDs) > 1 {
		var result remote.PullResult
		err := e.retry.Do(ctx, func() error {
			var callErr error
			result, callErr = e.client.PullIssues(ctx, remoteIDs)
			return callErr
		})
		if err == nil {
			for _, rid := range result.Pulled {
				report.IssuesPulled++
				e.markConvergedRemote(ctx, rid, report)
			}
			for id, msg := range result.Errors {
				report.AddError(id, msg)
			}
			return nil
		}
	}

	for _, rid := range remoteIDs {
		rid := rid
		err := e.retry.Do(ctx, func() error {
			_, callErr := e.client.PullIssue(ctx, rid)
			return callErr
		})
		if err != nil {
			report.AddError(rid, err.Error())
			continue
		}
		report.IssuesPulled++
		e.markConvergedRemote(ctx, rid, report)
	}
	return nil
}

// executeOne dispatches the non-batched action kinds.
func (e *Executor) executeOne(ctx context.Context, action Action, dryRun bool, report *SyncReport) error {
	if dryRun {
		return nil
	}

	switch action.Type {
	case ActionCreateLocal:
		return e.createLocal(ctx, action, report)

	case ActionLink:
		if e.store == nil {
			report.AddError(action.IssueID, "link: no local persistence available")
			return nil
		}
		if err := e.store.LinkRemote(ctx, e.client.Backend(), action.RemoteID, action.IssueID); err != nil {
			report.AddError(action.IssueID, err.Error())
		}
		return nil

	case ActionUpdateBaseline:
		if action.Issue == nil {
			return nil
		}
		if err := e.baseline.UpdateItem(ctx, StateFromIssue(action.Issue)); err != nil {
			report.AddError(action.IssueID, err.Error())
		}
		return nil

	case ActionResolveConflict:
		return e.resolveConflict(ctx, action, report)

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// createLocal materializes a brand-new remote item locally, preferring
// the rich item service when one is wired.
func (e *Executor) createLocal(ctx context.Context, action Action, report *SyncReport) error {
	if action.Issue == nil {
		return nil
	}

	if e.service != nil {
		created, err := e.service.CreateFromRemote(ctx, action.Issue, action.RemoteID)
		if err == nil {
			report.IssuesPulled++
			e.markConvergedLocal(ctx, created, report)
			return nil
		}
		// Rich path failed; try the persistence fallback.
	}

	if e.store == nil {
		report.AddError(action.RemoteID, "create_local: no local persistence available")
		return nil
	}

	issue := action.Issue
	issue.SetRemoteID(e.client.Backend(), action.RemoteID)
	if err := e.store.CreateIssue(ctx, issue); err != nil {
		report.AddError(action.RemoteID, err.Error())
		return nil
	}
	if action.RemoteID != "" {
		if err := e.store.LinkRemote(ctx, e.client.Backend(), action.RemoteID, issue.ID); err != nil {
			report.AddError(issue.ID, err.Error())
		}
	}
	report.IssuesPulled++
	e.markConvergedLocal(ctx, issue, report)
	return nil
}

// resolveConflict writes the winning record through the local store and
// notifies the remote backend best-effort.
func (e *Executor) resolveConflict(ctx context.Context, action Action, report *SyncReport) error {
	if action.Issue == nil {
		return nil
	}

	if e.store == nil {
		report.AddError(action.IssueID, "resolve_conflict: no local persistence available")
		return nil
	}

	if err := e.store.UpdateIssue(ctx, action.Issue); err != nil {
		// The conflict may be on an item that only exists remotely.
		if createErr := e.store.CreateIssue(ctx, action.Issue); createErr != nil {
			report.AddError(action.IssueID, err.Error())
			return nil
		}
	}
	report.ConflictsResolved++

	if action.RemoteID != "" {
		notifyErr := e.retry.Do(ctx, func() error {
			_, err := e.client.ResolveConflict(ctx, action.RemoteID, action.Winner)
			return err
		})
		if notifyErr != nil {
			// Audit notification is best effort.
			report.AddError(action.IssueID, fmt.Sprintf("resolve notification: %v", notifyErr))
		}
	}

	if action.Winner == "remote" {
		e.markConvergedLocal(ctx, action.Issue, report)
	}
	return nil
}

// markConvergedLocal records a single item as converged in the baseline.
func (e *Executor) markConvergedLocal(ctx context.Context, issue *models.Issue, report *SyncReport) {
	e.converged[issue.ID] = true
	if err := e.baseline.UpdateItem(ctx, StateFromIssue(issue)); err != nil {
		report.AddError(issue.ID, err.Error())
	}
}

// markConvergedRemote resolves a pulled remote id back to its local
// record and marks it converged.
func (e *Executor) markConvergedRemote(ctx context.Context, remoteID string, report *SyncReport) {
	if e.store == nil {
		return
	}
	localID, err := e.store.ResolveRemote(ctx, e.client.Backend(), remoteID)
	if err != nil || localID == "" {
		return
	}
	issue, err := e.store.GetIssue(ctx, localID)
	if err != nil {
		return
	}
	e.markConvergedLocal(ctx, issue, report)
}
