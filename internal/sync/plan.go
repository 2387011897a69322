package sync

import (
	"github.com/shanewilkins/roadmap-sub007/internal/models"
)

// ActionType enumerates the legal sync mutations. The set is closed;
// the executor dispatches through one exhaustive switch.
type ActionType string

const (
	ActionPush            ActionType = "push"
	ActionPull            ActionType = "pull"
	ActionCreateLocal     ActionType = "create_local"
	ActionLink            ActionType = "link"
	ActionUpdateBaseline  ActionType = "update_baseline"
	ActionResolveConflict ActionType = "resolve_conflict"
)

// Action is one idempotent, auditable mutation.
type Action struct {
	Type     ActionType
	IssueID  string
	RemoteID string
	Issue    *models.Issue
	// Winner records which side a resolve_conflict action adopted.
	Winner string
}

// SyncPlan is an ordered action list; the executor applies it strictly
// in order.
type SyncPlan struct {
	Actions []Action
	Meta    map[string]string
}

// PlannerOptions narrow which actions a plan may contain.
type PlannerOptions struct {
	PushOnly    bool
	PullOnly    bool
	ForceLocal  bool
	ForceRemote bool
}

// BuildPlan turns classified changes and resolved conflicts into an
// ordered plan: conflict resolutions first, then local creations and
// link backfills, then pushes, then pulls. Grouping pushes and pulls
// contiguously lets the executor batch them.
func BuildPlan(changes []IssueChange, resolved map[string]*ResolvedItem, opts PlannerOptions) *SyncPlan {
	plan := &SyncPlan{Meta: make(map[string]string)}

	var pushes, pulls []Action

	for _, change := range changes {
		switch change.Type {
		case ChangeNone:
			continue

		case ChangeLocalOnly:
			if opts.PullOnly {
				continue
			}
			if change.Local == nil {
				// Deleted locally; nothing to push.
				continue
			}
			pushes = append(pushes, Action{
				Type:     ActionPush,
				IssueID:  change.ID,
				RemoteID: change.RemoteID,
				Issue:    MaterializeIssue(change.ID, change.Local),
			})

		case ChangeRemoteOnly:
			if opts.PushOnly {
				continue
			}
			if change.Remote == nil {
				// Deleted remotely; nothing to pull.
				continue
			}
			if change.IsNew && change.Local == nil {
				plan.Actions = append(plan.Actions, Action{
					Type:     ActionCreateLocal,
					IssueID:  change.ID,
					RemoteID: change.RemoteID,
					Issue:    MaterializeIssue("", change.Remote),
				})
				continue
			}
			pulls = append(pulls, Action{
				Type:     ActionPull,
				IssueID:  change.ID,
				RemoteID: change.RemoteID,
			})

		case ChangeBoth:
			action, ok := conflictAction(change, resolved, opts)
			if !ok {
				continue
			}
			plan.Actions = append(plan.Actions, action)
			// A local win must be propagated to the remote; a remote
			// win is applied locally by the resolve action itself.
			if action.Winner == "local" && !opts.PullOnly {
				pushes = append(pushes, Action{
					Type:     ActionPush,
					IssueID:  change.ID,
					RemoteID: change.RemoteID,
					Issue:    action.Issue,
				})
			}
		}

		// Backfill the link table when a local item knows its remote id
		// only through its own metadata.
		if change.Local != nil && change.RemoteID != "" && change.Type != ChangeNone {
			plan.Actions = append(plan.Actions, Action{
				Type:     ActionLink,
				IssueID:  change.ID,
				RemoteID: change.RemoteID,
			})
		}
	}

	plan.Actions = append(plan.Actions, pushes...)
	plan.Actions = append(plan.Actions, pulls...)
	return plan
}

// conflictAction picks the resolution for a conflicting change. Force
// flags override whatever the resolver decided.
func conflictAction(change IssueChange, resolved map[string]*ResolvedItem, opts PlannerOptions) (Action, bool) {
	var item *models.Issue
	var winner string

	switch {
	case opts.ForceLocal && change.Local != nil:
		item = MaterializeIssue(change.ID, change.Local)
		winner = "local"
	case opts.ForceRemote && change.Remote != nil:
		item = MaterializeIssue(change.ID, change.Remote)
		winner = "remote"
	default:
		res, ok := resolved[change.ID]
		if !ok || res == nil {
			return Action{}, false
		}
		item = res.Item
		winner = res.Winner
	}

	return Action{
		Type:     ActionResolveConflict,
		IssueID:  change.ID,
		RemoteID: change.RemoteID,
		Issue:    item,
		Winner:   winner,
	}, true
}
