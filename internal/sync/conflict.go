package sync

import (
	"fmt"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
)

// Strategy selects how a conflicting item is collapsed into one record.
type Strategy string

const (
	// StrategyKeepLocal always returns the local record.
	StrategyKeepLocal Strategy = "keep_local"
	// StrategyKeepRemote materializes a local-shaped record from the
	// remote payload.
	StrategyKeepRemote Strategy = "keep_remote"
	// StrategyAutoMerge picks the side with the newer timestamp. The
	// local record wins ties and wins whenever the remote side has no
	// usable timestamp.
	StrategyAutoMerge Strategy = "auto_merge"
)

// ParseStrategy validates a raw strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyKeepLocal, StrategyKeepRemote, StrategyAutoMerge:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("%w: unknown conflict strategy %q", ErrValidation, s)
	}
}

// ResolvedItem pairs a conflict with the record that won it.
type ResolvedItem struct {
	ID       string
	Item     *models.Issue
	Winner   string // "local" or "remote"
	RemoteID string
}

// Resolver collapses conflicting changes into concrete records.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve produces the winning record for a single conflict.
func (r *Resolver) Resolve(change IssueChange, strategy Strategy) (*ResolvedItem, error) {
	switch strategy {
	case StrategyKeepLocal:
		if change.Local == nil {
			return nil, fmt.Errorf("resolve %s: no local state to keep", change.ID)
		}
		return r.resolved(change, change.Local, "local"), nil

	case StrategyKeepRemote:
		if change.Remote == nil {
			return nil, fmt.Errorf("resolve %s: no remote state to adopt", change.ID)
		}
		return r.resolved(change, change.Remote, "remote"), nil

	case StrategyAutoMerge:
		return r.autoMerge(change)

	default:
		return nil, fmt.Errorf("%w: unknown conflict strategy %q", ErrValidation, strategy)
	}
}

// autoMerge applies the newest-wins tie-break: a missing remote
// timestamp keeps local, a strictly newer remote adopts remote, and an
// exact tie keeps local.
func (r *Resolver) autoMerge(change IssueChange) (*ResolvedItem, error) {
	if change.Local == nil {
		if change.Remote == nil {
			return nil, fmt.Errorf("resolve %s: no state on either side", change.ID)
		}
		return r.resolved(change, change.Remote, "remote"), nil
	}
	if change.Remote == nil || !change.Remote.HasUpdatedAt {
		return r.resolved(change, change.Local, "local"), nil
	}
	if !change.Local.HasUpdatedAt {
		return r.resolved(change, change.Remote, "remote"), nil
	}
	if change.Remote.UpdatedAt.After(change.Local.UpdatedAt) {
		return r.resolved(change, change.Remote, "remote"), nil
	}
	return r.resolved(change, change.Local, "local"), nil
}

func (r *Resolver) resolved(change IssueChange, state *BaseItemState, winner string) *ResolvedItem {
	return &ResolvedItem{
		ID:       change.ID,
		Item:     MaterializeIssue(change.ID, state),
		Winner:   winner,
		RemoteID: change.RemoteID,
	}
}

// ResolveBatch resolves conflicts best-effort: individual failures are
// recorded and skipped. It fails only when every conflict fails.
func (r *Resolver) ResolveBatch(changes []IssueChange, strategy Strategy) ([]*ResolvedItem, map[string]string, error) {
	resolved := make([]*ResolvedItem, 0, len(changes))
	failures := make(map[string]string)

	for _, change := range changes {
		item, err := r.Resolve(change, strategy)
		if err != nil {
			failures[change.ID] = err.Error()
			continue
		}
		resolved = append(resolved, item)
	}

	if len(changes) > 0 && len(resolved) == 0 {
		return nil, failures, fmt.Errorf("all %d conflict resolutions failed", len(changes))
	}
	return resolved, failures, nil
}

// MaterializeIssue shapes a snapshot state into a local issue record.
// Enum-like fields fall back to safe defaults (todo / medium) instead of
// failing the resolution on unknown values.
func MaterializeIssue(id string, state *BaseItemState) *models.Issue {
	issue := &models.Issue{
		ID:        id,
		Title:     state.Title,
		Headline:  state.Headline,
		Content:   state.Content,
		Status:    models.ParseStatus(state.Status),
		Priority:  models.ParsePriority(state.Priority),
		Assignee:  state.Assignee,
		Labels:    append([]string(nil), state.Labels...),
		BlockedBy: append([]string(nil), state.BlockedBy...),
		Archived:  state.Archived,
	}
	if len(state.Custom) > 0 {
		issue.CustomFields = make(map[string]string, len(state.Custom))
		for k, v := range state.Custom {
			issue.CustomFields[k] = v
		}
	}
	if state.HasUpdatedAt {
		issue.UpdatedAt = state.UpdatedAt
	}
	return issue
}
