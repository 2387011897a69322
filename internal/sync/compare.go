package sync

import (
	"sort"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/remote"
)

// ChangeType classifies the outcome of a three-way comparison for one item.
type ChangeType string

const (
	ChangeNone       ChangeType = "no_change"
	ChangeLocalOnly  ChangeType = "local_only"
	ChangeRemoteOnly ChangeType = "remote_only"
	ChangeBoth       ChangeType = "both_changed"
)

// SyntheticRemotePrefix keys remote items with no resolvable local id.
// They are surfaced as brand-new remote items instead of being dropped
// or merged into an unrelated local item.
const SyntheticRemotePrefix = "_remote_"

// FieldConflict records the two competing values for one field.
type FieldConflict struct {
	Local  string
	Remote string
}

// IssueChange is the per-item result of the three-way comparison.
type IssueChange struct {
	ID     string
	Base   *BaseItemState
	Local  *BaseItemState
	Remote *BaseItemState

	// Field name to new value, for fields that differ from baseline.
	LocalChanges  map[string]string
	RemoteChanges map[string]string

	Type           ChangeType
	Conflict       bool
	FieldConflicts map[string]FieldConflict

	// IsNew marks items seen for the first time on exactly one side.
	IsNew bool

	// RemoteID is the backend identifier the remote side of this change
	// was fetched under, "" when the item has no remote counterpart.
	RemoteID string
}

// Comparator computes three-way diffs of local and remote snapshots
// against the baseline.
type Comparator struct {
	backend string
	fields  []string
}

// NewComparator creates a comparator for the given backend namespace,
// comparing the default synchronized field set.
func NewComparator(backend string) *Comparator {
	return &Comparator{backend: backend, fields: DefaultSyncFields()}
}

// WithFields overrides the synchronized field set.
func (c *Comparator) WithFields(fields []string) *Comparator {
	c.fields = append([]string(nil), fields...)
	return c
}

// NormalizeRemoteKeys resolves backend-specific remote ids to local
// issue ids. The persisted link table is authoritative; where it has no
// entry, each local item's own remote-id map is consulted. Remote items
// that resolve to nothing are keyed under a synthetic id so downstream
// logic treats them as new.
//
// Returns the remote snapshot re-keyed by reconciled id, and a map from
// reconciled id back to the raw remote id.
func (c *Comparator) NormalizeRemoteKeys(local map[string]*models.Issue, remoteItems map[string]remote.Issue, links map[string]string) (map[string]remote.Issue, map[string]string) {
	// Fallback index from the local items' own remote-id maps.
	fallback := make(map[string]string)
	for id, issue := range local {
		if rid := issue.RemoteID(c.backend); rid != "" {
			fallback[rid] = id
		}
	}

	normalized := make(map[string]remote.Issue, len(remoteItems))
	remoteIDs := make(map[string]string, len(remoteItems))
	for rid, ri := range remoteItems {
		key := links[rid]
		if key == "" {
			key = fallback[rid]
		}
		if key == "" {
			key = SyntheticRemotePrefix + rid
		}
		normalized[key] = ri
		remoteIDs[key] = rid
	}
	return normalized, remoteIDs
}

// BuildState assembles the cycle's SyncState: local, remote and baseline
// partitions plus the per-side deletion sets (baseline ids a live side no
// longer has). Returns the state and a map from reconciled id back to the
// raw remote id.
func (c *Comparator) BuildState(local map[string]*models.Issue, remoteItems map[string]remote.Issue, links map[string]string, baseline map[string]BaseItemState) (*SyncState, map[string]string) {
	normalized, remoteIDs := c.NormalizeRemoteKeys(local, remoteItems, links)

	state := NewSyncState()
	for id, issue := range local {
		state.Local[id] = StateFromIssue(issue)
	}
	for id, ri := range normalized {
		state.Remote[id] = StateFromRemote(id, ri)
	}
	for id, base := range baseline {
		state.Baseline[id] = base
		if _, ok := state.Local[id]; !ok {
			state.DeletedLocal[id] = true
		}
		if _, ok := state.Remote[id]; !ok {
			state.DeletedRemote[id] = true
		}
	}
	return state, remoteIDs
}

// Analyze builds one IssueChange per item in the union of the local,
// remote and baseline id sets. A nil or empty baseline means first sync;
// classification then falls back to status-only comparison for items
// present on both sides.
func (c *Comparator) Analyze(local map[string]*models.Issue, remoteItems map[string]remote.Issue, links map[string]string, baseline map[string]BaseItemState) []IssueChange {
	state, remoteIDs := c.BuildState(local, remoteItems, links, baseline)
	return c.AnalyzeState(state, remoteIDs)
}

// AnalyzeState classifies every id present in any of the state's three
// partitions. Baseline ids missing from a live side classify as
// deletions on that side.
func (c *Comparator) AnalyzeState(state *SyncState, remoteIDs map[string]string) []IssueChange {
	ids := make(map[string]bool, len(state.Local)+len(state.Remote))
	for id := range state.Local {
		ids[id] = true
	}
	for id := range state.Remote {
		ids[id] = true
	}
	for id := range state.Baseline {
		ids[id] = true
	}

	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	firstSync := len(state.Baseline) == 0

	changes := make([]IssueChange, 0, len(ordered))
	for _, id := range ordered {
		var localState, remoteState, baseState *BaseItemState

		if s, ok := state.Local[id]; ok {
			localState = &s
		}
		if s, ok := state.Remote[id]; ok {
			remoteState = &s
		}
		if base, ok := state.Baseline[id]; ok {
			baseState = &base
		}

		change := IssueChange{
			ID:       id,
			Base:     baseState,
			Local:    localState,
			Remote:   remoteState,
			RemoteID: remoteIDs[id],
		}

		if firstSync {
			c.classifyFirstSync(&change)
		} else {
			c.classify(&change)
		}
		changes = append(changes, change)
	}
	return changes
}

// classifyFirstSync handles the no-baseline case: anything present on
// only one side is new there; items on both sides are compared by
// normalized status alone.
func (c *Comparator) classifyFirstSync(change *IssueChange) {
	switch {
	case change.Local != nil && change.Remote == nil:
		change.Type = ChangeLocalOnly
		change.IsNew = true
		change.LocalChanges = c.diffFields(nil, change.Local)
	case change.Local == nil && change.Remote != nil:
		change.Type = ChangeRemoteOnly
		change.IsNew = true
		change.RemoteChanges = c.diffFields(nil, change.Remote)
	default:
		if change.Local.FieldValue(FieldStatus) == change.Remote.FieldValue(FieldStatus) {
			change.Type = ChangeNone
			return
		}
		change.FieldConflicts = c.detectFieldConflicts(change.Local, change.Remote)
		change.LocalChanges = c.diffFields(nil, change.Local)
		change.RemoteChanges = c.diffFields(nil, change.Remote)
		change.Type = ChangeBoth
		change.Conflict = true
	}
}

// classify handles the baseline-present case. Field-level conflicts are
// detected for every item that exists on both sides regardless of the
// final classification, so callers can log near-misses.
func (c *Comparator) classify(change *IssueChange) {
	// An item absent from the baseline but present on both sides was
	// created independently on each side; treat it like a first sync
	// for that one item rather than flagging every field as changed.
	if change.Base == nil && change.Local != nil && change.Remote != nil {
		c.classifyFirstSync(change)
		return
	}

	// A baseline entry with no local twin means the item was deleted
	// locally since the last cycle.
	if change.Base != nil && change.Local == nil {
		change.RemoteChanges = c.diffFields(change.Base, change.Remote)
		switch {
		case change.Remote == nil:
			// Gone on both sides; the next baseline drops the anchor.
			change.Type = ChangeNone
		case len(change.RemoteChanges) > 0:
			// Edited remotely after the local deletion. The edit wins
			// and the item is pulled back.
			change.Type = ChangeRemoteOnly
		default:
			change.Type = ChangeLocalOnly
		}
		return
	}

	// Deleted remotely. An untouched local twin is left alone and
	// surfaced; a locally edited one is pushed, re-creating the remote
	// record.
	if change.Base != nil && change.Remote == nil {
		change.LocalChanges = c.diffFields(change.Base, change.Local)
		if len(change.LocalChanges) > 0 {
			change.Type = ChangeLocalOnly
		} else {
			change.Type = ChangeRemoteOnly
		}
		return
	}

	change.LocalChanges = c.diffFields(change.Base, change.Local)
	change.RemoteChanges = c.diffFields(change.Base, change.Remote)

	if change.Local != nil && change.Remote != nil {
		change.FieldConflicts = c.detectFieldConflicts(change.Local, change.Remote)
	}

	if change.Base == nil {
		change.IsNew = true
	}

	switch {
	case len(change.LocalChanges) > 0 && len(change.RemoteChanges) > 0:
		change.Type = ChangeBoth
		change.Conflict = true
	case len(change.LocalChanges) > 0:
		change.Type = ChangeLocalOnly
	case len(change.RemoteChanges) > 0:
		change.Type = ChangeRemoteOnly
	default:
		change.Type = ChangeNone
	}
}

// diffFields returns the synchronized fields whose value in state
// differs from base, mapped to the new value. A nil state yields an
// empty map: absence is not a field change.
func (c *Comparator) diffFields(base, state *BaseItemState) map[string]string {
	diff := make(map[string]string)
	if state == nil {
		return diff
	}
	for _, field := range c.fields {
		baseVal := base.FieldValue(field)
		val := state.FieldValue(field)
		if val != baseVal {
			diff[field] = val
		}
	}
	return diff
}

// detectFieldConflicts compares local against remote over the
// synchronized field set, normalizing empty and absent values so they
// never register as a conflict against each other.
func (c *Comparator) detectFieldConflicts(local, remoteState *BaseItemState) map[string]FieldConflict {
	conflicts := make(map[string]FieldConflict)
	for _, field := range c.fields {
		lv := local.FieldValue(field)
		rv := remoteState.FieldValue(field)
		if lv == rv {
			continue
		}
		conflicts[field] = FieldConflict{Local: lv, Remote: rv}
	}
	if len(conflicts) == 0 {
		return nil
	}
	return conflicts
}
