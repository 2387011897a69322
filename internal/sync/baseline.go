package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/shanewilkins/roadmap-sub007/internal/store"
)

// BaselineManager owns the persisted snapshot anchoring the next
// cycle's three-way comparison. Each save is transactional; a missing
// baseline means first sync, not an error.
//
// Persistence note: only id, status, assignee, title, description and
// labels survive a restart (see store.BaselineItem). Content and
// priority live in the in-memory baseline for the current process only.
type BaselineManager struct {
	store store.Store

	// cache holds the full-field baseline for the lifetime of the
	// process. The persisted rows carry only the subset of fields in
	// store.BaselineItem; within one process the richer in-memory
	// snapshot is authoritative.
	cache     map[string]BaseItemState
	cacheSync time.Time
}

// NewBaselineManager creates a manager over the given store.
func NewBaselineManager(s store.Store) *BaselineManager {
	return &BaselineManager{store: s}
}

// Load returns the baseline. Within a process the in-memory snapshot
// from the last Save is preferred; otherwise the persisted rows are
// read. ok is false on first sync.
func (m *BaselineManager) Load(ctx context.Context) (map[string]BaseItemState, time.Time, bool, error) {
	if m.cache != nil {
		baseline := make(map[string]BaseItemState, len(m.cache))
		for id, state := range m.cache {
			baseline[id] = state
		}
		return baseline, m.cacheSync, true, nil
	}

	items, err := m.store.LoadBaseline(ctx)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load baseline: %w", err)
	}

	lastSync, hasSync, err := m.store.LastSyncAt(ctx)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load baseline: %w", err)
	}

	if len(items) == 0 && !hasSync {
		return nil, time.Time{}, false, nil
	}

	baseline := make(map[string]BaseItemState, len(items))
	for _, item := range items {
		baseline[item.ID] = baselineToState(item)
	}
	return baseline, lastSync, true, nil
}

// Save replaces the whole baseline snapshot.
func (m *BaselineManager) Save(ctx context.Context, baseline map[string]BaseItemState, lastSync time.Time) error {
	items := make([]store.BaselineItem, 0, len(baseline))
	for _, state := range baseline {
		items = append(items, stateToBaseline(state))
	}
	if err := m.store.SaveBaseline(ctx, items, lastSync); err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}

	m.cache = make(map[string]BaseItemState, len(baseline))
	for id, state := range baseline {
		m.cache[id] = state
	}
	m.cacheSync = lastSync
	return nil
}

// UpdateItem marks a single item converged after a successful push or
// pull, without re-snapshotting everything.
func (m *BaselineManager) UpdateItem(ctx context.Context, state BaseItemState) error {
	if err := m.store.UpsertBaselineItem(ctx, stateToBaseline(state)); err != nil {
		return fmt.Errorf("update baseline item %s: %w", state.ID, err)
	}
	if m.cache != nil {
		m.cache[state.ID] = state
	}
	return nil
}

// RemoveItems drops ids from the baseline. Called after a duplicate
// deletion pass so stale entries can't resurface as false remote-only
// detections next cycle.
func (m *BaselineManager) RemoveItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.store.DeleteBaselineItems(ctx, ids); err != nil {
		return fmt.Errorf("remove baseline items: %w", err)
	}
	for _, id := range ids {
		delete(m.cache, id)
	}
	return nil
}

// The description column holds the one-line headline. Content and
// priority deliberately have no column; see the persistence note above.
func baselineToState(item store.BaselineItem) BaseItemState {
	return BaseItemState{
		ID:       item.ID,
		Status:   item.Status,
		Assignee: item.Assignee,
		Title:    item.Title,
		Headline: item.Description,
		Labels:   append([]string(nil), item.Labels...),
	}
}

func stateToBaseline(state BaseItemState) store.BaselineItem {
	return store.BaselineItem{
		ID:          state.ID,
		Status:      state.Status,
		Assignee:    state.Assignee,
		Title:       state.Title,
		Description: state.Headline,
		Labels:      append([]string(nil), state.Labels...),
	}
}
