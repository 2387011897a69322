package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/remote"
)

func localIssue(id, title string, status models.IssueStatus) *models.Issue {
	return &models.Issue{
		ID:       id,
		Title:    title,
		Status:   status,
		Priority: models.IssuePriorityMedium,
	}
}

func baselineFromIssues(issues ...*models.Issue) map[string]BaseItemState {
	baseline := make(map[string]BaseItemState, len(issues))
	for _, issue := range issues {
		baseline[issue.ID] = StateFromIssue(issue)
	}
	return baseline
}

func changeByID(t *testing.T, changes []IssueChange, id string) IssueChange {
	t.Helper()
	for _, c := range changes {
		if c.ID == id {
			return c
		}
	}
	t.Fatalf("no change for id %s", id)
	return IssueChange{}
}

func TestNormalizeRemoteKeys_LinkTableWins(t *testing.T) {
	c := NewComparator("github")
	local := map[string]*models.Issue{
		"a": localIssue("a", "One", models.IssueStatusTodo),
	}
	remoteItems := map[string]remote.Issue{
		"42": {ID: "42", Title: "One", State: "open"},
	}
	links := map[string]string{"42": "a"}

	normalized, remoteIDs := c.NormalizeRemoteKeys(local, remoteItems, links)
	require.Len(t, normalized, 1)
	assert.Equal(t, "One", normalized["a"].Title)
	assert.Equal(t, "42", remoteIDs["a"])
}

func TestNormalizeRemoteKeys_FallsBackToIssueMetadata(t *testing.T) {
	c := NewComparator("github")
	issue := localIssue("a", "One", models.IssueStatusTodo)
	issue.SetRemoteID("github", "42")
	local := map[string]*models.Issue{"a": issue}
	remoteItems := map[string]remote.Issue{
		"42": {ID: "42", Title: "One", State: "open"},
	}

	normalized, remoteIDs := c.NormalizeRemoteKeys(local, remoteItems, nil)
	require.Contains(t, normalized, "a")
	assert.Equal(t, "42", remoteIDs["a"])
}

func TestNormalizeRemoteKeys_UnmatchedGetsSyntheticKey(t *testing.T) {
	c := NewComparator("github")
	remoteItems := map[string]remote.Issue{
		"99": {ID: "99", Title: "Stray", State: "open"},
	}

	normalized, remoteIDs := c.NormalizeRemoteKeys(nil, remoteItems, nil)
	require.Contains(t, normalized, "_remote_99")
	assert.Equal(t, "99", remoteIDs["_remote_99"])
}

func TestAnalyze_LocalOnlyChange(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)
	changed := localIssue("a", "One", models.IssueStatusInProgress)

	changes := c.Analyze(
		map[string]*models.Issue{"a": changed},
		map[string]remote.Issue{"42": {ID: "42", Title: "One", State: "open"}},
		map[string]string{"42": "a"},
		baselineFromIssues(base),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeLocalOnly, change.Type)
	assert.False(t, change.Conflict)
	assert.Equal(t, "in_progress", change.LocalChanges["status"])
	assert.Empty(t, change.RemoteChanges)
}

func TestAnalyze_RemoteOnlyChange(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)

	changes := c.Analyze(
		map[string]*models.Issue{"a": base},
		map[string]remote.Issue{"42": {ID: "42", Title: "One", State: "closed"}},
		map[string]string{"42": "a"},
		baselineFromIssues(base),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeRemoteOnly, change.Type)
	assert.Equal(t, "closed", change.RemoteChanges["status"])
}

func TestAnalyze_BothChangedIsConflict(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)
	changed := localIssue("a", "One", models.IssueStatusInProgress)

	changes := c.Analyze(
		map[string]*models.Issue{"a": changed},
		map[string]remote.Issue{"42": {ID: "42", Title: "One", State: "closed"}},
		map[string]string{"42": "a"},
		baselineFromIssues(base),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeBoth, change.Type)
	assert.True(t, change.Conflict)
	require.Contains(t, change.FieldConflicts, "status")
	assert.Equal(t, "in_progress", change.FieldConflicts["status"].Local)
	assert.Equal(t, "closed", change.FieldConflicts["status"].Remote)
}

func TestAnalyze_NoChange(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)

	changes := c.Analyze(
		map[string]*models.Issue{"a": base},
		map[string]remote.Issue{"42": {ID: "42", Title: "One", State: "open"}},
		map[string]string{"42": "a"},
		baselineFromIssues(base),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeNone, change.Type)
	assert.Empty(t, change.LocalChanges)
	assert.Empty(t, change.RemoteChanges)
}

func TestAnalyze_EveryItemClassifiedExactlyOnce(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)
	local := map[string]*models.Issue{
		"a": base,
		"b": localIssue("b", "Two", models.IssueStatusTodo),
	}
	remoteItems := map[string]remote.Issue{
		"42": {ID: "42", Title: "One", State: "open"},
		"99": {ID: "99", Title: "Stray", State: "open"},
	}

	changes := c.Analyze(local, remoteItems, map[string]string{"42": "a"}, baselineFromIssues(base))

	// Union of a, b and the synthetic stray.
	require.Len(t, changes, 3)
	seen := make(map[string]bool)
	for _, change := range changes {
		assert.False(t, seen[change.ID], "id %s classified twice", change.ID)
		seen[change.ID] = true
		assert.NotEmpty(t, change.Type)
	}
	assert.True(t, seen["_remote_99"])
}

func TestAnalyze_FirstSync_StatusOnlyComparison(t *testing.T) {
	c := NewComparator("github")
	local := localIssue("a", "One", models.IssueStatusTodo)
	local.Content = "local body"

	// Content differs but status matches: no conflict on first sync.
	changes := c.Analyze(
		map[string]*models.Issue{"a": local},
		map[string]remote.Issue{"42": {ID: "42", Title: "One", State: "open", Body: "remote body"}},
		map[string]string{"42": "a"},
		nil,
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeNone, change.Type)
}

func TestAnalyze_FirstSync_StatusMismatchConflicts(t *testing.T) {
	c := NewComparator("github")
	changes := c.Analyze(
		map[string]*models.Issue{"a": localIssue("a", "One", models.IssueStatusInProgress)},
		map[string]remote.Issue{"42": {ID: "42", Title: "One", State: "closed"}},
		map[string]string{"42": "a"},
		nil,
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeBoth, change.Type)
	assert.True(t, change.Conflict)
}

func TestAnalyze_FirstSync_OneSidedItemsAreNew(t *testing.T) {
	c := NewComparator("github")
	changes := c.Analyze(
		map[string]*models.Issue{"a": localIssue("a", "One", models.IssueStatusTodo)},
		map[string]remote.Issue{"99": {ID: "99", Title: "Stray", State: "open"}},
		nil,
		nil,
	)

	a := changeByID(t, changes, "a")
	assert.Equal(t, ChangeLocalOnly, a.Type)
	assert.True(t, a.IsNew)

	stray := changeByID(t, changes, "_remote_99")
	assert.Equal(t, ChangeRemoteOnly, stray.Type)
	assert.True(t, stray.IsNew)
	assert.Equal(t, "99", stray.RemoteID)
}

func TestAnalyze_TitleDivergenceIgnoredByDefault(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)

	changes := c.Analyze(
		map[string]*models.Issue{"a": base},
		map[string]remote.Issue{"42": {ID: "42", Title: "Renamed upstream", State: "open"}},
		map[string]string{"42": "a"},
		baselineFromIssues(base),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeNone, change.Type)
}

func TestAnalyze_LabelOrderDoesNotConflict(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)
	base.Labels = []string{"bug", "ui"}

	changes := c.Analyze(
		map[string]*models.Issue{"a": base},
		map[string]remote.Issue{"42": {ID: "42", Title: "One", State: "open", Labels: []string{"ui", "bug"}}},
		map[string]string{"42": "a"},
		baselineFromIssues(base),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeNone, change.Type)
}

func TestAnalyze_MissingBaselineEntryTreatedAsIndependentCreation(t *testing.T) {
	c := NewComparator("github")
	other := localIssue("other", "Anchor", models.IssueStatusTodo)

	// Baseline exists but has no entry for "a"; both sides have it with
	// matching status. Must not flag every field as conflicting.
	changes := c.Analyze(
		map[string]*models.Issue{
			"other": other,
			"a":     localIssue("a", "One", models.IssueStatusTodo),
		},
		map[string]remote.Issue{"42": {ID: "42", Title: "One", State: "open", Body: "remote body"}},
		map[string]string{"42": "a"},
		baselineFromIssues(other),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeNone, change.Type)
}

func TestBuildState_PopulatesDeletionSets(t *testing.T) {
	c := NewComparator("github")
	kept := localIssue("kept", "Kept", models.IssueStatusTodo)

	baseline := baselineFromIssues(
		kept,
		localIssue("gone-local", "Gone locally", models.IssueStatusTodo),
		localIssue("gone-remote", "Gone remotely", models.IssueStatusTodo),
	)

	state, remoteIDs := c.BuildState(
		map[string]*models.Issue{
			"kept":        kept,
			"gone-remote": localIssue("gone-remote", "Gone remotely", models.IssueStatusTodo),
		},
		map[string]remote.Issue{
			"1": {ID: "1", Title: "Kept", State: "open"},
			"2": {ID: "2", Title: "Gone locally", State: "open"},
		},
		map[string]string{"1": "kept", "2": "gone-local"},
		baseline,
	)

	assert.Equal(t, map[string]bool{"gone-local": true}, state.DeletedLocal)
	assert.Equal(t, map[string]bool{"gone-remote": true}, state.DeletedRemote)
	assert.Len(t, state.Baseline, 3)
	assert.Equal(t, "1", remoteIDs["kept"])
}

func TestAnalyze_LocalDeletionWinsOverUnchangedRemote(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)

	changes := c.Analyze(
		nil,
		map[string]remote.Issue{"42": {ID: "42", Title: "One", State: "open"}},
		map[string]string{"42": "a"},
		baselineFromIssues(base),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeLocalOnly, change.Type)
	assert.Nil(t, change.Local)
	assert.Empty(t, change.RemoteChanges)
}

func TestAnalyze_RemoteEditOutranksLocalDeletion(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)

	changes := c.Analyze(
		nil,
		map[string]remote.Issue{"42": {ID: "42", Title: "One", State: "closed"}},
		map[string]string{"42": "a"},
		baselineFromIssues(base),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeRemoteOnly, change.Type)
	assert.Equal(t, "closed", change.RemoteChanges["status"])
}

func TestAnalyze_RemoteDeletionWithUntouchedLocal(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)

	changes := c.Analyze(
		map[string]*models.Issue{"a": base},
		nil,
		nil,
		baselineFromIssues(base),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeRemoteOnly, change.Type)
	assert.Nil(t, change.Remote)
	assert.Empty(t, change.LocalChanges)
}

func TestAnalyze_LocalEditOutranksRemoteDeletion(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)

	changes := c.Analyze(
		map[string]*models.Issue{"a": localIssue("a", "One", models.IssueStatusInProgress)},
		nil,
		nil,
		baselineFromIssues(base),
	)

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeLocalOnly, change.Type)
	assert.Equal(t, "in_progress", change.LocalChanges["status"])
}

func TestAnalyze_ItemGoneOnBothSidesIsNoChange(t *testing.T) {
	c := NewComparator("github")
	base := localIssue("a", "One", models.IssueStatusTodo)

	changes := c.Analyze(nil, nil, nil, baselineFromIssues(base))

	change := changeByID(t, changes, "a")
	assert.Equal(t, ChangeNone, change.Type)
}

func TestParseTimestamp(t *testing.T) {
	ts, ok := ParseTimestamp("2026-03-01T10:00:00Z")
	require.True(t, ok)
	assert.Equal(t, 2026, ts.Year())

	_, ok = ParseTimestamp("")
	assert.False(t, ok)

	_, ok = ParseTimestamp("not-a-date")
	assert.False(t, ok)

	now := time.Now()
	ts, ok = ParseTimestamp(now)
	require.True(t, ok)
	assert.Equal(t, now, ts)

	_, ok = ParseTimestamp((*time.Time)(nil))
	assert.False(t, ok)
}
