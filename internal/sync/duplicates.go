package sync

import (
	"context"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/shanewilkins/roadmap-sub007/internal/models"
	"github.com/shanewilkins/roadmap-sub007/internal/remote"
	"github.com/shanewilkins/roadmap-sub007/internal/store"
)

// DuplicateResolution is the action taken on a confirmed duplicate.
type DuplicateResolution string

const (
	// ResolutionDelete hard-removes the duplicate. Reserved for
	// near-certain matches such as id collisions.
	ResolutionDelete DuplicateResolution = "delete"
	// ResolutionArchive soft-removes the duplicate, preserving history.
	ResolutionArchive DuplicateResolution = "archive"
	// ResolutionSkip leaves the duplicate alone.
	ResolutionSkip DuplicateResolution = "skip"
)

// DuplicateMatch is one detected near-duplicate pair. KeepID is the
// record that survives, DupID the candidate for removal.
type DuplicateMatch struct {
	KeepID     string
	DupID      string
	Side       string // "local" or "remote"
	Confidence float64
	Resolution DuplicateResolution
	Reason     string
	Err        string // pre-existing error; matches carrying one are skipped
}

// DetectorConfig holds the similarity thresholds.
type DetectorConfig struct {
	// TitleThreshold and ContentThreshold gate candidate pairs.
	TitleThreshold   float64
	ContentThreshold float64
	// AutoResolveThreshold is the confidence at or above which a match
	// is resolved without human input.
	AutoResolveThreshold float64
}

// DefaultDetectorConfig returns the standard thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		TitleThreshold:       0.90,
		ContentThreshold:     0.85,
		AutoResolveThreshold: 0.95,
	}
}

// Detector finds near-duplicate items on each side independently, by
// title and content similarity.
type Detector struct {
	cfg DetectorConfig
}

// NewDetector creates a Detector with the given thresholds.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// similarity is a normalized Levenshtein ratio in [0,1].
func similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	dist := fuzzy.LevenshteinDistance(a, b)
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	return 1.0 - float64(dist)/float64(longest)
}

// dupCandidate is one comparable item regardless of side.
type dupCandidate struct {
	id      string
	title   string
	content string
	// createdRank orders candidates so the older record is kept.
	createdRank int64
}

// DetectAll scans both snapshots and returns the matches found on the
// local and remote side respectively.
func (d *Detector) DetectAll(local map[string]*models.Issue, remoteItems map[string]remote.Issue) ([]DuplicateMatch, []DuplicateMatch) {
	localCands := make([]dupCandidate, 0, len(local))
	for id, issue := range local {
		// An archived item is already a settled duplicate; matching it
		// again would archive the survivor next.
		if issue.Archived || issue.Status == models.IssueStatusArchived {
			continue
		}
		localCands = append(localCands, dupCandidate{
			id:          id,
			title:       issue.Title,
			content:     issue.Content,
			createdRank: issue.CreatedAt.UnixNano(),
		})
	}

	remoteCands := make([]dupCandidate, 0, len(remoteItems))
	for id, ri := range remoteItems {
		remoteCands = append(remoteCands, dupCandidate{
			id:      id,
			title:   ri.Title,
			content: ri.Body,
		})
	}

	return d.detect(localCands, "local"), d.detect(remoteCands, "remote")
}

func (d *Detector) detect(cands []dupCandidate, side string) []DuplicateMatch {
	// Deterministic pairing: older (or lexically first) record is kept.
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].createdRank != cands[j].createdRank {
			return cands[i].createdRank < cands[j].createdRank
		}
		return cands[i].id < cands[j].id
	})

	var matches []DuplicateMatch
	claimed := make(map[string]bool)

	for i := 0; i < len(cands); i++ {
		if claimed[cands[i].id] {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if claimed[cands[j].id] {
				continue
			}

			match, ok := d.score(cands[i], cands[j])
			if !ok {
				continue
			}
			match.Side = side
			matches = append(matches, match)
			claimed[cands[j].id] = true
		}
	}
	return matches
}

// score decides whether b duplicates a and with what confidence.
func (d *Detector) score(a, b dupCandidate) (DuplicateMatch, bool) {
	titleSim := similarity(a.title, b.title)
	if titleSim < d.cfg.TitleThreshold {
		return DuplicateMatch{}, false
	}

	contentSim := similarity(a.content, b.content)
	bothEmpty := strings.TrimSpace(a.content) == "" && strings.TrimSpace(b.content) == ""

	if !bothEmpty && contentSim < d.cfg.ContentThreshold {
		return DuplicateMatch{}, false
	}

	confidence := titleSim
	if !bothEmpty {
		confidence = 0.6*titleSim + 0.4*contentSim
	}

	match := DuplicateMatch{
		KeepID:     a.id,
		DupID:      b.id,
		Confidence: confidence,
		Reason:     "title/content similarity",
	}

	// Exact duplicates are deleted outright; fuzzy matches are archived
	// so history is preserved.
	if titleSim == 1.0 && (bothEmpty || contentSim == 1.0) {
		match.Confidence = 1.0
		match.Resolution = ResolutionDelete
		match.Reason = "identical title and content"
	} else {
		match.Resolution = ResolutionArchive
	}
	return match, true
}

// DecisionFunc asks for a manual decision on a low-confidence match.
type DecisionFunc func(DuplicateMatch) DuplicateResolution

// DuplicateResolver applies duplicate resolutions to the local store
// and to the in-memory snapshots consumed by the rest of the cycle.
type DuplicateResolver struct {
	cfg    DetectorConfig
	store  store.Store
	decide DecisionFunc
}

// NewDuplicateResolver creates a resolver. decide may be nil; matches
// below the auto-resolve threshold are then left unresolved.
func NewDuplicateResolver(cfg DetectorConfig, s store.Store, decide DecisionFunc) *DuplicateResolver {
	return &DuplicateResolver{cfg: cfg, store: s, decide: decide}
}

// DuplicateOutcome summarizes a resolution pass.
type DuplicateOutcome struct {
	Detected   int
	Resolved   int
	Deleted    int
	Archived   int
	Unresolved []DuplicateMatch
	// DeletedIDs lists ids removed from either snapshot; the baseline
	// must drop these too.
	DeletedIDs []string
	Errors     map[string]string
}

// Decide settles the resolution for each match. Remote matches are
// always returned unresolved: the backend surface has no delete, so a
// remote duplicate is reported for manual cleanup rather than claimed
// resolved. Local matches at or above the auto-resolve threshold keep
// their suggested resolution; lower confidence matches go to the manual
// decision function when the caller opted in.
func (r *DuplicateResolver) Decide(matches []DuplicateMatch, interactive bool) (decided, unresolved []DuplicateMatch) {
	for _, match := range matches {
		if match.Side == "remote" {
			unresolved = append(unresolved, match)
			continue
		}
		if match.Err != "" {
			// Pre-errored matches are skipped, not retried.
			decided = append(decided, match)
			continue
		}
		if match.Confidence >= r.cfg.AutoResolveThreshold {
			decided = append(decided, match)
			continue
		}
		if interactive && r.decide != nil {
			match.Resolution = r.decide(match)
			decided = append(decided, match)
			continue
		}
		unresolved = append(unresolved, match)
	}
	return decided, unresolved
}

// Prune removes decided local duplicates from the snapshot so the
// three-way analysis never reasons about items about to be removed.
// Remote items are never pruned; backend duplicates stay visible to the
// analysis until someone removes them at the source.
func (r *DuplicateResolver) Prune(decided []DuplicateMatch, local map[string]*models.Issue) {
	for _, match := range decided {
		if match.Err != "" || match.Resolution == ResolutionSkip {
			continue
		}
		delete(local, match.DupID)
	}
}

// Execute applies the decided resolutions to the local store. Only
// matches actually applied count as resolved; a remote match that slips
// through decision is rerouted to the unresolved list, since nothing
// mutates the backend. With dryRun set, no store call is made but counts
// are still produced.
func (r *DuplicateResolver) Execute(ctx context.Context, decided, unresolved []DuplicateMatch, dryRun bool) DuplicateOutcome {
	outcome := DuplicateOutcome{
		Detected:   len(decided) + len(unresolved),
		Unresolved: unresolved,
		Errors:     make(map[string]string),
	}

	for _, match := range decided {
		if match.Side == "remote" {
			outcome.Unresolved = append(outcome.Unresolved, match)
			continue
		}
		if match.Err != "" {
			outcome.Errors[match.DupID] = match.Err
			continue
		}
		if match.Resolution == ResolutionSkip {
			outcome.Resolved++
			continue
		}

		if !dryRun {
			if err := r.applyLocal(ctx, match.DupID, match.Resolution); err != nil {
				outcome.Errors[match.DupID] = err.Error()
				continue
			}
		}

		outcome.Resolved++
		if match.Resolution == ResolutionDelete {
			outcome.Deleted++
			outcome.DeletedIDs = append(outcome.DeletedIDs, match.DupID)
		} else {
			outcome.Archived++
		}
	}
	return outcome
}

func (r *DuplicateResolver) applyLocal(ctx context.Context, id string, resolution DuplicateResolution) error {
	switch resolution {
	case ResolutionDelete:
		return r.store.DeleteIssue(ctx, id)
	case ResolutionArchive:
		issue, err := r.store.GetIssue(ctx, id)
		if err != nil {
			return err
		}
		issue.Status = models.IssueStatusArchived
		issue.Archived = true
		return r.store.UpdateIssue(ctx, issue)
	default:
		return nil
	}
}
